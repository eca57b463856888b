package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aicca-ai/aicca/internal/llm"
	"github.com/aicca-ai/aicca/internal/tools"
)

// toolExecutor bridges one MCP tool into the tool registry.
type toolExecutor struct {
	client *Client
	name   string
}

func (e *toolExecutor) Execute(ctx context.Context, input map[string]interface{}) (string, error) {
	return e.client.CallTool(ctx, e.name, input)
}

// RegisterAll connects every configured server and registers its advertised
// tools into the registry. A server that fails to connect is skipped with a
// warning; the rest still register.
func RegisterAll(ctx context.Context, pool *Pool, registry *tools.Registry, configs []ServerConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, cfg := range configs {
		client, err := pool.Connect(ctx, cfg)
		if err != nil {
			logger.Warn("skipping mcp server", "server", cfg.Name, "error", err)
			continue
		}

		infos, err := client.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("list tools on %s: %w", cfg.Name, err)
		}

		for _, info := range infos {
			schema := info.InputSchema
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			registry.Register(info.Name, llm.ToolDefinition{
				Name:        info.Name,
				Description: info.Description,
				InputSchema: schema,
			}, &toolExecutor{client: client, name: info.Name})
			logger.Info("registered mcp tool", "server", cfg.Name, "tool", info.Name)
		}
	}
	return nil
}

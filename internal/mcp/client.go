// Package mcp connects external MCP servers as tool sources: each tool a
// server advertises becomes an executor in the tool registry, callable from
// engine turns and toolExecute messages alike.
package mcp

import (
	"context"
	"fmt"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerConfig describes one MCP server to connect.
type ServerConfig struct {
	Name      string   `yaml:"name" json:"name"`
	Transport string   `yaml:"transport" json:"transport"` // "stdio"
	Command   string   `yaml:"command" json:"command"`
	Args      []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// ToolInfo describes a tool advertised by an MCP server.
type ToolInfo struct {
	ServerName  string
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Client wraps one MCP server connection.
type Client struct {
	config  ServerConfig
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

// NewClient creates an unconnected client.
func NewClient(config ServerConfig) *Client {
	return &Client{config: config}
}

// Connect establishes the session.
func (c *Client) Connect(ctx context.Context) error {
	impl := &mcpsdk.Implementation{
		Name:    "aicca",
		Version: "1.0.0",
	}
	c.client = mcpsdk.NewClient(impl, nil)

	switch c.config.Transport {
	case "stdio":
		cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
		transport := &mcpsdk.CommandTransport{Command: cmd}
		session, err := c.client.Connect(ctx, transport, nil)
		if err != nil {
			return fmt.Errorf("mcp connect to %s: %w", c.config.Name, err)
		}
		c.session = session
	default:
		return fmt.Errorf("unsupported MCP transport: %s", c.config.Transport)
	}

	return nil
}

// ListTools returns the tools this server advertises.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if c.session == nil {
		return nil, fmt.Errorf("mcp client not connected")
	}

	var infos []ToolInfo
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp list tools: %w", err)
		}
		schema := make(map[string]interface{})
		if tool.InputSchema != nil {
			schema["type"] = "object"
		}
		infos = append(infos, ToolInfo{
			ServerName:  c.config.Name,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return infos, nil
}

// CallTool invokes a tool and concatenates its text content.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if c.session == nil {
		return "", fmt.Errorf("mcp client not connected")
	}

	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp call tool %s: %w", name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("mcp tool %s returned error", name)
	}

	var text string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	return text, nil
}

// Close ends the session.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

package tools

import (
	"testing"
)

func TestAllowlistNilPermitsAll(t *testing.T) {
	var a *Allowlist
	if err := a.Check("anything", nil); err != nil {
		t.Errorf("nil allowlist rejected call: %v", err)
	}
}

func TestAllowlistEmptyPermitsAll(t *testing.T) {
	a, err := NewAllowlist(nil)
	if err != nil {
		t.Fatalf("NewAllowlist: %v", err)
	}
	if err := a.Check("anything", nil); err != nil {
		t.Errorf("empty allowlist rejected call: %v", err)
	}
}

func TestAllowlistNamedTools(t *testing.T) {
	a, err := NewAllowlist([]Rule{{Tool: "search"}, {Tool: "fetch"}})
	if err != nil {
		t.Fatalf("NewAllowlist: %v", err)
	}

	if err := a.Check("search", nil); err != nil {
		t.Errorf("search rejected: %v", err)
	}
	if err := a.Check("delete", nil); err == nil {
		t.Error("delete allowed, want rejection")
	}
}

func TestAllowlistCondition(t *testing.T) {
	a, err := NewAllowlist([]Rule{
		{Tool: "fetch", When: `params.url startsWith "https://"`},
	})
	if err != nil {
		t.Fatalf("NewAllowlist: %v", err)
	}

	tests := []struct {
		name    string
		params  map[string]interface{}
		wantErr bool
	}{
		{"https allowed", map[string]interface{}{"url": "https://example.com"}, false},
		{"http rejected", map[string]interface{}{"url": "http://example.com"}, true},
		{"missing param rejected", map[string]interface{}{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Check("fetch", tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAllowlistReload(t *testing.T) {
	a, err := NewAllowlist([]Rule{{Tool: "search"}})
	if err != nil {
		t.Fatalf("NewAllowlist: %v", err)
	}

	if err := a.Reload([]Rule{{Tool: "fetch"}}); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if err := a.Check("search", nil); err == nil {
		t.Error("search still allowed after reload")
	}
	if err := a.Check("fetch", nil); err != nil {
		t.Errorf("fetch rejected after reload: %v", err)
	}
}

func TestAllowlistReloadCompileErrorKeepsOldRules(t *testing.T) {
	a, err := NewAllowlist([]Rule{{Tool: "search"}})
	if err != nil {
		t.Fatalf("NewAllowlist: %v", err)
	}

	if err := a.Reload([]Rule{{Tool: "fetch", When: "((("}}); err == nil {
		t.Fatal("expected compile error")
	}
	if err := a.Check("search", nil); err != nil {
		t.Errorf("old rules lost after failed reload: %v", err)
	}
}

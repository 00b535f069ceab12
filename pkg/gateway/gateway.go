// Package gateway is the thin RPC boundary to the external MCP tool server.
// It owns tool discovery, argument normalization, and result decoding; tool
// business logic lives on the other side of the wire.
package gateway

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolDescriptor describes one externally served tool for the planner.
type ToolDescriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

type Gateway interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
	Close() error
}

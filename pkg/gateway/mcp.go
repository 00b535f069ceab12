package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// MCPGateway talks to a remote MCP tool server over streamable HTTP. The
// session is established lazily and re-established if it drops; individual
// calls are never retried.
type MCPGateway struct {
	endpoint string
	logger   zerolog.Logger
	client   *mcp.Client

	mu      sync.Mutex
	session *mcp.ClientSession
	schemas map[string]*jsonschema.Schema
}

func NewMCPGateway(endpoint, clientName, clientVersion string, logger zerolog.Logger) *MCPGateway {
	impl := &mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	return &MCPGateway{
		endpoint: endpoint,
		logger:   logger.With().Str("component", "gateway").Logger(),
		client:   mcp.NewClient(impl, nil),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

func (g *MCPGateway) connect(ctx context.Context) (*mcp.ClientSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil {
		return g.session, nil
	}
	transport := &mcp.StreamableClientTransport{Endpoint: g.endpoint}
	session, err := g.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tool server at %s: %w", g.endpoint, err)
	}
	g.logger.Info().Msgf("connected to tool server at %s", g.endpoint)
	g.session = session
	return session, nil
}

func (g *MCPGateway) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	session, err := g.connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		g.dropSession()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	descriptors := make([]ToolDescriptor, 0, len(res.Tools))
	g.mu.Lock()
	for _, tool := range res.Tools {
		schema := decodeSchema(tool.InputSchema)
		if schema == nil && tool.InputSchema != nil {
			g.logger.Warn().Msgf("tool %q has an undecodable input schema, skipping normalization", tool.Name)
		}
		descriptors = append(descriptors, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
		g.schemas[tool.Name] = schema
	}
	g.mu.Unlock()
	return descriptors, nil
}

// decodeSchema converts the untyped schema carried on the wire into a typed
// one. Over a real transport it arrives as map[string]any.
func decodeSchema(raw any) *jsonschema.Schema {
	if raw == nil {
		return nil
	}
	if s, ok := raw.(*jsonschema.Schema); ok {
		return s
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}

func (g *MCPGateway) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	session, err := g.connect(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	schema := g.schemas[name]
	g.mu.Unlock()
	normalized := NormalizeArgs(schema, args)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: normalized,
	})
	if err != nil {
		g.dropSession()
		return nil, fmt.Errorf("tool %q call failed: %w", name, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("tool %q returned an error: %s", name, firstText(res))
	}
	return decodeResult(res), nil
}

func (g *MCPGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	err := g.session.Close()
	g.session = nil
	return err
}

func (g *MCPGateway) dropSession() {
	g.mu.Lock()
	if g.session != nil {
		_ = g.session.Close()
		g.session = nil
	}
	g.mu.Unlock()
}

// NormalizeArgs coerces a scalar supplied for an array-typed parameter into a
// single-element array. Models routinely hand back a bare value where the
// schema declares a list; the tool server rejects those without this.
// Already-array values and parameters without a declared schema pass through
// unchanged.
func NormalizeArgs(schema *jsonschema.Schema, args map[string]any) map[string]any {
	if schema == nil || len(schema.Properties) == 0 || len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		prop, ok := schema.Properties[key]
		if ok && value != nil && schemaWantsArray(prop) && !isSlice(value) {
			out[key] = []any{value}
			continue
		}
		out[key] = value
	}
	return out
}

func schemaWantsArray(s *jsonschema.Schema) bool {
	if s.Type == "array" {
		return true
	}
	for _, t := range s.Types {
		if t == "array" {
			return true
		}
	}
	return false
}

func isSlice(v any) bool {
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// decodeResult maps an MCP call result to a JSON-shaped map. Structured
// content wins; otherwise the first text content is parsed as JSON, or wrapped
// under "text" when it is not JSON.
func decodeResult(res *mcp.CallToolResult) map[string]any {
	if res.StructuredContent != nil {
		if m, ok := res.StructuredContent.(map[string]any); ok {
			return m
		}
		raw, err := json.Marshal(res.StructuredContent)
		if err == nil {
			var m map[string]any
			if json.Unmarshal(raw, &m) == nil {
				return m
			}
		}
	}
	text := firstText(res)
	if text != "" {
		var m map[string]any
		if json.Unmarshal([]byte(text), &m) == nil {
			return m
		}
		return map[string]any{"text": text}
	}
	return map[string]any{}
}

func firstText(res *mcp.CallToolResult) string {
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/promptgate/promptgate/internal/errors"
)

const clientName = "promptgate"
const clientVersion = "1.0.0"

// connectivityTimeout bounds the service test handshake.
const connectivityTimeout = 5 * time.Second

func newMCPClient() *mcp.Client {
	return mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)
}

// connect establishes an MCP session for a provider. Providers of type
// http try streamable HTTP first and fall back to SSE, since many
// existing servers still speak the 2024-11-05 SSE protocol. Connect is
// one-shot on a client, so the fallback uses a fresh client.
func connect(ctx context.Context, p *Provider) (*mcp.ClientSession, error) {
	switch p.Type {
	case ProviderTypeSSE:
		session, err := newMCPClient().Connect(ctx, &mcp.SSEClientTransport{Endpoint: p.URL}, nil)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		return session, nil

	default:
		session, err := newMCPClient().Connect(ctx, &mcp.StreamableClientTransport{Endpoint: p.URL}, nil)
		if err == nil {
			return session, nil
		}
		session, sseErr := newMCPClient().Connect(ctx, &mcp.SSEClientTransport{Endpoint: p.URL}, nil)
		if sseErr != nil {
			return nil, fmt.Errorf("connect failed (tried streamable HTTP: %v; SSE: %v)", err, sseErr)
		}
		return session, nil
	}
}

// discoverProvider connects to one provider and returns its tool
// catalog. The returned catalog owns the session; Close releases it.
// The SSE transport ties its event stream to ctx, so ctx must stay
// live for as long as the catalog's tools are invoked.
func discoverProvider(ctx context.Context, p *Provider) (*Catalog, error) {
	session, err := connect(ctx, p)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeToolProvider,
			fmt.Sprintf("connect to %s failed", p.Name), err)
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return nil, apperrors.New(apperrors.ErrCodeToolProvider,
			fmt.Sprintf("list tools from %s failed", p.Name), err)
	}

	cat := &Catalog{Provider: p.Name, CloseFn: session.Close}
	for _, tool := range result.Tools {
		name := tool.Name
		cat.Defs = append(cat.Defs, NewDefinition(
			name,
			tool.Description,
			toSchemaMap(tool.InputSchema),
			func(ctx context.Context, input json.RawMessage) (string, bool, error) {
				return callTool(ctx, session, name, input)
			},
		))
	}
	return cat, nil
}

// callTool invokes one tool on an established session. The bool result
// reports tool-level failure as distinct from transport errors.
func callTool(ctx context.Context, session *mcp.ClientSession, name string, input json.RawMessage) (string, bool, error) {
	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", false, apperrors.New(apperrors.ErrCodeToolProvider,
				fmt.Sprintf("invalid arguments for tool %s", name), err)
		}
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", false, apperrors.New(apperrors.ErrCodeToolProvider,
			fmt.Sprintf("call tool %s failed", name), err)
	}
	return extractContent(result), result.IsError, nil
}

// TestProvider performs a bounded connect-and-list handshake and
// returns the number of tools the provider exposes.
func TestProvider(ctx context.Context, p *Provider) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, connectivityTimeout)
	defer cancel()

	cat, err := discoverProvider(ctx, p)
	if err != nil {
		return 0, err
	}
	defer cat.Close()
	return len(cat.Defs), nil
}

// extractContent joins the text content of a tool result.
func extractContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// toSchemaMap normalizes a tool input schema to a plain map. Schemas
// received from servers deserialize as map[string]any; anything else is
// round-tripped through JSON.
func toSchemaMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return m
}

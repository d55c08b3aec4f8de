package gateway

import (
	"context"
	"encoding/json"
	"io"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer re-exposes the gateway's methods as MCP tools, so an agent-side
// orchestrator can drive the engine through its normal tool-calling loop.
type MCPServer struct {
	server *mcp.Server
}

// NewMCPServer creates an MCPServer wrapping g.
func NewMCPServer(g *Gateway, name, version string) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	for _, t := range mcpTools() {
		server.AddTool(&mcp.Tool{
			Name:        t.name,
			Description: t.description,
			InputSchema: t.schema,
		}, toolHandler(g, t.method))
	}

	return &MCPServer{server: server}
}

// Serve reads MCP requests from in and writes responses to out, blocking
// until ctx is cancelled or the transport closes.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}
	return s.run(ctx, transport)
}

// run starts the server with the given transport. Exported via Serve for
// production use; called directly by tests with InMemoryTransport.
func (s *MCPServer) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

type mcpTool struct {
	name        string
	method      string
	description string
	schema      json.RawMessage
}

func mcpTools() []mcpTool {
	emptySchema := json.RawMessage(`{"type":"object","properties":{}}`)
	return []mcpTool{
		{
			name:        "get_entities",
			method:      "getEntities",
			description: "Scan the host page and list the togglable entities with their current visibility.",
			schema:      emptySchema,
		},
		{
			name:        "force_refresh_entities",
			method:      "forceRefreshEntities",
			description: "Force virtualized containers to render everything, then list entities. Invasive: moves scroll positions.",
			schema:      emptySchema,
		},
		{
			name:        "activate_group",
			method:      "activateGroup",
			description: "Show only the entities in the group's selection, snapshotting the prior state for restore. Activating the active group again restores instead.",
			schema:      json.RawMessage(`{"type":"object","properties":{"groupId":{"type":"string","description":"Group to activate"},"selection":{"type":"array","items":{"type":"string"},"description":"Entity ids to keep visible; empty uses the group's stored selection"}},"required":["groupId"]}`),
		},
		{
			name:        "restore_all",
			method:      "restoreAll",
			description: "Restore every entity to its visibility from before the first group activation.",
			schema:      emptySchema,
		},
	}
}

// toolHandler adapts one gateway method to an SDK ToolHandler.
func toolHandler(g *Gateway, method string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}
		result, err := g.Call(ctx, method, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}

		data, err := json.Marshal(result)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "encode result: " + err.Error()}},
				IsError: true,
			}, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	}
}

// nopWriteCloser wraps an io.Writer as an io.WriteCloser with a no-op Close.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

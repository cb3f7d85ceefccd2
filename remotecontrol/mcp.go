package remotecontrol

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes a Registry as Model Context Protocol tools: one
// long-lived server.MCPServer wrapping a fixed set of named,
// described tools, generated generically from the registry rather
// than one tool per domain query.
type MCPServer struct {
	registry   *Registry
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// NewMCPServer builds an MCPServer bound to reg. name/version are
// reported to MCP clients as the server identity.
func NewMCPServer(reg *Registry, name, version string) *MCPServer {
	m := &MCPServer{registry: reg}

	m.mcpServer = server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)
	m.registerTools()
	m.httpServer = server.NewStreamableHTTPServer(m.mcpServer)
	return m
}

// registerTools binds three generic tools against the registry: one
// to enumerate parameters, one to read a value, one to write it. A
// tool generated per parameter would need regeneration on every call
// to Register, so the remote-control surface instead exposes the
// registry itself as the MCP vocabulary.
func (m *MCPServer) registerTools() {
	m.mcpServer.AddTool(
		mcp.NewTool("list_params",
			mcp.WithDescription("List every remote-controllable modulator parameter, its description, and whether it is read-only."),
		),
		m.handleListParams,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("get_param",
			mcp.WithDescription("Read the current value of a named modulator parameter (e.g. digitalgain, gainmode, coeffile, underruns)."),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Parameter name, as returned by list_params."),
			),
		),
		m.handleGetParam,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("set_param",
			mcp.WithDescription("Write a named modulator parameter. Read-only parameters (counters, ncoefs) reject this call."),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Parameter name, as returned by list_params."),
			),
			mcp.WithString("value",
				mcp.Required(),
				mcp.Description("New value, in the parameter's own string encoding."),
			),
		),
		m.handleSetParam,
	)
}

func (m *MCPServer) handleListParams(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	for _, name := range m.registry.Names() {
		desc, readOnly, err := m.registry.Describe(name)
		if err != nil {
			continue
		}
		tag := "rw"
		if readOnly {
			tag = "ro"
		}
		fmt.Fprintf(&b, "%s [%s]: %s\n", name, tag, desc)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (m *MCPServer) handleGetParam(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("name", "")
	value, err := m.registry.GetValue(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(value), nil
}

func (m *MCPServer) handleSetParam(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("name", "")
	value := request.GetString("value", "")
	if err := m.registry.SetValue(name, value); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s set to %s", name, value)), nil
}

// HTTPHandler returns the underlying http.Handler for mounting under
// a ServeMux (e.g. mux.Handle("/mcp", srv.HTTPHandler())).
func (m *MCPServer) HTTPHandler() *server.StreamableHTTPServer {
	return m.httpServer
}

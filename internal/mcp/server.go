// Package mcp wires the tool implementations into an MCP server and exposes
// the SSE and stdio transports.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/engramhq/engram/internal/graph"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/mcp/tools"
)

// Tool is the interface all tool implementations satisfy.
type Tool interface {
	Execute(ctx context.Context, input json.RawMessage) (interface{}, error)
}

const instructions = `Engram is a knowledge graph memory server. Submit observations with
add_episode (processing is asynchronous; results appear in search shortly
after), query entities with search_nodes and relationships with
search_facts, and inspect raw inputs with get_episodes. Always search
before adding new information to avoid duplicating what is already known.`

// StatusURI is the resource URI reporting server and backend health.
const StatusURI = "engram://status"

// EngramServer wraps the mcp-go server with the tool registry.
type EngramServer struct {
	mcpServer *server.MCPServer
	store     graph.Store
	tools     map[string]Tool
	logger    *logging.Logger
	version   string
}

// NewServer creates the MCP server and registers every tool and resource.
func NewServer(deps tools.Deps, version string) *EngramServer {
	mcpServer := server.NewMCPServer(
		"Engram MCP Server",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithInstructions(instructions),
	)

	s := &EngramServer{
		mcpServer: mcpServer,
		store:     deps.Store,
		tools:     make(map[string]Tool),
		logger:    logging.GetLogger("mcp"),
		version:   version,
	}
	s.registerTools(deps)
	s.registerStatusResource()
	return s
}

func (s *EngramServer) registerTools(deps tools.Deps) {
	guard := tools.NewGuard()

	s.registerTool(
		"add_episode",
		"Add an episode to the knowledge graph. Returns immediately; the episode is processed asynchronously in namespace arrival order.",
		tools.NewAddEpisodeTool(deps),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Short name for the episode",
				},
				"body": map[string]interface{}{
					"type":        "string",
					"description": "Episode content: prose, a conversation transcript, or a JSON document",
				},
				"format": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"text", "message", "json"},
					"description": "How to interpret the body (default: text)",
				},
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "Optional: namespace to store the episode in (default: server namespace)",
				},
				"source_description": map[string]interface{}{
					"type":        "string",
					"description": "Optional: where the content came from",
				},
				"uuid": map[string]interface{}{
					"type":        "string",
					"description": "Optional: explicit episode UUID",
				},
			},
			"required": []string{"name", "body"},
		},
	)

	s.registerTool(
		"search_nodes",
		"Search the graph for entity summaries matching a query. Hybrid lexical and semantic ranking; optionally re-ranked by distance from a center node.",
		tools.NewSearchNodesTool(deps),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"namespaces": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional: namespaces to search (default: server namespace)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: maximum results (default 10)",
				},
				"center_uuid": map[string]interface{}{
					"type":        "string",
					"description": "Optional: rank results by graph distance from this node",
				},
				"label_filter": map[string]interface{}{
					"type":        "string",
					"description": "Optional: restrict results to entities carrying this label",
				},
			},
			"required": []string{"query"},
		},
	)

	s.registerTool(
		"search_facts",
		"Search the graph for facts (relationships between entities) matching a query.",
		tools.NewSearchFactsTool(deps),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"namespaces": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional: namespaces to search (default: server namespace)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: maximum results (default 10)",
				},
				"center_uuid": map[string]interface{}{
					"type":        "string",
					"description": "Optional: rank results by graph distance from this node",
				},
			},
			"required": []string{"query"},
		},
	)

	uuidSchema := func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"uuid": map[string]interface{}{
					"type":        "string",
					"description": desc,
				},
			},
			"required": []string{"uuid"},
		}
	}

	s.registerTool(
		"get_entity_edge",
		"Get a fact (entity edge) by UUID.",
		tools.NewGetEntityEdgeTool(deps),
		uuidSchema("UUID of the entity edge"),
	)
	s.registerTool(
		"delete_entity_edge",
		"Delete a fact (entity edge) by UUID.",
		tools.NewDeleteEntityEdgeTool(deps),
		uuidSchema("UUID of the entity edge to delete"),
	)
	s.registerTool(
		"delete_episode",
		"Delete an episode by UUID.",
		tools.NewDeleteEpisodeTool(deps),
		uuidSchema("UUID of the episode to delete"),
	)

	s.registerTool(
		"get_episodes",
		"List the most recent episodes of a namespace, newest first.",
		tools.NewGetEpisodesTool(deps),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "Optional: namespace to list (default: server namespace)",
				},
				"last_n": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: number of episodes to return (default 10)",
				},
			},
		},
	)

	s.registerTool(
		"clear_graph",
		"Destroy all data in the server namespace. Requires two calls: the first returns a confirmation code, the second must pass it back via auth.",
		tools.NewClearGraphTool(deps, guard),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"auth": map[string]interface{}{
					"type":        "string",
					"description": "Confirmation code from a previous call, with the confirmation suffix appended",
				},
			},
		},
	)
}

func (s *EngramServer) registerTool(name, description string, tool Tool, inputSchema map[string]interface{}) {
	s.tools[name] = tool

	schemaJSON, err := json.Marshal(inputSchema)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal schema for tool %s: %v", name, err))
	}

	mcpTool := mcp.NewToolWithRawSchema(name, description, schemaJSON)
	s.mcpServer.AddTool(mcpTool, s.createToolHandler(name, tool))
}

// createToolHandler adapts a Tool to the mcp-go handler signature. Typed
// errors are serialized so clients can branch on the kind; panics become
// internal errors instead of killing the session.
func (s *EngramServer) createToolHandler(name string, tool Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("tool %s panicked: %v", name, r)
				result = mcp.NewToolResultError(errorJSON(tools.Errorf(tools.KindInternal, "tool %s failed unexpectedly", name)))
				retErr = nil
			}
		}()

		args, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(errorJSON(tools.Errorf(tools.KindInvalidArgument, "invalid arguments: %v", err))), nil
		}

		output, err := tool.Execute(ctx, args)
		if err != nil {
			s.logger.Warn("tool %s failed: %v", name, err)
			return mcp.NewToolResultError(toolErrorJSON(err)), nil
		}

		resultJSON, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(errorJSON(tools.Errorf(tools.KindInternal, "failed to format result: %v", err))), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func (s *EngramServer) registerStatusResource() {
	resource := mcp.NewResource(
		StatusURI,
		"Server status",
		mcp.WithResourceDescription("Engram server and graph backend health"),
		mcp.WithMIMEType("application/json"),
	)

	s.mcpServer.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		status := map[string]string{"status": "ok", "message": "server is running and connected to the graph backend"}
		if err := s.store.VerifyConnectivity(ctx); err != nil {
			status["status"] = "error"
			status["message"] = fmt.Sprintf("graph backend is unreachable: %v", err)
		}

		body, err := json.Marshal(status)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      StatusURI,
				MIMEType: "application/json",
				Text:     string(body),
			},
		}, nil
	})
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *EngramServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// toolErrorJSON renders a tool failure for the wire. Unexpected error types
// are wrapped as internal.
func toolErrorJSON(err error) string {
	if terr, ok := err.(*tools.Error); ok {
		return errorJSON(terr)
	}
	return errorJSON(tools.Errorf(tools.KindInternal, "%v", err))
}

func errorJSON(terr *tools.Error) string {
	body, err := json.Marshal(terr)
	if err != nil {
		return fmt.Sprintf(`{"kind":"internal","message":%q}`, terr.Message)
	}
	return string(body)
}

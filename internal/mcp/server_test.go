package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/internal/graph"
	"github.com/engramhq/engram/internal/mcp/tools"
	"github.com/engramhq/engram/internal/schema"
)

type nopStore struct {
	pingErr error
}

func (n *nopStore) BuildIndices(ctx context.Context) error { return nil }
func (n *nopStore) AddEpisode(ctx context.Context, ep graph.Episode, schemas map[string]schema.Definition) error {
	return nil
}
func (n *nopStore) SearchNodes(ctx context.Context, q graph.SearchQuery) ([]graph.NodeResult, error) {
	return nil, nil
}
func (n *nopStore) SearchFacts(ctx context.Context, q graph.SearchQuery) ([]graph.FactResult, error) {
	return nil, nil
}
func (n *nopStore) GetEntityEdge(ctx context.Context, uuid string) (*graph.FactResult, error) {
	return nil, nil
}
func (n *nopStore) GetEpisodes(ctx context.Context, groupID string, lastN int, ref time.Time) ([]graph.EpisodicNode, error) {
	return nil, nil
}
func (n *nopStore) DeleteEntityEdge(ctx context.Context, uuid string) error { return nil }
func (n *nopStore) DeleteEpisode(ctx context.Context, uuid string) error    { return nil }
func (n *nopStore) Clear(ctx context.Context, groupID string) error         { return nil }
func (n *nopStore) RebuildCommunities(ctx context.Context, groupID string) error {
	return nil
}
func (n *nopStore) VerifyConnectivity(ctx context.Context) error { return n.pingErr }

func testServer() *EngramServer {
	return NewServer(tools.Deps{
		Store:          &nopStore{},
		DefaultGroupID: "root",
		RootGroupID:    "root",
	}, "test")
}

func TestAllToolsRegistered(t *testing.T) {
	s := testServer()

	want := []string{
		"add_episode", "search_nodes", "search_facts",
		"get_entity_edge", "delete_entity_edge",
		"get_episodes", "delete_episode", "clear_graph",
	}
	for _, name := range want {
		assert.Contains(t, s.tools, name)
	}
	assert.Len(t, s.tools, len(want))
	assert.NotNil(t, s.MCPServer())
}

type staticTool struct {
	output interface{}
	err    error
	panics bool
}

func (s *staticTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if s.panics {
		panic("boom")
	}
	return s.output, s.err
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestHandlerRendersSuccess(t *testing.T) {
	s := testServer()
	handler := s.createToolHandler("demo", &staticTool{output: map[string]string{"message": "done"}})

	result, err := handler(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"message": "done"`)
}

func TestHandlerRendersTypedError(t *testing.T) {
	s := testServer()
	handler := s.createToolHandler("demo", &staticTool{err: tools.Errorf(tools.KindNotFound, "edge missing")})

	result, err := handler(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	var rendered tools.Error
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &rendered))
	assert.Equal(t, tools.KindNotFound, rendered.Kind)
	assert.Equal(t, "edge missing", rendered.Message)
}

func TestHandlerWrapsUnexpectedError(t *testing.T) {
	s := testServer()
	handler := s.createToolHandler("demo", &staticTool{err: errors.New("plain failure")})

	result, err := handler(context.Background(), callRequest(nil))
	require.NoError(t, err)

	var rendered tools.Error
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &rendered))
	assert.Equal(t, tools.KindInternal, rendered.Kind)
}

func TestHandlerRecoversFromPanic(t *testing.T) {
	s := testServer()
	handler := s.createToolHandler("demo", &staticTool{panics: true})

	result, err := handler(context.Background(), callRequest(map[string]interface{}{"k": "v"}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	var rendered tools.Error
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &rendered))
	assert.Equal(t, tools.KindInternal, rendered.Kind)
}

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/internal/schema"
)

// fakeClient records queries and replays scripted results in order. Queries
// beyond the script return an empty result.
type fakeClient struct {
	queries []string
	results []*QueryResult
	err     error
}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }
func (f *fakeClient) Close() error                      { return nil }
func (f *fakeClient) Ping(ctx context.Context) error    { return f.err }
func (f *fakeClient) DropGraph(ctx context.Context) error {
	return nil
}

func (f *fakeClient) Query(ctx context.Context, cypher string) (*QueryResult, error) {
	f.queries = append(f.queries, cypher)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return &QueryResult{}, nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result, nil
}

type fakeExtractor struct {
	extraction *Extraction
	err        error
}

func (f *fakeExtractor) Extract(ctx context.Context, ep Episode, schemas map[string]schema.Definition) (*Extraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.extraction, nil
}

func testEpisode() Episode {
	return Episode{
		UUID:          "ep-1",
		Name:          "standup notes",
		Body:          "Alice's team owns the ingestion service",
		Format:        FormatText,
		GroupID:       "graph_abc",
		ReferenceTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAddEpisodePersistsExtraction(t *testing.T) {
	client := &fakeClient{results: []*QueryResult{
		{}, {}, {}, {}, {},
		{Stats: QueryStats{RelationshipsCreated: 1}},
	}}
	store := NewStore(client, &fakeExtractor{extraction: &Extraction{
		Entities: []ExtractedEntity{
			{Name: "Alice", Label: "Person", Summary: "team lead"},
			{Name: "ingestion service", Label: "Service", Summary: "owned by Alice's team"},
		},
		Edges: []ExtractedEdge{
			{SourceName: "Alice", TargetName: "ingestion service", Relation: "OWNS", Fact: "Alice owns the ingestion service"},
		},
	}}, nil)

	require.NoError(t, store.AddEpisode(context.Background(), testEpisode(), nil))

	// One episodic create, merge+mention per entity, one fact create.
	require.Len(t, client.queries, 6)
	assert.Contains(t, client.queries[0], "CREATE (e:Episodic")
	assert.Contains(t, client.queries[0], `Alice\'s team`)
	assert.Contains(t, client.queries[1], "MERGE (n:Entity {name: 'Alice', group_id: 'graph_abc'})")
	assert.Contains(t, client.queries[2], "MERGE (ep)-[:MENTIONS]->(n)")
	assert.Contains(t, client.queries[5], "CREATE (a)-[r:RELATES_TO")
}

func TestAddEpisodeExtractionFailure(t *testing.T) {
	client := &fakeClient{}
	store := NewStore(client, &fakeExtractor{err: errors.New("model returned garbage")}, nil)

	err := store.AddEpisode(context.Background(), testEpisode(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtraction))
	assert.Contains(t, err.Error(), "model returned garbage")
	// Nothing is written when extraction fails.
	assert.Empty(t, client.queries)
}

func TestDeleteEpisode(t *testing.T) {
	client := &fakeClient{results: []*QueryResult{
		{Stats: QueryStats{NodesDeleted: 1}},
		{Stats: QueryStats{NodesDeleted: 0}},
	}}
	store := NewStore(client, nil, nil)

	require.NoError(t, store.DeleteEpisode(context.Background(), "ep-1"))
	err := store.DeleteEpisode(context.Background(), "ep-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteEntityEdge(t *testing.T) {
	client := &fakeClient{results: []*QueryResult{
		{Stats: QueryStats{RelationshipsDeleted: 1}},
		{},
	}}
	store := NewStore(client, nil, nil)

	require.NoError(t, store.DeleteEntityEdge(context.Background(), "edge-1"))
	assert.ErrorIs(t, store.DeleteEntityEdge(context.Background(), "edge-2"), ErrNotFound)
}

func TestGetEntityEdge(t *testing.T) {
	client := &fakeClient{results: []*QueryResult{{
		Rows: [][]interface{}{{
			"edge-1", "src-1", "dst-1", "OWNS", "Alice owns the service",
			"graph_abc", "2026-03-01T10:00:00Z", "2026-03-01T10:00:00Z", nil,
		}},
	}}}
	store := NewStore(client, nil, nil)

	fact, err := store.GetEntityEdge(context.Background(), "edge-1")
	require.NoError(t, err)
	assert.Equal(t, "edge-1", fact.UUID)
	assert.Equal(t, "src-1", fact.SourceNodeUUID)
	assert.Equal(t, "OWNS", fact.Name)
	assert.Nil(t, fact.InvalidAt)

	// The wire form never carries embeddings.
	data, err := json.Marshal(fact)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "embedding")
	assert.Contains(t, string(data), `"invalid_at":null`)
}

func TestGetEntityEdgeNotFound(t *testing.T) {
	store := NewStore(&fakeClient{}, nil, nil)
	_, err := store.GetEntityEdge(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEpisodes(t *testing.T) {
	client := &fakeClient{results: []*QueryResult{{
		Rows: [][]interface{}{
			{"ep-2", "later", "body two", "text", "", "graph_abc", "2026-03-02T10:00:00Z"},
			{"ep-1", "earlier", "body one", "message", "chat", "graph_abc", "2026-03-01T10:00:00Z"},
		},
	}}}
	store := NewStore(client, nil, nil)

	episodes, err := store.GetEpisodes(context.Background(), "graph_abc", 10, time.Now())
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	assert.Equal(t, "ep-2", episodes[0].UUID)
	assert.Equal(t, "message", episodes[1].Source)
	assert.Contains(t, client.queries[0], "ORDER BY e.created_at DESC LIMIT 10")
}

func TestGetEpisodesZeroLimit(t *testing.T) {
	client := &fakeClient{}
	store := NewStore(client, nil, nil)

	episodes, err := store.GetEpisodes(context.Background(), "graph_abc", 0, time.Now())
	require.NoError(t, err)
	assert.Empty(t, episodes)
	assert.Empty(t, client.queries)
}

func TestSearchNodesLexicalOnly(t *testing.T) {
	row := func(id, name string) []interface{} {
		return []interface{}{id, name, "summary", []interface{}{"Entity"}, "graph_abc", "2026-03-01T10:00:00Z", "{}"}
	}
	client := &fakeClient{results: []*QueryResult{{
		Rows: [][]interface{}{row("n1", "alpha"), row("n2", "beta"), row("n3", "gamma")},
	}}}
	store := NewStore(client, nil, nil)

	results, err := store.SearchNodes(context.Background(), SearchQuery{
		Text:     "Alpha",
		GroupIDs: []string{"graph_abc"},
		Limit:    2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "n1", results[0].UUID)
	assert.Equal(t, []string{"Entity"}, results[0].Labels)

	// One lexical query; no embedder means no semantic pass.
	require.Len(t, client.queries, 1)
	assert.Contains(t, client.queries[0], "toLower(n.name) CONTAINS 'alpha'")
	assert.Contains(t, client.queries[0], "n.group_id IN ['graph_abc']")
}

func TestSearchNodesLabelFilter(t *testing.T) {
	client := &fakeClient{}
	store := NewStore(client, nil, nil)

	_, err := store.SearchNodes(context.Background(), SearchQuery{
		Text:        "alpha",
		GroupIDs:    []string{"graph_abc"},
		Limit:       5,
		LabelFilter: "Requirement",
	})
	require.NoError(t, err)
	require.Len(t, client.queries, 1)
	assert.Contains(t, client.queries[0], "'Requirement' IN n.labels")
}

func TestSearchEmptyInputs(t *testing.T) {
	client := &fakeClient{}
	store := NewStore(client, nil, nil)

	for _, q := range []SearchQuery{
		{Text: "", GroupIDs: []string{"g"}, Limit: 5},
		{Text: "x", GroupIDs: nil, Limit: 5},
		{Text: "x", GroupIDs: []string{"g"}, Limit: 0},
	} {
		nodes, err := store.SearchNodes(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, nodes)

		facts, err := store.SearchFacts(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, facts)
	}
	assert.Empty(t, client.queries)
}

func TestSearchFactsLexicalOnly(t *testing.T) {
	row := []interface{}{
		"edge-1", "src-1", "dst-1", "OWNS", "Alice owns the service",
		"graph_abc", "2026-03-01T10:00:00Z", "2026-03-01T10:00:00Z", nil,
	}
	client := &fakeClient{results: []*QueryResult{{Rows: [][]interface{}{row}}}}
	store := NewStore(client, nil, nil)

	facts, err := store.SearchFacts(context.Background(), SearchQuery{
		Text:     "owns",
		GroupIDs: []string{"graph_abc"},
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "edge-1", facts[0].UUID)
	assert.Contains(t, client.queries[0], "toLower(r.fact) CONTAINS 'owns'")
}

func TestClearScopedToNamespace(t *testing.T) {
	client := &fakeClient{}
	store := NewStore(client, nil, nil)

	require.NoError(t, store.Clear(context.Background(), "graph_abc"))
	require.Len(t, client.queries, 1)
	assert.True(t, strings.Contains(client.queries[0], "n.group_id = 'graph_abc'"))
	assert.Contains(t, client.queries[0], "DETACH DELETE")
}

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/internal/graph"
	"github.com/engramhq/engram/internal/schema"
)

// fakeStore records AddEpisode calls. An optional gate blocks processing
// until released and an optional failure list injects errors per episode.
type fakeStore struct {
	mu        sync.Mutex
	processed map[string][]graph.Episode
	rebuilds  []string
	failUUIDs map[string]bool
	gate      chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		processed: make(map[string][]graph.Episode),
		failUUIDs: make(map[string]bool),
	}
}

func (f *fakeStore) AddEpisode(ctx context.Context, ep graph.Episode, schemas map[string]schema.Definition) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUUIDs[ep.UUID] {
		return errors.New("simulated failure")
	}
	f.processed[ep.GroupID] = append(f.processed[ep.GroupID], ep)
	return nil
}

func (f *fakeStore) RebuildCommunities(ctx context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds = append(f.rebuilds, groupID)
	return nil
}

func (f *fakeStore) order(groupID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.processed[groupID]))
	for _, ep := range f.processed[groupID] {
		out = append(out, ep.UUID)
	}
	return out
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, eps := range f.processed {
		n += len(eps)
	}
	return n
}

func (f *fakeStore) BuildIndices(ctx context.Context) error { return nil }
func (f *fakeStore) SearchNodes(ctx context.Context, q graph.SearchQuery) ([]graph.NodeResult, error) {
	return nil, nil
}
func (f *fakeStore) SearchFacts(ctx context.Context, q graph.SearchQuery) ([]graph.FactResult, error) {
	return nil, nil
}
func (f *fakeStore) GetEntityEdge(ctx context.Context, uuid string) (*graph.FactResult, error) {
	return nil, nil
}
func (f *fakeStore) GetEpisodes(ctx context.Context, groupID string, lastN int, ref time.Time) ([]graph.EpisodicNode, error) {
	return nil, nil
}
func (f *fakeStore) DeleteEntityEdge(ctx context.Context, uuid string) error { return nil }
func (f *fakeStore) DeleteEpisode(ctx context.Context, uuid string) error    { return nil }
func (f *fakeStore) Clear(ctx context.Context, groupID string) error         { return nil }
func (f *fakeStore) VerifyConnectivity(ctx context.Context) error            { return nil }

func drain(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

// waitProcessed blocks until the store has seen n successful episodes.
// Shutdown drops queued work, so tests wait before draining.
func waitProcessed(t *testing.T, store *fakeStore, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return store.count() == n }, 5*time.Second, time.Millisecond)
}

func TestFIFOWithinNamespace(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, nil, nil)

	want := []string{"ep-1", "ep-2", "ep-3", "ep-4", "ep-5"}
	for _, id := range want {
		_, err := engine.Enqueue(graph.Episode{UUID: id, GroupID: "ns"})
		require.NoError(t, err)
	}
	waitProcessed(t, store, len(want))
	drain(t, engine)

	assert.Equal(t, want, store.order("ns"))
}

func TestNamespacesDoNotBlockEachOther(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	engine := NewEngine(store, nil, nil)

	// The first namespace is stuck at the gate; the second must still get
	// its own worker and reach the store.
	_, err := engine.Enqueue(graph.Episode{UUID: "stuck", GroupID: "a"})
	require.NoError(t, err)
	_, err = engine.Enqueue(graph.Episode{UUID: "free", GroupID: "b"})
	require.NoError(t, err)

	close(store.gate)
	waitProcessed(t, store, 2)
	drain(t, engine)

	assert.Equal(t, []string{"stuck"}, store.order("a"))
	assert.Equal(t, []string{"free"}, store.order("b"))
}

func TestEnqueueReportsPosition(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	engine := NewEngine(store, nil, nil)

	pos, err := engine.Enqueue(graph.Episode{UUID: "ep-1", GroupID: "ns"})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	// Wait for the worker to pop ep-1 and block at the gate; positions of
	// later episodes then count waiting work only.
	require.Eventually(t, func() bool { return engine.QueueDepth("ns") == 0 }, time.Second, time.Millisecond)

	pos, err = engine.Enqueue(graph.Episode{UUID: "ep-2", GroupID: "ns"})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = engine.Enqueue(graph.Episode{UUID: "ep-3", GroupID: "ns"})
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	close(store.gate)
	waitProcessed(t, store, 3)
	drain(t, engine)
	assert.Equal(t, 3, store.count())
}

func TestLenientJSONFallsBackToText(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, nil, nil)

	_, err := engine.Enqueue(graph.Episode{UUID: "bad", GroupID: "ns", Format: graph.FormatJSON, Body: "{broken"})
	require.NoError(t, err)
	_, err = engine.Enqueue(graph.Episode{UUID: "good", GroupID: "ns", Format: graph.FormatJSON, Body: `{"ok": true}`})
	require.NoError(t, err)
	waitProcessed(t, store, 2)
	drain(t, engine)

	eps := store.processed["ns"]
	require.Len(t, eps, 2)
	assert.Equal(t, graph.FormatText, eps[0].Format)
	assert.Equal(t, graph.FormatJSON, eps[1].Format)
}

func TestFailedEpisodeDoesNotStopWorker(t *testing.T) {
	store := newFakeStore()
	store.failUUIDs["ep-1"] = true
	engine := NewEngine(store, nil, nil)

	_, err := engine.Enqueue(graph.Episode{UUID: "ep-1", GroupID: "ns"})
	require.NoError(t, err)
	_, err = engine.Enqueue(graph.Episode{UUID: "ep-2", GroupID: "ns"})
	require.NoError(t, err)
	waitProcessed(t, store, 1)
	drain(t, engine)

	assert.Equal(t, []string{"ep-2"}, store.order("ns"))
	// Communities are only rebuilt after successful episodes.
	assert.Equal(t, []string{"ns"}, store.rebuilds)
}

func TestEnqueueAfterShutdown(t *testing.T) {
	engine := NewEngine(newFakeStore(), nil, nil)
	drain(t, engine)

	_, err := engine.Enqueue(graph.Episode{UUID: "late", GroupID: "ns"})
	assert.Error(t, err)
}

func TestShutdownDropsBacklog(t *testing.T) {
	store := newFakeStore()
	store.gate = make(chan struct{})
	engine := NewEngine(store, nil, nil)

	for _, id := range []string{"ep-1", "ep-2", "ep-3"} {
		_, err := engine.Enqueue(graph.Episode{UUID: id, GroupID: "ns"})
		require.NoError(t, err)
	}
	// The worker holds ep-1 at the gate; ep-2 and ep-3 are backlog.
	require.Eventually(t, func() bool { return engine.QueueDepth("ns") == 2 }, 5*time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- engine.Shutdown(ctx)
	}()

	// Release the gate only after the queues are closed, so the backlog
	// cannot sneak through.
	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.shutdown
	}, 5*time.Second, time.Millisecond)
	close(store.gate)

	require.NoError(t, <-done)
	// The in-flight episode completed; the backlog was dropped.
	assert.Equal(t, []string{"ep-1"}, store.order("ns"))
	assert.Equal(t, 0, engine.QueueDepth("ns"))
}

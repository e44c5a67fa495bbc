// Package ingest runs the asynchronous episode pipeline. Each namespace
// owns an unbounded FIFO queue drained by a single worker goroutine, so
// episodes within a namespace are processed strictly in arrival order while
// namespaces proceed in parallel.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/engramhq/engram/internal/graph"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/metrics"
	"github.com/engramhq/engram/internal/schema"
)

// Engine owns the namespace queues and their workers.
type Engine struct {
	store    graph.Store
	registry *schema.Registry
	metrics  *metrics.Metrics
	logger   *logging.Logger

	mu       sync.Mutex
	queues   map[string]*namespaceQueue
	wg       sync.WaitGroup
	shutdown bool
}

// NewEngine creates the engine. Workers are started lazily on the first
// episode of each namespace and live for the process lifetime.
func NewEngine(store graph.Store, registry *schema.Registry, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		store:    store,
		registry: registry,
		metrics:  m,
		logger:   logging.GetLogger("ingest"),
		queues:   make(map[string]*namespaceQueue),
	}
}

// Enqueue accepts an episode for background processing and returns its
// 1-based position in the namespace queue. The worker is guaranteed to be
// running before Enqueue returns.
func (e *Engine) Enqueue(ep graph.Episode) (int, error) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return 0, fmt.Errorf("ingestion engine is shut down")
	}
	q, ok := e.queues[ep.GroupID]
	if !ok {
		q = newNamespaceQueue()
		e.queues[ep.GroupID] = q
		e.wg.Add(1)
		e.metrics.Workers.Inc()
		go e.worker(ep.GroupID, q)
		e.logger.Info("started ingestion worker for namespace %s", ep.GroupID)
	}
	e.mu.Unlock()

	position := q.push(ep)
	e.metrics.EpisodesQueued.WithLabelValues(ep.GroupID).Inc()
	e.metrics.QueueDepth.Inc()
	e.logger.Debug("queued episode %s at position %d (namespace %s)", ep.UUID, position, ep.GroupID)
	return position, nil
}

// QueueDepth returns the number of waiting episodes in a namespace.
func (e *Engine) QueueDepth(groupID string) int {
	e.mu.Lock()
	q, ok := e.queues[groupID]
	e.mu.Unlock()
	if !ok {
		return 0
	}
	return q.depth()
}

// Shutdown stops accepting episodes, drops the queued backlog and waits for
// in-flight work to complete, bounded by the context deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shutdown = true
	for groupID, q := range e.queues {
		if dropped := q.close(); dropped > 0 {
			e.metrics.QueueDepth.Sub(float64(dropped))
			e.logger.Warn("dropping %d queued episodes for namespace %s", dropped, groupID)
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingestion shutdown timed out: %w", ctx.Err())
	}
}

func (e *Engine) worker(groupID string, q *namespaceQueue) {
	defer e.wg.Done()
	defer e.metrics.Workers.Dec()

	for {
		ep, ok := q.pop()
		if !ok {
			e.logger.Debug("ingestion worker for namespace %s stopped", groupID)
			return
		}
		e.process(ep)
		e.metrics.QueueDepth.Dec()
	}
}

func (e *Engine) process(ep graph.Episode) {
	// Shutdown must not interrupt an episode mid-write, so processing does
	// not inherit a request context.
	ctx, span := otel.Tracer("ingest").Start(context.Background(), "episode.process",
		trace.WithAttributes(
			attribute.String("episode.uuid", ep.UUID),
			attribute.String("namespace", ep.GroupID),
		))
	defer span.End()

	if ep.Format == graph.FormatJSON && !json.Valid([]byte(ep.Body)) {
		e.logger.Warn("episode %s declared json but body does not parse, treating as text", ep.UUID)
		ep.Format = graph.FormatText
	}

	var schemas map[string]schema.Definition
	if e.registry != nil {
		schemas = e.registry.All()
	}

	if err := e.store.AddEpisode(ctx, ep, schemas); err != nil {
		span.RecordError(err)
		e.metrics.EpisodesFailed.WithLabelValues(ep.GroupID).Inc()
		e.logger.ErrorWithErr(err, "failed to process episode %s (namespace %s)", ep.UUID, ep.GroupID)
		return
	}
	e.metrics.EpisodesProcessed.WithLabelValues(ep.GroupID).Inc()

	if err := e.store.RebuildCommunities(ctx, ep.GroupID); err != nil {
		e.logger.Warn("community rebuild failed for namespace %s: %v", ep.GroupID, err)
	}
}

// namespaceQueue is an unbounded FIFO guarded by a condition variable.
type namespaceQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []graph.Episode
	closed bool
}

func newNamespaceQueue() *namespaceQueue {
	q := &namespaceQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a task and returns its 1-based position.
func (q *namespaceQueue) push(ep graph.Episode) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, ep)
	q.cond.Signal()
	return len(q.tasks)
}

// pop blocks until a task is available or the queue is closed.
func (q *namespaceQueue) pop() (graph.Episode, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return graph.Episode{}, false
	}
	ep := q.tasks[0]
	q.tasks = q.tasks[1:]
	return ep, true
}

func (q *namespaceQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// close discards the waiting backlog and returns how many tasks were
// dropped. A task already handed to the worker is unaffected.
func (q *namespaceQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	dropped := len(q.tasks)
	q.tasks = nil
	q.cond.Broadcast()
	return dropped
}

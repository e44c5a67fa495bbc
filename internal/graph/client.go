package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FalkorDB/falkordb-go/v2"

	"github.com/engramhq/engram/internal/logging"
)

// Client is the low-level query interface over FalkorDB. The store builds
// Cypher on top of it; tests substitute a fake.
type Client interface {
	// Connect establishes the connection and selects the graph.
	Connect(ctx context.Context) error

	// Close closes the underlying connection.
	Close() error

	// Ping checks that the backend answers queries.
	Ping(ctx context.Context) error

	// Query executes a Cypher query and returns the parsed result.
	Query(ctx context.Context, cypher string) (*QueryResult, error)

	// DropGraph removes the whole graph key. A missing graph is not an
	// error.
	DropGraph(ctx context.Context) error
}

// QueryResult is a parsed Cypher result.
type QueryResult struct {
	Columns []string
	Rows    [][]interface{}
	Stats   QueryStats
}

// QueryStats carries the mutation counters reported by the backend.
type QueryStats struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
}

// ClientConfig holds connection settings for FalkorDB.
type ClientConfig struct {
	Addr         string
	Password     string
	GraphName    string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// DefaultClientConfig returns connection defaults suitable for a local
// FalkorDB.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Addr:         "localhost:6379",
		GraphName:    "engram",
		MaxRetries:   3,
		DialTimeout:  30 * time.Second,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		PoolSize:     10,
	}
}

type falkorClient struct {
	config ClientConfig
	logger *logging.Logger
	db     *falkordb.FalkorDB
	graph  *falkordb.Graph
}

// NewClient creates a FalkorDB-backed client. Connect must be called before
// any query.
func NewClient(config ClientConfig) Client {
	return &falkorClient{
		config: config,
		logger: logging.GetLogger("graph.client"),
	}
}

func (c *falkorClient) Connect(ctx context.Context) error {
	c.logger.Info("connecting to FalkorDB at %s (graph: %s)", c.config.Addr, c.config.GraphName)

	// falkordb.ConnectionOption is an alias for redis.Options.
	connOpts := &falkordb.ConnectionOption{
		Addr:         c.config.Addr,
		Password:     c.config.Password,
		DialTimeout:  c.config.DialTimeout,
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
		PoolSize:     c.config.PoolSize,
		MaxRetries:   c.config.MaxRetries,
	}

	db, err := falkordb.FalkorDBNew(connOpts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.db = db
	c.graph = db.SelectGraph(c.config.GraphName)

	c.logger.Info("connected to FalkorDB")
	return nil
}

func (c *falkorClient) Close() error {
	if c.db != nil && c.db.Conn != nil {
		return c.db.Conn.Close()
	}
	return nil
}

func (c *falkorClient) Ping(ctx context.Context) error {
	if c.graph == nil {
		return ErrNotReady
	}
	// No dedicated ping command; a trivial query serves.
	if _, err := c.graph.Query("RETURN 1", nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *falkorClient) Query(ctx context.Context, cypher string) (*QueryResult, error) {
	if c.graph == nil {
		return nil, ErrNotReady
	}

	start := time.Now()
	result, err := c.graph.Query(cypher, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	c.logger.Debug("query took %s", time.Since(start))

	return convertResult(result), nil
}

func (c *falkorClient) DropGraph(ctx context.Context) error {
	if c.graph == nil {
		return ErrNotReady
	}

	if err := c.graph.Delete(); err != nil {
		// "empty key" means the graph was never created.
		if !strings.Contains(err.Error(), "empty key") {
			return fmt.Errorf("failed to delete graph: %w", err)
		}
	}
	// Re-select so the graph is recreated on the next write.
	c.graph = c.db.SelectGraph(c.config.GraphName)
	return nil
}

// convertResult flattens a driver result into columns, rows and mutation
// counters.
func convertResult(result *falkordb.QueryResult) *QueryResult {
	qr := &QueryResult{
		Columns: []string{},
		Rows:    [][]interface{}{},
	}

	first := true
	for result.Next() {
		record := result.Record()
		if first {
			qr.Columns = record.Keys()
			first = false
		}
		qr.Rows = append(qr.Rows, record.Values())
	}

	qr.Stats.NodesCreated = result.NodesCreated()
	qr.Stats.NodesDeleted = result.NodesDeleted()
	qr.Stats.RelationshipsCreated = result.RelationshipsCreated()
	qr.Stats.RelationshipsDeleted = result.RelationshipsDeleted()
	qr.Stats.PropertiesSet = result.PropertiesSet()
	return qr
}

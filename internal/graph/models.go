// Package graph implements the store adapter over FalkorDB. It is the only
// package that talks to the graph backend: episodes, entities and facts are
// persisted here, and hybrid search runs here.
package graph

import (
	"context"
	"time"

	"github.com/engramhq/engram/internal/schema"
)

// Format describes how an episode body is interpreted.
type Format string

const (
	FormatText    Format = "text"
	FormatMessage Format = "message"
	FormatJSON    Format = "json"
)

// ParseFormat maps a caller-supplied format string to a Format. Unknown
// values fall back to text, matching the tolerant behavior of the tool
// surface.
func ParseFormat(s string) Format {
	switch s {
	case string(FormatMessage):
		return FormatMessage
	case string(FormatJSON):
		return FormatJSON
	default:
		return FormatText
	}
}

// Episode is the unit of ingestion as accepted by the tool surface. It is
// immutable once enqueued.
type Episode struct {
	UUID              string
	Name              string
	Body              string
	Format            Format
	GroupID           string
	SourceDescription string
	ReferenceTime     time.Time
}

// EpisodicNode is the persisted form of an episode.
type EpisodicNode struct {
	UUID              string    `json:"uuid"`
	Name              string    `json:"name"`
	Body              string    `json:"body"`
	Source            string    `json:"source"`
	SourceDescription string    `json:"source_description"`
	GroupID           string    `json:"group_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// NodeResult is an entity summary returned by node search. Embeddings are
// never included.
type NodeResult struct {
	UUID       string                 `json:"uuid"`
	Name       string                 `json:"name"`
	Summary    string                 `json:"summary"`
	Labels     []string               `json:"labels"`
	GroupID    string                 `json:"group_id"`
	CreatedAt  time.Time              `json:"created_at"`
	Attributes map[string]interface{} `json:"attributes"`
}

// FactResult is an entity edge as returned to clients: the full edge record
// minus the fact embedding.
type FactResult struct {
	UUID           string     `json:"uuid"`
	SourceNodeUUID string     `json:"source_node_uuid"`
	TargetNodeUUID string     `json:"target_node_uuid"`
	Name           string     `json:"name"`
	Fact           string     `json:"fact"`
	GroupID        string     `json:"group_id"`
	CreatedAt      time.Time  `json:"created_at"`
	ValidAt        time.Time  `json:"valid_at"`
	InvalidAt      *time.Time `json:"invalid_at"`
}

// SearchQuery carries the parameters shared by node and fact search.
type SearchQuery struct {
	Text string
	// GroupIDs scopes the search; empty means no results.
	GroupIDs []string
	Limit    int
	// CenterUUID switches ranking to graph-distance-aware mode.
	CenterUUID string
	// LabelFilter restricts node results to entities carrying the label.
	// Ignored for fact search.
	LabelFilter string
}

// ExtractedEntity is one entity produced by the extractor for an episode.
type ExtractedEntity struct {
	Name       string
	Label      string
	Summary    string
	Attributes map[string]interface{}
	Embedding  []float32
}

// ExtractedEdge is one fact produced by the extractor. Source and target
// reference extracted entities by name.
type ExtractedEdge struct {
	SourceName string
	TargetName string
	Relation   string
	Fact       string
	Embedding  []float32
}

// Extraction is the full output of the extractor for a single episode.
type Extraction struct {
	Entities []ExtractedEntity
	Edges    []ExtractedEdge
}

// Extractor turns an episode body into graph mutations. Implemented by the
// LLM-backed client in internal/extract.
type Extractor interface {
	Extract(ctx context.Context, ep Episode, schemas map[string]schema.Definition) (*Extraction, error)
}

// Embedder produces a query vector for hybrid search. Implementations may
// fail; search then degrades to lexical-only ranking.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the narrow interface over the graph backend used by the tool
// dispatcher and the ingestion engine.
type Store interface {
	// BuildIndices creates indexes and constraints. Idempotent; invoked at
	// startup and after Clear.
	BuildIndices(ctx context.Context) error

	// AddEpisode runs the extractor over the episode and persists the
	// episodic node together with all extracted entities and facts.
	AddEpisode(ctx context.Context, ep Episode, schemas map[string]schema.Definition) error

	// SearchNodes performs hybrid entity search. A query matching nothing
	// returns an empty slice, never an error.
	SearchNodes(ctx context.Context, q SearchQuery) ([]NodeResult, error)

	// SearchFacts performs hybrid fact search over entity edges.
	SearchFacts(ctx context.Context, q SearchQuery) ([]FactResult, error)

	// GetEntityEdge returns the edge with the given UUID or ErrNotFound.
	GetEntityEdge(ctx context.Context, uuid string) (*FactResult, error)

	// GetEpisodes returns the most recent episodes of a namespace, newest
	// first, restricted to those at or before reference.
	GetEpisodes(ctx context.Context, groupID string, lastN int, reference time.Time) ([]EpisodicNode, error)

	// DeleteEntityEdge removes the edge or returns ErrNotFound.
	DeleteEntityEdge(ctx context.Context, uuid string) error

	// DeleteEpisode removes the episodic node or returns ErrNotFound.
	DeleteEpisode(ctx context.Context, uuid string) error

	// Clear destroys all nodes and edges in the namespace.
	Clear(ctx context.Context, groupID string) error

	// RebuildCommunities refreshes per-entity connectivity summaries for a
	// namespace. Best-effort: callers log failures and move on.
	RebuildCommunities(ctx context.Context, groupID string) error

	// VerifyConnectivity checks that the backend is reachable.
	VerifyConnectivity(ctx context.Context) error
}

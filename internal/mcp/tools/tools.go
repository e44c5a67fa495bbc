package tools

import (
	"encoding/json"
	"errors"

	"github.com/engramhq/engram/internal/graph"
)

// Enqueuer is the slice of the ingestion engine the tools need.
type Enqueuer interface {
	Enqueue(ep graph.Episode) (int, error)
}

// Deps carries the shared dependencies of the tool implementations.
type Deps struct {
	Store graph.Store
	Queue Enqueuer

	// DefaultGroupID is the namespace used when a caller omits one.
	DefaultGroupID string
	// RootGroupID is the only namespace allowed to clear the graph.
	RootGroupID string
}

const defaultLimit = 10

// resolveNamespaces applies the default namespace when the caller gave
// none.
func (d Deps) resolveNamespaces(namespaces []string) []string {
	if len(namespaces) == 0 {
		return []string{d.DefaultGroupID}
	}
	return namespaces
}

func (d Deps) resolveNamespace(namespace string) string {
	if namespace == "" {
		return d.DefaultGroupID
	}
	return namespace
}

// decodeArgs unmarshals a tool argument record, reporting malformed input
// as an invalid-argument error.
func decodeArgs(input json.RawMessage, into interface{}) *Error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, into); err != nil {
		return Errorf(KindInvalidArgument, "malformed arguments: %v", err)
	}
	return nil
}

// storeError maps graph adapter failures to tool error kinds.
func storeError(err error) *Error {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return Errorf(KindNotFound, "%v", err)
	case errors.Is(err, graph.ErrNotReady):
		return Errorf(KindNotInitialized, "%v", err)
	case errors.Is(err, graph.ErrUnavailable):
		return Errorf(KindBackendUnavailable, "%v", err)
	case errors.Is(err, graph.ErrExtraction):
		return Errorf(KindExtractionFailed, "%v", err)
	default:
		return Errorf(KindInternal, "%v", err)
	}
}

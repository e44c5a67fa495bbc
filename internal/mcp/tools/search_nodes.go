package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramhq/engram/internal/graph"
)

// SearchNodesTool performs hybrid entity search.
type SearchNodesTool struct {
	deps Deps
}

func NewSearchNodesTool(deps Deps) *SearchNodesTool {
	return &SearchNodesTool{deps: deps}
}

// SearchNodesInput is the argument record for search_nodes. Limit zero is
// valid and returns an empty list; a negative limit is rejected.
type SearchNodesInput struct {
	Query       string   `json:"query"`
	Namespaces  []string `json:"namespaces,omitempty"`
	Limit       *int     `json:"limit,omitempty"`
	CenterUUID  string   `json:"center_uuid,omitempty"`
	LabelFilter string   `json:"label_filter,omitempty"`
}

type SearchNodesOutput struct {
	Message string             `json:"message"`
	Nodes   []graph.NodeResult `json:"nodes"`
}

func (t *SearchNodesTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var params SearchNodesInput
	if err := decodeArgs(input, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Query) == "" {
		return nil, Errorf(KindInvalidArgument, "query is required")
	}
	limit, err := resolveLimit(params.Limit)
	if err != nil {
		return nil, err
	}

	nodes, serr := t.deps.Store.SearchNodes(ctx, graph.SearchQuery{
		Text:        params.Query,
		GroupIDs:    t.deps.resolveNamespaces(params.Namespaces),
		Limit:       limit,
		CenterUUID:  params.CenterUUID,
		LabelFilter: params.LabelFilter,
	})
	if serr != nil {
		return nil, storeError(serr)
	}
	if nodes == nil {
		nodes = []graph.NodeResult{}
	}

	return &SearchNodesOutput{
		Message: fmt.Sprintf("found %d nodes", len(nodes)),
		Nodes:   nodes,
	}, nil
}

// resolveLimit applies the default and rejects negatives. A nil limit means
// the caller omitted it.
func resolveLimit(limit *int) (int, *Error) {
	if limit == nil {
		return defaultLimit, nil
	}
	if *limit < 0 {
		return 0, Errorf(KindInvalidArgument, "limit must not be negative")
	}
	return *limit, nil
}

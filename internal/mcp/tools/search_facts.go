package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramhq/engram/internal/graph"
)

// SearchFactsTool performs hybrid search over entity edges.
type SearchFactsTool struct {
	deps Deps
}

func NewSearchFactsTool(deps Deps) *SearchFactsTool {
	return &SearchFactsTool{deps: deps}
}

type SearchFactsInput struct {
	Query      string   `json:"query"`
	Namespaces []string `json:"namespaces,omitempty"`
	Limit      *int     `json:"limit,omitempty"`
	CenterUUID string   `json:"center_uuid,omitempty"`
}

type SearchFactsOutput struct {
	Message string             `json:"message"`
	Facts   []graph.FactResult `json:"facts"`
}

func (t *SearchFactsTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var params SearchFactsInput
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

	facts, serr := t.deps.Store.SearchFacts(ctx, graph.SearchQuery{
		Text:       params.Query,
		GroupIDs:   t.deps.resolveNamespaces(params.Namespaces),
		Limit:      limit,
		CenterUUID: params.CenterUUID,
	})
	if serr != nil {
		return nil, storeError(serr)
	}
	if facts == nil {
		facts = []graph.FactResult{}
	}

	return &SearchFactsOutput{
		Message: fmt.Sprintf("found %d facts", len(facts)),
		Facts:   facts,
	}, nil
}

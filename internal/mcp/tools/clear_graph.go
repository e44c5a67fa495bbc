package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ClearGraphTool destroys all data in the default namespace behind the
// two-step guard. Only a server configured on the root namespace may run
// it.
type ClearGraphTool struct {
	deps  Deps
	guard *Guard
}

func NewClearGraphTool(deps Deps, guard *Guard) *ClearGraphTool {
	return &ClearGraphTool{deps: deps, guard: guard}
}

type ClearGraphInput struct {
	Auth string `json:"auth,omitempty"`
}

func (t *ClearGraphTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var params ClearGraphInput
	if err := decodeArgs(input, &params); err != nil {
		return nil, err
	}

	// Namespace restriction outranks the auth protocol.
	if t.deps.DefaultGroupID != t.deps.RootGroupID {
		return nil, Errorf(KindPermissionDenied,
			"clear_graph is only available when the server runs on the root namespace (%s), current namespace is %s",
			t.deps.RootGroupID, t.deps.DefaultGroupID)
	}

	if err := t.guard.Check(params.Auth); err != nil {
		return nil, err
	}

	if err := t.deps.Store.Clear(ctx, t.deps.DefaultGroupID); err != nil {
		return nil, storeError(err)
	}
	if err := t.deps.Store.BuildIndices(ctx); err != nil {
		return nil, storeError(err)
	}

	return &MessageOutput{
		Message: fmt.Sprintf("namespace %s cleared and indices rebuilt", t.deps.DefaultGroupID),
	}, nil
}

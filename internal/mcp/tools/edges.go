package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GetEntityEdgeTool returns a single edge record by UUID.
type GetEntityEdgeTool struct {
	deps Deps
}

func NewGetEntityEdgeTool(deps Deps) *GetEntityEdgeTool {
	return &GetEntityEdgeTool{deps: deps}
}

type EdgeInput struct {
	UUID string `json:"uuid"`
}

func (t *GetEntityEdgeTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	uuid, err := decodeEdgeInput(input)
	if err != nil {
		return nil, err
	}
	fact, serr := t.deps.Store.GetEntityEdge(ctx, uuid)
	if serr != nil {
		return nil, storeError(serr)
	}
	return fact, nil
}

// DeleteEntityEdgeTool removes an edge by UUID.
type DeleteEntityEdgeTool struct {
	deps Deps
}

func NewDeleteEntityEdgeTool(deps Deps) *DeleteEntityEdgeTool {
	return &DeleteEntityEdgeTool{deps: deps}
}

type MessageOutput struct {
	Message string `json:"message"`
}

func (t *DeleteEntityEdgeTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	uuid, err := decodeEdgeInput(input)
	if err != nil {
		return nil, err
	}
	if serr := t.deps.Store.DeleteEntityEdge(ctx, uuid); serr != nil {
		return nil, storeError(serr)
	}
	return &MessageOutput{Message: fmt.Sprintf("entity edge %s deleted", uuid)}, nil
}

func decodeEdgeInput(input json.RawMessage) (string, *Error) {
	var params EdgeInput
	if err := decodeArgs(input, &params); err != nil {
		return "", err
	}
	if strings.TrimSpace(params.UUID) == "" {
		return "", Errorf(KindInvalidArgument, "uuid is required")
	}
	return params.UUID, nil
}

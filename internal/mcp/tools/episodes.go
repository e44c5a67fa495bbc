package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/graph"
)

// GetEpisodesTool lists the most recent episodes of a namespace.
type GetEpisodesTool struct {
	deps Deps
}

func NewGetEpisodesTool(deps Deps) *GetEpisodesTool {
	return &GetEpisodesTool{deps: deps}
}

type GetEpisodesInput struct {
	Namespace string `json:"namespace,omitempty"`
	LastN     *int   `json:"last_n,omitempty"`
}

type GetEpisodesOutput struct {
	Message  string               `json:"message"`
	Episodes []graph.EpisodicNode `json:"episodes"`
}

func (t *GetEpisodesTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var params GetEpisodesInput
	if err := decodeArgs(input, &params); err != nil {
		return nil, err
	}
	lastN, err := resolveLimit(params.LastN)
	if err != nil {
		return nil, err
	}

	groupID := t.deps.resolveNamespace(params.Namespace)
	episodes, serr := t.deps.Store.GetEpisodes(ctx, groupID, lastN, time.Now().UTC())
	if serr != nil {
		return nil, storeError(serr)
	}
	if episodes == nil {
		episodes = []graph.EpisodicNode{}
	}

	return &GetEpisodesOutput{
		Message:  fmt.Sprintf("found %d episodes in namespace %s", len(episodes), groupID),
		Episodes: episodes,
	}, nil
}

// DeleteEpisodeTool removes an episodic node by UUID.
type DeleteEpisodeTool struct {
	deps Deps
}

func NewDeleteEpisodeTool(deps Deps) *DeleteEpisodeTool {
	return &DeleteEpisodeTool{deps: deps}
}

func (t *DeleteEpisodeTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var params EdgeInput
	if err := decodeArgs(input, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.UUID) == "" {
		return nil, Errorf(KindInvalidArgument, "uuid is required")
	}
	if serr := t.deps.Store.DeleteEpisode(ctx, params.UUID); serr != nil {
		return nil, storeError(serr)
	}
	return &MessageOutput{Message: fmt.Sprintf("episode %s deleted", params.UUID)}, nil
}

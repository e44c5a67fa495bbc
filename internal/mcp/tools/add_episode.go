package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/graph"
)

// AddEpisodeTool queues an episode for background ingestion.
type AddEpisodeTool struct {
	deps Deps
}

func NewAddEpisodeTool(deps Deps) *AddEpisodeTool {
	return &AddEpisodeTool{deps: deps}
}

// AddEpisodeInput is the argument record for add_episode.
type AddEpisodeInput struct {
	Name              string `json:"name"`
	Body              string `json:"body"`
	Format            string `json:"format,omitempty"`
	Namespace         string `json:"namespace,omitempty"`
	SourceDescription string `json:"source_description,omitempty"`
	UUID              string `json:"uuid,omitempty"`
}

// AddEpisodeOutput acknowledges the enqueue. Processing is asynchronous;
// the episode is not yet visible to search when this returns.
type AddEpisodeOutput struct {
	Message  string `json:"message"`
	UUID     string `json:"uuid"`
	Queued   bool   `json:"queued"`
	Position int    `json:"position"`
}

func (t *AddEpisodeTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var params AddEpisodeInput
	if err := decodeArgs(input, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, Errorf(KindInvalidArgument, "name is required")
	}
	if params.Body == "" {
		return nil, Errorf(KindInvalidArgument, "body is required")
	}

	ep := graph.Episode{
		UUID:              params.UUID,
		Name:              params.Name,
		Body:              params.Body,
		Format:            graph.ParseFormat(params.Format),
		GroupID:           t.deps.resolveNamespace(params.Namespace),
		SourceDescription: params.SourceDescription,
	}
	if ep.UUID == "" {
		ep.UUID = uuid.NewString()
	}

	position, err := t.deps.Queue.Enqueue(ep)
	if err != nil {
		return nil, Errorf(KindInternal, "failed to queue episode: %v", err)
	}

	return &AddEpisodeOutput{
		Message:  fmt.Sprintf("episode %q queued for processing (position: %d)", params.Name, position),
		UUID:     ep.UUID,
		Queued:   true,
		Position: position,
	}, nil
}

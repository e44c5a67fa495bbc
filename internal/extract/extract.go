// Package extract turns episode bodies into graph mutations using a language
// model. The model is instructed with the registered schemas and must answer
// with a JSON document; answers violating the schemas are rejected and
// retried once with the validation issues fed back.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramhq/engram/internal/graph"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/schema"
)

// LLM is the narrow model interface the extractor needs. The production
// implementation is the OpenAI-compatible backend; tests use a fake.
type LLM interface {
	// Complete sends a system and user message and returns the raw answer.
	Complete(ctx context.Context, system, user string) (string, error)

	// Embed returns an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

const maxAttempts = 2

// Client implements graph.Extractor and graph.Embedder on top of an LLM.
type Client struct {
	llm    LLM
	logger *logging.Logger
}

// NewClient creates an extractor over the given model backend.
func NewClient(llm LLM) *Client {
	return &Client{
		llm:    llm,
		logger: logging.GetLogger("extract"),
	}
}

// Extract runs the model over the episode and validates the answer against
// the schemas. Embedding failures are logged and leave the affected vectors
// empty; they never fail the extraction.
func (c *Client) Extract(ctx context.Context, ep graph.Episode, schemas map[string]schema.Definition) (*graph.Extraction, error) {
	system := buildSystemPrompt(schemas)
	user := renderEpisode(ep)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		answer, err := c.llm.Complete(ctx, system, user)
		if err != nil {
			return nil, fmt.Errorf("model request failed: %w", err)
		}

		wire, err := decodeAnswer(answer)
		if err == nil {
			err = validateExtraction(wire, schemas)
		}
		if err != nil {
			lastErr = err
			c.logger.Warn("extraction attempt %d/%d for episode %s rejected: %v",
				attempt, maxAttempts, ep.UUID, err)
			user = user + "\n\nYour previous answer was rejected: " + err.Error() +
				"\nAnswer again with a corrected JSON document."
			continue
		}

		extraction := c.toExtraction(ctx, wire)
		c.logger.Debug("extracted %d entities and %d facts from episode %s",
			len(extraction.Entities), len(extraction.Edges), ep.UUID)
		return extraction, nil
	}
	return nil, lastErr
}

// EmbedQuery implements graph.Embedder for search.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.llm.Embed(ctx, text)
}

// decodeAnswer parses the model answer, tolerating a Markdown code fence
// around the JSON document.
func decodeAnswer(answer string) (*wireExtraction, error) {
	trimmed := strings.TrimSpace(answer)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var wire wireExtraction
	dec := json.NewDecoder(strings.NewReader(trimmed))
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("answer is not valid JSON: %w", err)
	}
	return &wire, nil
}

func (c *Client) toExtraction(ctx context.Context, wire *wireExtraction) *graph.Extraction {
	out := &graph.Extraction{
		Entities: make([]graph.ExtractedEntity, 0, len(wire.Entities)),
		Edges:    make([]graph.ExtractedEdge, 0, len(wire.Facts)),
	}

	for _, ent := range wire.Entities {
		attrs := ent.Attributes
		if attrs == nil {
			attrs = map[string]interface{}{}
		}
		out.Entities = append(out.Entities, graph.ExtractedEntity{
			Name:       ent.Name,
			Label:      ent.Label,
			Summary:    ent.Summary,
			Attributes: attrs,
			Embedding:  c.embed(ctx, ent.Name+": "+ent.Summary),
		})
	}
	for _, fact := range wire.Facts {
		out.Edges = append(out.Edges, graph.ExtractedEdge{
			SourceName: fact.Source,
			TargetName: fact.Target,
			Relation:   fact.Relation,
			Fact:       fact.Fact,
			Embedding:  c.embed(ctx, fact.Fact),
		})
	}
	return out
}

func (c *Client) embed(ctx context.Context, text string) []float32 {
	vec, err := c.llm.Embed(ctx, text)
	if err != nil {
		c.logger.Warn("embedding failed, storing without vector: %v", err)
		return nil
	}
	return vec
}

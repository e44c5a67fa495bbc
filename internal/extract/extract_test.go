package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/internal/graph"
	"github.com/engramhq/engram/internal/schema"
)

// fakeLLM replays scripted answers and records the prompts it saw.
type fakeLLM struct {
	answers  []string
	prompts  []string
	embedVec []float32
	embedErr error
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	f.prompts = append(f.prompts, user)
	if f.err != nil {
		return "", f.err
	}
	if len(f.answers) == 0 {
		return "{}", nil
	}
	answer := f.answers[0]
	f.answers = f.answers[1:]
	return answer, nil
}

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.embedVec, nil
}

func requirementSchemas() map[string]schema.Definition {
	return map[string]schema.Definition{
		"Requirement": {
			Name:        "Requirement",
			Description: "a constraint that must hold",
			Fields: []schema.FieldDef{
				{Name: "name", Type: schema.FieldString, Required: true},
				{Name: "priority", Type: schema.FieldInt},
			},
		},
	}
}

const goodAnswer = `{
  "entities": [
    {"name": "latency budget", "label": "Requirement", "summary": "p99 under 200ms", "attributes": {"name": "latency budget"}},
    {"name": "checkout service", "label": "", "summary": "the service under discussion"}
  ],
  "facts": [
    {"source": "checkout service", "target": "latency budget", "relation": "MUST_MEET", "fact": "The checkout service must meet the latency budget"}
  ]
}`

func testEpisode() graph.Episode {
	return graph.Episode{UUID: "ep-1", Body: "checkout must stay under 200ms", Format: graph.FormatText, GroupID: "g"}
}

func TestExtract(t *testing.T) {
	llm := &fakeLLM{answers: []string{goodAnswer}, embedVec: []float32{0.1, 0.2}}
	client := NewClient(llm)

	extraction, err := client.Extract(context.Background(), testEpisode(), requirementSchemas())
	require.NoError(t, err)

	require.Len(t, extraction.Entities, 2)
	assert.Equal(t, "latency budget", extraction.Entities[0].Name)
	assert.Equal(t, "Requirement", extraction.Entities[0].Label)
	assert.Equal(t, []float32{0.1, 0.2}, extraction.Entities[0].Embedding)

	require.Len(t, extraction.Edges, 1)
	assert.Equal(t, "MUST_MEET", extraction.Edges[0].Relation)
	assert.Equal(t, "checkout service", extraction.Edges[0].SourceName)
}

func TestExtractToleratesCodeFence(t *testing.T) {
	llm := &fakeLLM{answers: []string{"```json\n" + goodAnswer + "\n```"}}
	client := NewClient(llm)

	extraction, err := client.Extract(context.Background(), testEpisode(), requirementSchemas())
	require.NoError(t, err)
	assert.Len(t, extraction.Entities, 2)
}

func TestExtractRetriesOnInvalidAnswer(t *testing.T) {
	bad := `{"entities": [{"name": "x", "label": "Nonexistent"}], "facts": []}`
	llm := &fakeLLM{answers: []string{bad, goodAnswer}}
	client := NewClient(llm)

	extraction, err := client.Extract(context.Background(), testEpisode(), requirementSchemas())
	require.NoError(t, err)
	assert.Len(t, extraction.Entities, 2)

	// The retry prompt carries the rejection reason.
	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[1], "rejected")
	assert.Contains(t, llm.prompts[1], "Nonexistent")
}

func TestExtractGivesUpAfterRetry(t *testing.T) {
	llm := &fakeLLM{answers: []string{"not json", "still not json"}}
	client := NewClient(llm)

	_, err := client.Extract(context.Background(), testEpisode(), nil)
	require.Error(t, err)
	assert.Len(t, llm.prompts, 2)
}

func TestExtractModelFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	client := NewClient(llm)

	_, err := client.Extract(context.Background(), testEpisode(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model request failed")
}

func TestExtractEmbeddingFailureIsNonFatal(t *testing.T) {
	llm := &fakeLLM{answers: []string{goodAnswer}, embedErr: errors.New("quota")}
	client := NewClient(llm)

	extraction, err := client.Extract(context.Background(), testEpisode(), requirementSchemas())
	require.NoError(t, err)
	assert.Nil(t, extraction.Entities[0].Embedding)
}

func TestValidateExtraction(t *testing.T) {
	schemas := requirementSchemas()

	tests := []struct {
		name string
		wire wireExtraction
		want string
	}{
		{
			name: "unknown label",
			wire: wireExtraction{Entities: []wireEntity{{Name: "x", Label: "Ghost"}}},
			want: "unknown label",
		},
		{
			name: "undeclared attribute",
			wire: wireExtraction{Entities: []wireEntity{{
				Name: "x", Label: "Requirement",
				Attributes: map[string]interface{}{"name": "x", "severity": "high"},
			}}},
			want: `attribute "severity"`,
		},
		{
			name: "missing required attribute",
			wire: wireExtraction{Entities: []wireEntity{{
				Name: "x", Label: "Requirement",
				Attributes: map[string]interface{}{"priority": 1},
			}}},
			want: `required attribute "name"`,
		},
		{
			name: "attributes without label",
			wire: wireExtraction{Entities: []wireEntity{{
				Name: "x", Attributes: map[string]interface{}{"k": "v"},
			}}},
			want: "attributes require a label",
		},
		{
			name: "fact references unknown entity",
			wire: wireExtraction{
				Entities: []wireEntity{{Name: "a"}},
				Facts:    []wireFact{{Source: "a", Target: "ghost", Fact: "a knows ghost"}},
			},
			want: `target "ghost"`,
		},
		{
			name: "empty entity name",
			wire: wireExtraction{Entities: []wireEntity{{Name: "  "}}},
			want: "name is empty",
		},
		{
			name: "duplicate entity name",
			wire: wireExtraction{Entities: []wireEntity{{Name: "a"}, {Name: "a"}}},
			want: "duplicate name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateExtraction(&tt.wire, schemas)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, validateExtraction(&wireExtraction{
		Entities: []wireEntity{{Name: "a", Label: "Requirement",
			Attributes: map[string]interface{}{"name": "a"}}},
	}, schemas))
}

func TestBuildSystemPromptListsSchemas(t *testing.T) {
	prompt := buildSystemPrompt(requirementSchemas())
	assert.Contains(t, prompt, "Requirement: a constraint that must hold")
	assert.Contains(t, prompt, "priority (int, optional)")

	empty := buildSystemPrompt(nil)
	assert.Contains(t, empty, "No entity labels are defined")
}

func TestRenderEpisodeFormats(t *testing.T) {
	msg := renderEpisode(graph.Episode{Body: "alice: hi", Format: graph.FormatMessage, SourceDescription: "chat log"})
	assert.Contains(t, msg, "Source: chat log")
	assert.Contains(t, msg, "conversation transcript")

	jsonEp := renderEpisode(graph.Episode{Body: `{"a":1}`, Format: graph.FormatJSON})
	assert.Contains(t, jsonEp, "\"a\": 1")

	text := renderEpisode(graph.Episode{Body: "plain", Format: graph.FormatText})
	assert.Equal(t, "plain", text)
}

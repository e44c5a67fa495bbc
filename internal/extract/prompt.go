package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/engramhq/engram/internal/graph"
	"github.com/engramhq/engram/internal/schema"
)

// wireExtraction is the JSON document the model must answer with.
type wireExtraction struct {
	Entities []wireEntity `json:"entities"`
	Facts    []wireFact   `json:"facts"`
}

type wireEntity struct {
	Name       string                 `json:"name"`
	Label      string                 `json:"label"`
	Summary    string                 `json:"summary"`
	Attributes map[string]interface{} `json:"attributes"`
}

type wireFact struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	Fact     string `json:"fact"`
}

// buildSystemPrompt renders the extraction instructions including every
// registered schema. Schema order is deterministic so identical registries
// produce identical prompts.
func buildSystemPrompt(schemas map[string]schema.Definition) string {
	var b strings.Builder
	b.WriteString(`You extract a knowledge graph from the text you are given.

Answer with a single JSON object of this shape:
{
  "entities": [{"name": "...", "label": "...", "summary": "...", "attributes": {}}],
  "facts": [{"source": "...", "target": "...", "relation": "...", "fact": "..."}]
}

Rules:
- Every entity name must be a short, canonical noun phrase.
- "source" and "target" of a fact must be names from "entities".
- "relation" is a SHOUT_CASE verb phrase, "fact" a one-sentence statement.
- Use only the entity labels listed below. If none applies, use an empty label and no attributes.
- "attributes" may only contain the fields declared for the chosen label. Never invent other keys.
`)

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		b.WriteString("\nNo entity labels are defined. Use an empty label for every entity.\n")
		return b.String()
	}

	b.WriteString("\nEntity labels:\n")
	for _, name := range names {
		def := schemas[name]
		fmt.Fprintf(&b, "\n%s: %s\n", def.Name, def.Description)
		for _, f := range def.Fields {
			req := "optional"
			if f.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "  - %s (%s, %s): %s\n", f.Name, f.Type, req, f.Description)
		}
	}
	return b.String()
}

// renderEpisode formats the episode body for the user message according to
// its declared format.
func renderEpisode(ep graph.Episode) string {
	var b strings.Builder
	if ep.SourceDescription != "" {
		fmt.Fprintf(&b, "Source: %s\n\n", ep.SourceDescription)
	}

	switch ep.Format {
	case graph.FormatMessage:
		b.WriteString("The following is a conversation transcript. Lines are formatted as 'speaker: text'.\n\n")
		b.WriteString(ep.Body)
	case graph.FormatJSON:
		b.WriteString("The following is a structured JSON document.\n\n")
		b.WriteString(prettyJSON(ep.Body))
	default:
		b.WriteString(ep.Body)
	}
	return b.String()
}

// prettyJSON re-indents a JSON body so the model sees its structure. Bodies
// that fail to parse pass through verbatim; leniency is resolved upstream.
func prettyJSON(body string) string {
	var value interface{}
	if err := json.Unmarshal([]byte(body), &value); err != nil {
		return body
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return body
	}
	return string(pretty)
}

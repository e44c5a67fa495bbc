package extract

import (
	"fmt"
	"strings"

	"github.com/engramhq/engram/internal/schema"
)

// ValidationError lists every way a model answer violated the schemas.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid extraction: " + strings.Join(e.Issues, "; ")
}

// validateExtraction checks the decoded answer against the registered
// schemas. All issues are collected so the retry prompt can name them all.
func validateExtraction(wire *wireExtraction, schemas map[string]schema.Definition) error {
	var issues []string

	names := map[string]bool{}
	for i, ent := range wire.Entities {
		if strings.TrimSpace(ent.Name) == "" {
			issues = append(issues, fmt.Sprintf("entities[%d]: name is empty", i))
			continue
		}
		if names[ent.Name] {
			issues = append(issues, fmt.Sprintf("entities[%d]: duplicate name %q", i, ent.Name))
		}
		names[ent.Name] = true
		issues = append(issues, validateEntity(i, ent, schemas)...)
	}

	for i, fact := range wire.Facts {
		if !names[fact.Source] {
			issues = append(issues, fmt.Sprintf("facts[%d]: source %q is not an extracted entity", i, fact.Source))
		}
		if !names[fact.Target] {
			issues = append(issues, fmt.Sprintf("facts[%d]: target %q is not an extracted entity", i, fact.Target))
		}
		if strings.TrimSpace(fact.Fact) == "" {
			issues = append(issues, fmt.Sprintf("facts[%d]: fact is empty", i))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateEntity(i int, ent wireEntity, schemas map[string]schema.Definition) []string {
	if ent.Label == "" {
		if len(ent.Attributes) > 0 {
			return []string{fmt.Sprintf("entities[%d] (%s): attributes require a label", i, ent.Name)}
		}
		return nil
	}

	def, ok := schemas[ent.Label]
	if !ok {
		return []string{fmt.Sprintf("entities[%d] (%s): unknown label %q", i, ent.Name, ent.Label)}
	}

	var issues []string
	for key := range ent.Attributes {
		if _, ok := def.Field(key); !ok {
			issues = append(issues, fmt.Sprintf("entities[%d] (%s): attribute %q is not declared for label %s",
				i, ent.Name, key, ent.Label))
		}
	}
	for _, field := range def.Fields {
		if !field.Required {
			continue
		}
		if _, present := ent.Attributes[field.Name]; !present {
			issues = append(issues, fmt.Sprintf("entities[%d] (%s): required attribute %q is missing",
				i, ent.Name, field.Name))
		}
	}
	return issues
}

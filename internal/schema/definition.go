// Package schema implements the extraction schema registry.
//
// Schemas are declarative YAML documents loaded at startup. Each schema
// names an entity kind the extractor may produce, carries instructions for
// the language model, and declares the attribute fields an extracted entity
// is allowed to have. Unknown fields in extractor output are rejected.
package schema

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FieldType is the semantic type of a schema field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDatetime FieldType = "datetime"
)

// FieldDef declares a single attribute field of a schema.
type FieldDef struct {
	Name        string    `yaml:"name" validate:"required"`
	Type        FieldType `yaml:"type" validate:"required,oneof=string int float bool datetime"`
	Required    bool      `yaml:"required"`
	Description string    `yaml:"description"`
}

// Definition is one extraction schema. The field set is ordered as declared
// in the source file; extractor output carrying keys outside this set is
// invalid.
type Definition struct {
	Name        string     `yaml:"name" validate:"required"`
	Description string     `yaml:"description" validate:"required"`
	Fields      []FieldDef `yaml:"fields" validate:"required,min=1,dive"`
}

// Field returns the named field definition, if declared.
func (d *Definition) Field(name string) (FieldDef, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

var validate = validator.New()

// Parse decodes and validates schema definitions from a YAML stream. A file
// may hold several definitions as separate YAML documents. Unknown YAML keys
// are rejected so typos in schema files surface at startup.
func Parse(r io.Reader) ([]Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var defs []Definition
	for {
		var def Definition
		err := dec.Decode(&def)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode schema document: %w", err)
		}
		if err := validate.Struct(&def); err != nil {
			return nil, fmt.Errorf("invalid schema %q: %w", def.Name, err)
		}
		seen := map[string]bool{}
		for _, f := range def.Fields {
			if seen[f.Name] {
				return nil, fmt.Errorf("invalid schema %q: duplicate field %q", def.Name, f.Name)
			}
			seen[f.Name] = true
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(data []byte) ([]Definition, error) {
	return Parse(bytes.NewReader(data))
}

// Package json analyzes JSON Schema documents into the registry field model.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"schemakeeper/internal/schema/types"
)

// Analyzer implements types.Analyzer for JSON Schema.
type Analyzer struct{}

// New creates a JSON Schema analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze compiles the schema to validate it, then extracts top-level
// properties. A property is optional when it is not listed in "required" or
// when its type includes "null"; a "default" keyword marks it defaulted.
func (a *Analyzer) Analyze(definition []byte) (*types.FieldModel, error) {
	if _, err := jsonschema.CompileString("schema.json", string(definition)); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(definition, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	required := make(map[string]bool, len(doc.Required))
	for _, name := range doc.Required {
		required[name] = true
	}

	// Walk properties in declaration order so the stored field sequence
	// matches the source document.
	names, err := propertyOrder(definition)
	if err != nil {
		return nil, err
	}

	model := &types.FieldModel{Fields: make([]types.FieldDescriptor, 0, len(names))}
	for _, name := range names {
		raw, ok := doc.Properties[name]
		if !ok {
			continue
		}
		var prop struct {
			Type    json.RawMessage `json:"type"`
			Default json.RawMessage `json:"default"`
		}
		if err := json.Unmarshal(raw, &prop); err != nil {
			return nil, fmt.Errorf("unmarshal property %q: %w", name, err)
		}

		tag, nullable := typeTag(prop.Type)
		desc := types.FieldDescriptor{
			Name:     name,
			Type:     tag,
			Optional: nullable || !required[name],
		}
		if len(prop.Default) > 0 {
			desc.HasDefault = true
			var def any
			if err := json.Unmarshal(prop.Default, &def); err != nil {
				return nil, fmt.Errorf("unmarshal default of %q: %w", name, err)
			}
			desc.Default = def
		}
		model.Fields = append(model.Fields, desc)
	}
	return model, nil
}

// typeTag normalizes the "type" keyword, which may be a string or an array
// of strings. "null" in an array marks the property nullable and is dropped
// from the tag.
func typeTag(raw json.RawMessage) (types.TypeTag, bool) {
	if len(raw) == 0 {
		return "any", false
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return types.TypeTag(single), single == "null"
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "any", false
	}
	nullable := false
	tag := types.TypeTag("any")
	for _, t := range list {
		if t == "null" {
			nullable = true
			continue
		}
		tag = types.TypeTag(t)
	}
	return tag, nullable
}

// propertyOrder returns the top-level property names in source order.
// encoding/json maps lose ordering, so this re-tokenizes the properties
// object.
func propertyOrder(definition []byte) ([]string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(definition, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	raw, ok := doc["properties"]
	if !ok {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	// Opening brace of the properties object.
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("scan properties: %w", err)
	}
	var names []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("scan properties: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("scan properties: unexpected token %v", tok)
		}
		names = append(names, name)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fmt.Errorf("scan property %q: %w", name, err)
		}
	}
	return names, nil
}

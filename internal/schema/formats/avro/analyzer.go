// Package avro analyzes Avro record schemas into the registry field model.
package avro

import (
	"fmt"

	"github.com/hamba/avro/v2"

	"schemakeeper/internal/schema/types"
)

// Analyzer implements types.Analyzer for Avro.
type Analyzer struct{}

// New creates an Avro analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze parses an Avro schema and extracts its fields. A field is optional
// when its type is a union containing "null"; its default comes from the
// schema's default clause. Non-record schemas produce an empty field model.
func (a *Analyzer) Analyze(definition []byte) (*types.FieldModel, error) {
	schema, err := avro.Parse(string(definition))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	record, ok := schema.(*avro.RecordSchema)
	if !ok {
		return &types.FieldModel{}, nil
	}

	model := &types.FieldModel{Fields: make([]types.FieldDescriptor, 0, len(record.Fields()))}
	for _, field := range record.Fields() {
		desc := types.FieldDescriptor{
			Name: field.Name(),
			Type: typeTag(field.Type()),
		}
		if union, ok := field.Type().(*avro.UnionSchema); ok {
			for _, variant := range union.Types() {
				if variant.Type() == avro.Null {
					desc.Optional = true
					break
				}
			}
		}
		if field.HasDefault() {
			desc.HasDefault = true
			desc.Default = field.Default()
		}
		model.Fields = append(model.Fields, desc)
	}
	return model, nil
}

// typeTag normalizes an Avro type to a tag the checker can compare. Unions
// collapse to their non-null branch so that "string" and ["null","string"]
// compare equal; optionality is tracked separately.
func typeTag(schema avro.Schema) types.TypeTag {
	switch s := schema.(type) {
	case *avro.UnionSchema:
		for _, variant := range s.Types() {
			if variant.Type() != avro.Null {
				return typeTag(variant)
			}
		}
		return types.TypeTag(avro.Null)
	case *avro.RecordSchema:
		return types.TypeTag("record:" + s.FullName())
	case *avro.EnumSchema:
		return types.TypeTag("enum:" + s.FullName())
	case *avro.ArraySchema:
		return types.TypeTag("array:" + string(typeTag(s.Items())))
	case *avro.MapSchema:
		return types.TypeTag("map:" + string(typeTag(s.Values())))
	case *avro.FixedSchema:
		return types.TypeTag("fixed:" + s.FullName())
	default:
		return types.TypeTag(schema.Type())
	}
}

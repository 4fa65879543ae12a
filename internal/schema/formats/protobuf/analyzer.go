// Package protobuf analyzes Protobuf file descriptors into the registry
// field model. Definitions are FileDescriptorProto messages in protojson
// form, matching how descriptors travel over the registry API.
package protobuf

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"schemakeeper/internal/schema/types"
)

// Analyzer implements types.Analyzer for Protobuf.
type Analyzer struct{}

// New creates a Protobuf analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze builds a file descriptor and extracts the fields of its first
// message. Proto3 singular fields carry implicit zero defaults, so every
// non-required field is treated as defaulted; explicit proto2 defaults are
// carried through as-is.
func (a *Analyzer) Analyze(definition []byte) (*types.FieldModel, error) {
	var fileProto descriptorpb.FileDescriptorProto
	if err := protojson.Unmarshal(definition, &fileProto); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor: %w", err)
	}

	fileDesc, err := protodesc.NewFile(&fileProto, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("build file descriptor: %w", err)
	}
	if fileDesc.Messages().Len() == 0 {
		return nil, fmt.Errorf("no message type in descriptor")
	}

	message := fileDesc.Messages().Get(0)
	fields := message.Fields()
	model := &types.FieldModel{Fields: make([]types.FieldDescriptor, 0, fields.Len())}
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		required := fd.Cardinality() == protoreflect.Required
		desc := types.FieldDescriptor{
			Name:       string(fd.Name()),
			Type:       typeTag(fd),
			Optional:   !required,
			HasDefault: !required,
		}
		if fd.HasDefault() {
			desc.Default = fd.Default().Interface()
		}
		model.Fields = append(model.Fields, desc)
	}
	return model, nil
}

func typeTag(fd protoreflect.FieldDescriptor) types.TypeTag {
	var tag string
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		tag = "message:" + string(fd.Message().FullName())
	case protoreflect.EnumKind:
		tag = "enum:" + string(fd.Enum().FullName())
	default:
		tag = fd.Kind().String()
	}
	if fd.IsList() {
		tag = "repeated:" + tag
	}
	if fd.IsMap() {
		tag = "map:" + tag
	}
	return types.TypeTag(tag)
}

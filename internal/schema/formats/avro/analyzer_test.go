package avro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemakeeper/internal/schema/types"
)

func TestAnalyze_Record(t *testing.T) {
	definition := `{
		"type": "record",
		"name": "Order",
		"fields": [
			{"name": "order_id", "type": "string"},
			{"name": "amount", "type": "int"},
			{"name": "currency", "type": ["null", "string"], "default": null},
			{"name": "region", "type": "string", "default": "eu"}
		]
	}`

	model, err := New().Analyze([]byte(definition))
	require.NoError(t, err)
	require.Len(t, model.Fields, 4)
	assert.False(t, model.Opaque)

	orderID := model.Fields[0]
	assert.Equal(t, "order_id", orderID.Name)
	assert.Equal(t, types.TypeTag("string"), orderID.Type)
	assert.False(t, orderID.Optional)
	assert.False(t, orderID.HasDefault)

	amount := model.Fields[1]
	assert.Equal(t, types.TypeTag("int"), amount.Type)

	currency := model.Fields[2]
	assert.True(t, currency.Optional)
	assert.True(t, currency.HasDefault)
	assert.Equal(t, types.TypeTag("string"), currency.Type, "union should collapse to its non-null branch")

	region := model.Fields[3]
	assert.False(t, region.Optional)
	assert.True(t, region.HasDefault)
	assert.Equal(t, "eu", region.Default)
}

func TestAnalyze_ComplexTypes(t *testing.T) {
	definition := `{
		"type": "record",
		"name": "Event",
		"fields": [
			{"name": "tags", "type": {"type": "array", "items": "string"}},
			{"name": "attrs", "type": {"type": "map", "values": "long"}},
			{"name": "status", "type": {"type": "enum", "name": "Status", "symbols": ["OPEN", "CLOSED"]}}
		]
	}`

	model, err := New().Analyze([]byte(definition))
	require.NoError(t, err)
	require.Len(t, model.Fields, 3)
	assert.Equal(t, types.TypeTag("array:string"), model.Fields[0].Type)
	assert.Equal(t, types.TypeTag("map:long"), model.Fields[1].Type)
	assert.Equal(t, types.TypeTag("enum:Status"), model.Fields[2].Type)
}

func TestAnalyze_NonRecord(t *testing.T) {
	model, err := New().Analyze([]byte(`"string"`))
	require.NoError(t, err)
	assert.Empty(t, model.Fields)
}

func TestAnalyze_Invalid(t *testing.T) {
	_, err := New().Analyze([]byte(`{"type": "recor`))
	assert.Error(t, err)
}

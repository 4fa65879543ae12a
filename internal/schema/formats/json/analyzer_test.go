package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemakeeper/internal/schema/types"
)

func TestAnalyze_Object(t *testing.T) {
	definition := `{
		"type": "object",
		"properties": {
			"order_id": {"type": "string"},
			"amount": {"type": "integer"},
			"currency": {"type": ["string", "null"], "default": "USD"},
			"note": {"type": "string"}
		},
		"required": ["order_id", "amount"]
	}`

	model, err := New().Analyze([]byte(definition))
	require.NoError(t, err)
	require.Len(t, model.Fields, 4)

	// Declaration order is preserved.
	assert.Equal(t, "order_id", model.Fields[0].Name)
	assert.Equal(t, "amount", model.Fields[1].Name)
	assert.Equal(t, "currency", model.Fields[2].Name)
	assert.Equal(t, "note", model.Fields[3].Name)

	orderID := model.Fields[0]
	assert.Equal(t, types.TypeTag("string"), orderID.Type)
	assert.False(t, orderID.Optional)
	assert.False(t, orderID.HasDefault)

	currency := model.Fields[2]
	assert.True(t, currency.Optional)
	assert.True(t, currency.HasDefault)
	assert.Equal(t, "USD", currency.Default)
	assert.Equal(t, types.TypeTag("string"), currency.Type, "null drops out of the type list")

	note := model.Fields[3]
	assert.True(t, note.Optional, "properties outside required are optional")
	assert.False(t, note.HasDefault)
}

func TestAnalyze_NoProperties(t *testing.T) {
	model, err := New().Analyze([]byte(`{"type": "object"}`))
	require.NoError(t, err)
	assert.Empty(t, model.Fields)
}

func TestAnalyze_Invalid(t *testing.T) {
	_, err := New().Analyze([]byte(`{"type": "objec`))
	assert.Error(t, err)
}

package model

import (
	"testing"

	"github.com/recordbase/recordbase-server/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestNormalize_Structured(t *testing.T) {
	attrs := map[string][]byte{"a": []byte("bin")}
	rec, err := Normalize(StructuredRecord{Tenant: "jet", PrimaryKey: "alex", Attributes: attrs})
	require.NoError(t, err)

	assert.Equal(t, "jet", rec.Tenant)
	assert.Equal(t, "alex", rec.PrimaryKey)
	assert.Equal(t, []byte("bin"), rec.Attributes["a"])

	attrs["a"][0] = 'X'
	assert.Equal(t, []byte("bin"), rec.Attributes["a"], "normalized record must not alias the input")
}

func TestNormalize_SerializedAndStructuredAgree(t *testing.T) {
	structured := StructuredRecord{
		Tenant:     "jet",
		PrimaryKey: "alex",
		Attributes: map[string][]byte{"a": []byte("bin"), "b": {0x00, 0xff}},
	}
	fromStructured, err := Normalize(structured)
	require.NoError(t, err)

	payload, err := EncodeSerialized(fromStructured)
	require.NoError(t, err)

	fromBytes, err := Normalize(SerializedBytes(payload))
	require.NoError(t, err)

	assert.True(t, fromStructured.Equal(fromBytes))
}

func TestDecodeSerialized_MsgpackStrings(t *testing.T) {
	// The Go client binding encodes attributes as strings
	payload, err := msgpack.Marshal(map[string]interface{}{
		"tenant":      "jet",
		"primary_key": "alex",
		"attributes":  map[string]string{"a": "bin"},
	})
	require.NoError(t, err)

	rec, err := DecodeSerialized(payload)
	require.NoError(t, err)
	assert.Equal(t, "jet", rec.Tenant)
	assert.Equal(t, "alex", rec.PrimaryKey)
	assert.Equal(t, []byte("bin"), rec.Attributes["a"])
}

func TestDecodeSerialized_FieldNameVariants(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]interface{}{
		"Tenant":     "jet",
		"PrimaryKey": "alex",
	})
	require.NoError(t, err)

	rec, err := DecodeSerialized(payload)
	require.NoError(t, err)
	assert.Equal(t, "jet", rec.Tenant)
	assert.Equal(t, "alex", rec.PrimaryKey)
	assert.Empty(t, rec.Attributes)
}

func TestDecodeSerialized_JSON(t *testing.T) {
	rec, err := DecodeSerialized([]byte(` {"tenant":"jet","primary_key":"alex","attributes":{"a":"bin"}}`))
	require.NoError(t, err)
	assert.Equal(t, "jet", rec.Tenant)
	assert.Equal(t, "alex", rec.PrimaryKey)
	assert.Equal(t, []byte("bin"), rec.Attributes["a"])
}

func TestDecodeSerialized_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"whitespace", []byte("   ")},
		{"broken json", []byte(`{"tenant":`)},
		{"tenant not a string", []byte(`{"tenant":1,"primary_key":"a"}`)},
		{"attributes not a map", []byte(`{"tenant":"t","primary_key":"a","attributes":[1]}`)},
		{"attribute value not a string", []byte(`{"tenant":"t","primary_key":"a","attributes":{"x":{"y":1}}}`)},
		{"not msgpack map", []byte{0xc1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSerialized(tt.payload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidRequest))
		})
	}
}

func TestNormalize_Nil(t *testing.T) {
	_, err := Normalize(nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidRequest))

	var sr *StructuredRecord
	_, err = Normalize(sr)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidRequest))
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONLiteral(t *testing.T) {
	v, err := parseJSONLiteral(`{"a":1,"b":[1,2,3]}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": []any{float64(1), float64(2), float64(3)}}, v)

	v, err = parseJSONLiteral(`"hello"`)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = parseJSONLiteral(`true`)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = parseJSONLiteral(`{not json`)
	assert.Error(t, err)
}

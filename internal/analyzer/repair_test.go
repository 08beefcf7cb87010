package analyzer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepairJSON_TrailingComma(t *testing.T) {
	repaired, ok := repairJSON(`{"a": 1, "b": 2,}`)
	require.True(t, ok)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &m))
	require.Equal(t, float64(1), m["a"])
}

func TestRepairJSON_SingleQuotedStrings(t *testing.T) {
	repaired, ok := repairJSON(`{'a': 'hello', 'b': 2}`)
	require.True(t, ok)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &m))
	require.Equal(t, "hello", m["a"])
}

func TestRepairJSON_UnquotedKeys(t *testing.T) {
	repaired, ok := repairJSON(`{a: 1, b: "two"}`)
	require.True(t, ok)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &m))
	require.Equal(t, "two", m["b"])
}

func TestRepairJSON_TruncatedMissingClosingBrace(t *testing.T) {
	repaired, ok := repairJSON(`{"a": 1, "b": {"c": 2}`)
	require.True(t, ok)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &m))
	require.Equal(t, float64(1), m["a"])
}

func TestRepairJSON_StripsSurroundingProse(t *testing.T) {
	repaired, ok := repairJSON("Sure, here is the JSON:\n```json\n{\"a\": 1}\n```\nLet me know if that works.")
	require.True(t, ok)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &m))
	require.Equal(t, float64(1), m["a"])
}

func TestRepairJSON_EmptyInputFails(t *testing.T) {
	_, ok := repairJSON("   ")
	require.False(t, ok)
}

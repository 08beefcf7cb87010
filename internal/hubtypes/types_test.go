package hubtypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaxRate_TieBrokenByFirstEncounteredOrder(t *testing.T) {
	rate := map[string]float64{"politics": 7, "economy": 7, "military": 3}
	class, score := MaxRate(rate, []string{"military", "economy", "politics"}, MaxRateExcludeKey)
	require.Equal(t, "economy", class)
	require.Equal(t, float64(7), score)
}

func TestMaxRate_ExcludesDesignatedKey(t *testing.T) {
	rate := map[string]float64{"__OVERALL__": 10, "economy": 6}
	class, score := MaxRate(rate, []string{"__OVERALL__", "economy"}, MaxRateExcludeKey)
	require.Equal(t, "economy", class)
	require.Equal(t, float64(6), score)
}

func TestMaxRate_EmptyRateReturnsZeroValue(t *testing.T) {
	class, score := MaxRate(map[string]float64{}, nil, MaxRateExcludeKey)
	require.Empty(t, class)
	require.Zero(t, score)
}

func TestDecodeOrderedRate_PreservesEmissionOrder(t *testing.T) {
	values, keys, err := DecodeOrderedRate([]byte(`{"military": 3, "economy": 7, "politics": 7}`))
	require.NoError(t, err)
	require.Equal(t, []string{"military", "economy", "politics"}, keys)
	require.Equal(t, float64(7), values["economy"])
}

func TestDecodeOrderedRate_SkipsNonNumericEntriesWithoutError(t *testing.T) {
	values, keys, err := DecodeOrderedRate([]byte(`{"economy": 7, "note": "too soon to tell", "military": "n/a", "politics": 4}`))
	require.NoError(t, err)
	require.Equal(t, []string{"economy", "politics"}, keys)
	require.Len(t, values, 2)
	require.NotContains(t, values, "note")
	require.NotContains(t, values, "military")
}

func TestDecodeOrderedRate_SkipsNestedValuesWithoutDesyncingTokenStream(t *testing.T) {
	values, keys, err := DecodeOrderedRate([]byte(`{"economy": 7, "detail": {"nested": [1,2,3]}, "politics": 4}`))
	require.NoError(t, err)
	require.Equal(t, []string{"economy", "politics"}, keys)
	require.Equal(t, float64(4), values["politics"])
}

func TestDecodeOrderedRate_EmptyInputReturnsEmptyResult(t *testing.T) {
	values, keys, err := DecodeOrderedRate(nil)
	require.NoError(t, err)
	require.Empty(t, keys)
	require.NotNil(t, values)
}

func TestDecodeOrderedRate_DuplicateKeyKeepsFirstPosition(t *testing.T) {
	values, keys, err := DecodeOrderedRate([]byte(`{"economy": 1, "politics": 2, "economy": 9}`))
	require.NoError(t, err)
	require.Equal(t, []string{"economy", "politics"}, keys)
	require.Equal(t, float64(9), values["economy"])
}

func TestDecodeOrderedRate_NonObjectInputErrors(t *testing.T) {
	_, _, err := DecodeOrderedRate([]byte(`[1,2,3]`))
	require.Error(t, err)
}

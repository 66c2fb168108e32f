package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairwiseEqualStrings(t *testing.T) {
	metrics := Pairwise("Jon", "Jon")

	assert.Equal(t, 0, metrics[KeyDamerauLevenshtein])
	assert.Equal(t, true, metrics[KeyEqual])
	assert.Equal(t, 0, metrics[KeyHamming])
	assert.InDelta(t, 1.0, metrics[KeyJaroWinkler].(float64), 1e-9)
	assert.Equal(t, 0, metrics[KeyLevenshtein])
	assert.Equal(t, true, metrics[KeyMetaphone])
	assert.InDelta(t, 1.0, metrics[KeyRatio].(float64), 1e-9)
	assert.Equal(t, [2]string{"Jon", "Jon"}, metrics[KeyStrings])
}

func TestPairwiseDistinctStrings(t *testing.T) {
	metrics := Pairwise("Jon", "Not Jon")

	assert.Equal(t, 4, metrics[KeyDamerauLevenshtein])
	assert.Equal(t, false, metrics[KeyEqual])
	assert.Equal(t, 6, metrics[KeyHamming])
	assert.InDelta(t, 0.4920634920634921, metrics[KeyJaroWinkler].(float64), 1e-9)
	assert.Equal(t, 4, metrics[KeyLevenshtein])
	assert.Equal(t, false, metrics[KeyMetaphone])
	assert.InDelta(t, 0.6, metrics[KeyRatio].(float64), 1e-9)
	assert.Equal(t, [2]string{"Jon", "Not Jon"}, metrics[KeyStrings])
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"Jon", "Jon", 0},
		{"Jon", "Not Jon", 6},
		{"WHITE", "WHITE JR", 3},
		{"WHITE, SR.", "WHITE JR", 5},
		{"MIKE", "MICHAEL", 5},
		{"", "", 0},
		{"", "ABC", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HammingDistance(tt.a, tt.b), "HammingDistance(%q, %q)", tt.a, tt.b)
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Jon", "Jon", 1.0},
		{"Jon", "Not Jon", 0.6},
		{"90210", "90211", 0.8},
		{"MARY-SUE", "MARY SUE", 0.875},
		{"", "", 1.0},
	}
	for _, tt := range tests {
		require.InDelta(t, tt.want, Ratio(tt.a, tt.b), 1e-9, "Ratio(%q, %q)", tt.a, tt.b)
	}
}

func TestPairwiseMetaphoneIgnoresDigits(t *testing.T) {
	metrics := Pairwise("90210", "90211")

	assert.Equal(t, true, metrics[KeyMetaphone])
	assert.Equal(t, false, metrics[KeyEqual])
}

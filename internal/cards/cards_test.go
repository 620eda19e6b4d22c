package cards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShoeSize(t *testing.T) {
	shoe := NewShoe(6)
	require.Len(t, shoe, 6*52)
}

func TestValueHardTotal(t *testing.T) {
	total, soft := Value([]string{"10H", "7C"})
	assert.Equal(t, 17, total)
	assert.False(t, soft)
}

func TestValueSoftAce(t *testing.T) {
	total, soft := Value([]string{"AS", "6D"})
	assert.Equal(t, 17, total)
	assert.True(t, soft)
}

func TestValueBustDemotesAce(t *testing.T) {
	total, soft := Value([]string{"AS", "6D", "9C"})
	assert.Equal(t, 16, total)
	assert.False(t, soft)
}

func TestValueMultipleAces(t *testing.T) {
	total, soft := Value([]string{"AS", "AD"})
	assert.Equal(t, 12, total)
	assert.True(t, soft)
}

func TestValuePermutationInvariant(t *testing.T) {
	a, aSoft := Value([]string{"AS", "6D", "KC"})
	b, bSoft := Value([]string{"KC", "AS", "6D"})
	assert.Equal(t, a, b)
	assert.Equal(t, aSoft, bSoft)
}

func TestIsBlackjack(t *testing.T) {
	assert.True(t, IsBlackjack([]string{"AS", "KC"}))
	assert.False(t, IsBlackjack([]string{"AS", "6D", "4C"}))
	assert.False(t, IsBlackjack([]string{"7S", "7C"}))
}

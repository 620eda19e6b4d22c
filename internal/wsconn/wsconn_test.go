package wsconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdForZero(t *testing.T) {
	assert.Equal(t, "0", idFor(0))
}

func TestIdForIsStableAndPrefixed(t *testing.T) {
	id := idFor(42)
	assert.Equal(t, "c16", id)
}

func TestIdForDistinctForDistinctInputs(t *testing.T) {
	seen := map[string]bool{}
	for n := int64(0); n < 500; n++ {
		id := idFor(n)
		assert.False(t, seen[id], "duplicate id for n=%d: %s", n, id)
		seen[id] = true
	}
}

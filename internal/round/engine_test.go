package round

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swarm-blackjack/table-server/internal/store"
)

func TestIsPausedBeforeDeadline(t *testing.T) {
	meta := store.Meta{"pause_until_ts": "1000"}
	assert.True(t, isPaused(meta, 500))
}

func TestIsPausedAfterDeadline(t *testing.T) {
	meta := store.Meta{"pause_until_ts": "1000"}
	assert.False(t, isPaused(meta, 1500))
}

func TestUpperUppercasesLowerLettersOnly(t *testing.T) {
	assert.Equal(t, "ALICE99", upper("alice99"))
	assert.Equal(t, "BOB", upper("BOB"))
}

func TestBettingPlayersFiltersAndSortsBySeat(t *testing.T) {
	players := map[string]map[string]string{
		"p1": {"status": "active", "bet": "50", "seat": "3"},
		"p2": {"status": "active", "bet": "0", "seat": "1"},    // no bet, excluded
		"p3": {"status": "sit_out", "bet": "50", "seat": "2"},  // sitting out, excluded
		"p4": {"status": "active", "bet": "25", "seat": "1"},
	}
	out := bettingPlayers(players)
	assert.Len(t, out, 2)
	assert.Equal(t, 1, out[0].seat)
	assert.Equal(t, "p4", out[0].pid)
	assert.Equal(t, 3, out[1].seat)
	assert.Equal(t, "p1", out[1].pid)
}

func TestEligibleToBetRequiresActiveAndBankroll(t *testing.T) {
	assert.True(t, eligibleToBet(map[string]string{"status": "active", "bankroll": "100"}, 25))
	assert.False(t, eligibleToBet(map[string]string{"status": "active", "bankroll": "10"}, 25))
	assert.False(t, eligibleToBet(map[string]string{"status": "sit_out", "bankroll": "100"}, 25))
	// empty status defaults to active
	assert.True(t, eligibleToBet(map[string]string{"bankroll": "100"}, 25))
}

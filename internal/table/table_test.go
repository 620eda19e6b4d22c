package table

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swarm-blackjack/table-server/internal/config"
)

func TestDefaultTableMetaMirrorsConfig(t *testing.T) {
	e := &Engine{cfg: config.Config{
		MinBet:                    5,
		MaxBet:                    500,
		StartingBankroll:          1000,
		ShoeDecks:                 6,
		ReshuffleWhenRemainingPct: 0.25,
		BlackjackPayout:           1.5,
	}}
	meta := e.defaultTableMeta()
	assert.Equal(t, 5, meta["min_bet"])
	assert.Equal(t, 500, meta["max_bet"])
	assert.Equal(t, 1000, meta["starting_bankroll"])
	assert.Equal(t, 6, meta["shoe_decks"])
	assert.Equal(t, 0.25, meta["reshuffle_when_remaining_pct"])
	assert.Equal(t, 1.5, meta["blackjack_payout"])
	assert.Equal(t, 0, meta["dealer_revealed"])
}

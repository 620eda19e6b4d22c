package store

import (
	"context"

	"github.com/swarm-blackjack/table-server/internal/cards"
)

// Snapshot is the authoritative, not-yet-personalized table view
// returned by every round/table operation under the lock. Per-seat
// redaction of player hand cards happens one layer up, in
// internal/personalize; this snapshot already carries the base
// dealer-hand redaction, since that depends only on table-wide state
// (phase, dealer_revealed), not on the requesting seat.
type Snapshot struct {
	Meta       Meta                         `json:"meta"`
	Seats      map[string]string            `json:"seats"`
	Players    map[string]map[string]string `json:"players"`
	DealerHand DealerHandView               `json:"dealer_hand"`
}

// DealerHandView is the dealer's hand as visible to the table as a
// whole, before any per-seat personalization.
type DealerHandView struct {
	Cards  []string `json:"cards"`
	Total  int      `json:"total,omitempty"`
	IsSoft bool     `json:"is_soft,omitempty"`
}

// GetSnapshot assembles the current authoritative table view, applying
// the phase-driven dealer-hand visibility rule: hidden before dealing,
// upcard-only during PLAYER_TURNS and DEALER_TURN until
// dealer_revealed, fully visible from SETTLE onward.
func (s *Store) GetSnapshot(ctx context.Context, tid string) (Snapshot, error) {
	meta, err := s.GetMeta(ctx, tid)
	if err != nil {
		return Snapshot{}, err
	}
	seatsRaw, err := s.rdb.HGetAll(ctx, keySeats(tid)).Result()
	if err != nil {
		return Snapshot{}, err
	}
	seats := make(map[string]string)
	for k, v := range seatsRaw {
		if len(k) > 2 && k[:2] == "s:" {
			seats[k[2:]] = v
		}
	}
	players, err := s.GetAllPlayers(ctx, tid)
	if err != nil {
		return Snapshot{}, err
	}

	dealerHandID := meta["dealer_hand_id"]
	var dealerCards []string
	if dealerHandID != "" {
		dealerCards, err = s.LoadHandCards(ctx, tid, dealerHandID)
		if err != nil {
			return Snapshot{}, err
		}
	}

	dealerView := redactDealerHand(meta["phase"], meta["dealer_revealed"] == "1", dealerCards)

	return Snapshot{
		Meta:       meta,
		Seats:      seats,
		Players:    players,
		DealerHand: dealerView,
	}, nil
}

func redactDealerHand(phase string, revealed bool, cards []string) DealerHandView {
	switch phase {
	case "SETTLE", "VOTE_CONTINUE", "SESSION_ENDED":
		return dealerHandViewFrom(cards)
	case "DEALER_TURN":
		if revealed {
			return dealerHandViewFrom(cards)
		}
		return upcardOnly(cards)
	case "PLAYER_TURNS":
		return upcardOnly(cards)
	default:
		return DealerHandView{Cards: []string{}}
	}
}

func upcardOnly(cards []string) DealerHandView {
	if len(cards) == 0 {
		return DealerHandView{Cards: []string{}}
	}
	return DealerHandView{Cards: []string{cards[0]}}
}

func dealerHandViewFrom(cardCodes []string) DealerHandView {
	if cardCodes == nil {
		cardCodes = []string{}
	}
	total, isSoft := cards.Value(cardCodes)
	return DealerHandView{Cards: cardCodes, Total: total, IsSoft: isSoft}
}

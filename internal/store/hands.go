package store

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/swarm-blackjack/table-server/internal/cards"
)

func decodeHandIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeHandIDs(ids []string) string {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func decodeCards(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// SetPlayerHandIDs records which hand(s) belong to a player. The round
// engine only ever uses a single hand per player (no split support),
// but the slot is kept list-shaped so the stored and wire formats
// would survive adding it.
func (s *Store) SetPlayerHandIDs(ctx context.Context, tid, pid string, handIDs []string) error {
	return s.rdb.HSet(ctx, keyPlayer(tid, pid), "hand_ids", encodeHandIDs(handIDs)).Err()
}

// GetPlayerHandIDs reads a player's hand id list.
func (s *Store) GetPlayerHandIDs(ctx context.Context, tid, pid string) ([]string, error) {
	raw, err := s.rdb.HGet(ctx, keyPlayer(tid, pid), "hand_ids").Result()
	if err != nil {
		return nil, err
	}
	return decodeHandIDs(raw), nil
}

// SaveHand stores a hand's cards along with its precomputed total and
// soft-hand flag.
func (s *Store) SaveHand(ctx context.Context, tid, handID string, cardCodes []string) error {
	total, isSoft := cards.Value(cardCodes)
	b, _ := json.Marshal(cardCodes)
	fields := map[string]any{
		"cards":   string(b),
		"total":   strconv.Itoa(total),
		"is_soft": strconv.FormatBool(isSoft),
	}
	return s.rdb.HSet(ctx, keyHand(tid, handID), fields).Err()
}

// LoadHandCards returns the cards dealt into a hand, or nil if the hand
// does not exist (e.g. already cleared).
func (s *Store) LoadHandCards(ctx context.Context, tid, handID string) ([]string, error) {
	raw, err := s.rdb.HGet(ctx, keyHand(tid, handID), "cards").Result()
	if err != nil {
		return nil, nil
	}
	return decodeCards(raw), nil
}

// ClearHands deletes every hand referenced by any player at the table
// and resets their hand_ids to empty, called at the start of dealing
// and after settlement.
func (s *Store) ClearHands(ctx context.Context, tid string) error {
	players, err := s.GetAllPlayers(ctx, tid)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for pid, pdata := range players {
		for _, handID := range decodeHandIDs(pdata["hand_ids"]) {
			pipe.Del(ctx, keyHand(tid, handID))
		}
		pipe.HSet(ctx, keyPlayer(tid, pid), "hand_ids", "[]")
	}
	dealerHandID := ""
	meta, err := s.GetMeta(ctx, tid)
	if err == nil {
		dealerHandID = meta["dealer_hand_id"]
	}
	if dealerHandID != "" {
		pipe.Del(ctx, keyHand(tid, dealerHandID))
	}
	_, err = pipe.Exec(ctx)
	return err
}

package store

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// LoadShoe returns the current shoe, top-of-shoe at the tail (pop from
// the end), or nil if no shoe has been dealt yet.
func (s *Store) LoadShoe(ctx context.Context, tid string) ([]string, error) {
	raw, err := s.rdb.Get(ctx, keyShoe(tid)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var shoe []string
	if err := json.Unmarshal([]byte(raw), &shoe); err != nil {
		return nil, nil
	}
	return shoe, nil
}

// SaveShoe persists the shoe's remaining cards.
func (s *Store) SaveShoe(ctx context.Context, tid string, shoe []string) error {
	if shoe == nil {
		shoe = []string{}
	}
	b, err := json.Marshal(shoe)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyShoe(tid), b, 0).Err()
}

// ShoeMeta tracks reshuffle bookkeeping.
type ShoeMeta struct {
	Decks        int
	CutIndex     int
	NeedsShuffle bool
}

// GetShoeMeta reads the shoe's reshuffle bookkeeping hash.
func (s *Store) GetShoeMeta(ctx context.Context, tid string) (ShoeMeta, error) {
	raw, err := s.rdb.HGetAll(ctx, keyShoeMeta(tid)).Result()
	if err != nil {
		return ShoeMeta{}, err
	}
	decks, _ := strconv.Atoi(raw["decks"])
	cut, _ := strconv.Atoi(raw["cut_index"])
	needs := raw["needs_shuffle"] == "1"
	return ShoeMeta{Decks: decks, CutIndex: cut, NeedsShuffle: needs}, nil
}

// SetShoeMeta writes the shoe's reshuffle bookkeeping hash.
func (s *Store) SetShoeMeta(ctx context.Context, tid string, m ShoeMeta) error {
	fields := map[string]any{
		"decks":         strconv.Itoa(m.Decks),
		"cut_index":     strconv.Itoa(m.CutIndex),
		"needs_shuffle": "0",
	}
	if m.NeedsShuffle {
		fields["needs_shuffle"] = "1"
	}
	return s.rdb.HSet(ctx, keyShoeMeta(tid), fields).Err()
}

package store

import (
	"context"
	"strconv"
)

// Meta is the per-table string-typed field hash. Every field is stored
// and read as a string; callers parse to int or float as needed via
// MetaInt/MetaFloat. It stays a dynamic hash rather than a typed
// record because every field is rewritten independently and atomically
// under the table lock.
type Meta map[string]string

// MetaInt parses an int64 meta field, returning fallback if missing,
// empty, or unparsable.
func MetaInt(m Meta, key string, fallback int64) int64 {
	raw, ok := m[key]
	if !ok || raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// MetaFloat parses a float64 meta field, returning fallback if missing,
// empty, or unparsable.
func MetaFloat(m Meta, key string, fallback float64) float64 {
	raw, ok := m[key]
	if !ok || raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

// MetaStr returns a string meta field, or fallback if missing.
func MetaStr(m Meta, key, fallback string) string {
	raw, ok := m[key]
	if !ok || raw == "" {
		return fallback
	}
	return raw
}

// GetMeta loads the full meta hash for a table.
func (s *Store) GetMeta(ctx context.Context, tid string) (Meta, error) {
	raw, err := s.rdb.HGetAll(ctx, keyMeta(tid)).Result()
	if err != nil {
		return nil, err
	}
	return Meta(raw), nil
}

// SetMeta writes the given fields into the meta hash. Values may be
// string, int, int64, float64 or bool; each is converted to its string
// form before HSET.
func (s *Store) SetMeta(ctx context.Context, tid string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	fields := make(map[string]any, len(updates))
	for k, v := range updates {
		fields[k] = toMetaString(v)
	}
	return s.rdb.HSet(ctx, keyMeta(tid), fields).Err()
}

func toMetaString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// EnsureTable creates the table's meta hash with defaults if it does
// not yet exist, and registers tid in the global table set. Returns the
// (possibly just-created) meta.
func (s *Store) EnsureTable(ctx context.Context, tid string, defaults map[string]any) (Meta, error) {
	exists, err := s.rdb.Exists(ctx, keyMeta(tid)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		init := map[string]any{
			"phase":    "LOBBY",
			"round_id": 0,
		}
		for k, v := range defaults {
			init[k] = v
		}
		if err := s.SetMeta(ctx, tid, init); err != nil {
			return nil, err
		}
		if err := s.rdb.SAdd(ctx, keyTablesSet(), tid).Err(); err != nil {
			return nil, err
		}
	}
	return s.GetMeta(ctx, tid)
}

// pendingConfigFields are the admin-configurable settings that stage as
// pending_<field> in meta and only take effect at the next round
// boundary.
var pendingConfigFields = []string{
	"starting_bankroll",
	"min_bet",
	"max_bet",
	"shoe_decks",
	"reshuffle_when_remaining_pct",
}

// StagePendingConfig records an ADMIN_CONFIG update as pending_<field>
// shadow values, to be applied by ApplyPendingConfig at the next round
// boundary rather than immediately.
func (s *Store) StagePendingConfig(ctx context.Context, tid string, updates map[string]any) error {
	staged := make(map[string]any, len(updates))
	for k, v := range updates {
		staged["pending_"+k] = v
	}
	return s.SetMeta(ctx, tid, staged)
}

// ApplyPendingConfig copies every staged pending_<field> value over its
// live field and clears the staging slot, called on every round
// boundary (session start, WAITING_FOR_BETS re-entry after a vote).
func (s *Store) ApplyPendingConfig(ctx context.Context, tid string) error {
	meta, err := s.GetMeta(ctx, tid)
	if err != nil {
		return err
	}
	updates := make(map[string]any)
	for _, field := range pendingConfigFields {
		pendingKey := "pending_" + field
		if raw, ok := meta[pendingKey]; ok && raw != "" {
			updates[field] = raw
			updates[pendingKey] = ""
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return s.SetMeta(ctx, tid, updates)
}

// ListTables returns every known table id.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, keyTablesSet()).Result()
}

// ClearTable deletes every key belonging to a table and removes it from
// the global table set. Called when a session reaches SESSION_ENDED or
// the ticker's grace cleanup empties a table.
func (s *Store) ClearTable(ctx context.Context, tid string) error {
	players, err := s.GetAllPlayers(ctx, tid)
	if err != nil {
		return err
	}
	keysToDelete := []string{
		keyMeta(tid), keyPlayers(tid), keySeats(tid), keyReady(tid),
		keyShoe(tid), keyShoeMeta(tid), keyEvents(tid),
	}
	for pid, pdata := range players {
		keysToDelete = append(keysToDelete, keyPlayer(tid, pid))
		for _, handID := range decodeHandIDs(pdata["hand_ids"]) {
			keysToDelete = append(keysToDelete, keyHand(tid, handID))
		}
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keysToDelete...)
	pipe.SRem(ctx, keyTablesSet(), tid)
	_, err = pipe.Exec(ctx)
	return err
}

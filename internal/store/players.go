package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func seatField(seat int) string     { return "s:" + strconv.Itoa(seat) }
func playerField(pid string) string { return "p:" + pid }

// GetSeatForPlayer returns the seat bound to pid, or ok=false if unseated.
func (s *Store) GetSeatForPlayer(ctx context.Context, tid, pid string) (int, bool, error) {
	raw, err := s.rdb.HGet(ctx, keySeats(tid), playerField(pid)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	seat, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, nil
	}
	return seat, true, nil
}

// GetPlayerIDForSeat returns the player bound to a seat, or ok=false.
func (s *Store) GetPlayerIDForSeat(ctx context.Context, tid string, seat int) (string, bool, error) {
	pid, err := s.rdb.HGet(ctx, keySeats(tid), seatField(seat)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return pid, pid != "", nil
}

// BindSeat binds pid to a specific seat if that seat is free (or already
// held by pid). Returns ok=false if the seat is occupied by someone else.
func (s *Store) BindSeat(ctx context.Context, tid, pid string, seat int) (bool, error) {
	held, ok, err := s.GetPlayerIDForSeat(ctx, tid, seat)
	if err != nil {
		return false, err
	}
	if ok && held != pid {
		return false, nil
	}
	if err := s.rdb.HSet(ctx, keySeats(tid), seatField(seat), pid, playerField(pid), strconv.Itoa(seat)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// AssignSeat picks the lowest free seat in [1, seatCount] and binds pid
// to it. Returns an error if the table is full.
func (s *Store) AssignSeat(ctx context.Context, tid, pid string, seatCount int) (int, error) {
	taken, err := s.rdb.HGetAll(ctx, keySeats(tid)).Result()
	if err != nil {
		return 0, err
	}
	for seat := 1; seat <= seatCount; seat++ {
		if _, occupied := taken[seatField(seat)]; !occupied {
			ok, err := s.BindSeat(ctx, tid, pid, seat)
			if err != nil {
				return 0, err
			}
			if ok {
				return seat, nil
			}
		}
	}
	return 0, fmt.Errorf("table is full")
}

// UpsertPlayer creates the player's hash (with starting bankroll) if
// new, or refreshes its seat/name/reconnect token and reactivates it on
// reconnect while leaving bankroll and in-round fields untouched.
func (s *Store) UpsertPlayer(ctx context.Context, tid, pid string, seat int, nickname, reconnectToken string, startingBankroll int) error {
	exists, err := s.rdb.Exists(ctx, keyPlayer(tid, pid)).Result()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	if exists == 0 {
		if err := s.rdb.SAdd(ctx, keyPlayers(tid), pid).Err(); err != nil {
			return err
		}
		fields := map[string]any{
			"seat":            strconv.Itoa(seat),
			"name":            nickname,
			"bankroll":        strconv.Itoa(startingBankroll),
			"status":          "active",
			"bet":             "0",
			"bet_submitted":   "0",
			"hand_ids":        "[]",
			"reconnect_token": reconnectToken,
			"last_seen_ts":    strconv.FormatInt(now, 10),
		}
		return s.rdb.HSet(ctx, keyPlayer(tid, pid), fields).Err()
	}
	fields := map[string]any{
		"seat":            strconv.Itoa(seat),
		"name":            nickname,
		"status":          "active",
		"reconnect_token": reconnectToken,
		"last_seen_ts":    strconv.FormatInt(now, 10),
	}
	return s.rdb.HSet(ctx, keyPlayer(tid, pid), fields).Err()
}

// GetPlayer loads a single player's field hash.
func (s *Store) GetPlayer(ctx context.Context, tid, pid string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, keyPlayer(tid, pid)).Result()
}

// GetAllPlayers loads every player hash at a table, keyed by player id.
func (s *Store) GetAllPlayers(ctx context.Context, tid string) (map[string]map[string]string, error) {
	pids, err := s.rdb.SMembers(ctx, keyPlayers(tid)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(pids))
	for _, pid := range pids {
		pdata, err := s.GetPlayer(ctx, tid, pid)
		if err != nil {
			return nil, err
		}
		if len(pdata) == 0 {
			continue
		}
		out[pid] = pdata
	}
	return out, nil
}

// SetBet sets a player's current bet amount.
func (s *Store) SetBet(ctx context.Context, tid, pid string, amount int) error {
	return s.rdb.HSet(ctx, keyPlayer(tid, pid), "bet", strconv.Itoa(amount)).Err()
}

// SetBetSubmitted marks whether a player has acted on betting this round.
func (s *Store) SetBetSubmitted(ctx context.Context, tid, pid string, submitted bool) error {
	v := "0"
	if submitted {
		v = "1"
	}
	return s.rdb.HSet(ctx, keyPlayer(tid, pid), "bet_submitted", v).Err()
}

// AdjustBankroll atomically adds delta (positive or negative) to a
// player's bankroll.
func (s *Store) AdjustBankroll(ctx context.Context, tid, pid string, delta int) error {
	return s.rdb.HIncrBy(ctx, keyPlayer(tid, pid), "bankroll", int64(delta)).Err()
}

// UpdateLastSeen stamps the player's last-seen timestamp, used by the
// ticker's reconnect-grace cleanup.
func (s *Store) UpdateLastSeen(ctx context.Context, tid, pid string) error {
	return s.rdb.HSet(ctx, keyPlayer(tid, pid), "last_seen_ts", strconv.FormatInt(time.Now().UnixMilli(), 10)).Err()
}

// MarkDisconnected flips a player's status to disconnected, starting
// the reconnect-grace countdown.
func (s *Store) MarkDisconnected(ctx context.Context, tid, pid string) error {
	return s.rdb.HSet(ctx, keyPlayer(tid, pid), "status", "disconnected").Err()
}

// ClearBets resets bet and bet_submitted for every player at the table,
// called at round boundaries.
func (s *Store) ClearBets(ctx context.Context, tid string) error {
	pids, err := s.rdb.SMembers(ctx, keyPlayers(tid)).Result()
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, pid := range pids {
		pipe.HSet(ctx, keyPlayer(tid, pid), "bet", "0", "bet_submitted", "0")
	}
	_, err = pipe.Exec(ctx)
	return err
}

// RemovePlayer deletes a player's hash and seat binding entirely. Used
// by the reconnect-grace sweep once a disconnected player's grace
// period has elapsed.
func (s *Store) RemovePlayer(ctx context.Context, tid, pid string) error {
	seat, ok, err := s.GetSeatForPlayer(ctx, tid, pid)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, keyPlayers(tid), pid)
	pipe.Del(ctx, keyPlayer(tid, pid))
	pipe.HDel(ctx, keyReady(tid), pid)
	if ok {
		pipe.HDel(ctx, keySeats(tid), playerField(pid), seatField(seat))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// IsReady reports whether pid has toggled ready in the lobby.
func (s *Store) IsReady(ctx context.Context, tid, pid string) (bool, error) {
	v, err := s.rdb.HGet(ctx, keyReady(tid), pid).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetReady sets pid's lobby-ready flag.
func (s *Store) SetReady(ctx context.Context, tid, pid string, ready bool) error {
	v := "0"
	if ready {
		v = "1"
	}
	return s.rdb.HSet(ctx, keyReady(tid), pid, v).Err()
}

// GetReadyPlayers returns the set of player ids currently marked ready.
func (s *Store) GetReadyPlayers(ctx context.Context, tid string) (map[string]bool, error) {
	all, err := s.rdb.HGetAll(ctx, keyReady(tid)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(all))
	for pid, v := range all {
		if v == "1" {
			out[pid] = true
		}
	}
	return out, nil
}

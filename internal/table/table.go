// Package table implements the lobby/session-start service: HELLO
// identity issuance, JOIN_TABLE seat assignment, READY_TOGGLE,
// START_SESSION, and ADMIN_CONFIG, plus the disconnect/grace sweep
// that ages abandoned players out of a table.
package table

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarm-blackjack/table-server/internal/config"
	"github.com/swarm-blackjack/table-server/internal/ids"
	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/store"
	"github.com/swarm-blackjack/table-server/internal/tablelock"
)

// OpError is a denied-operation error, carrying the WS error code the
// caller should surface (JOIN_DENIED, READY_DENIED, START_DENIED,
// ADMIN_DENIED, ...).
type OpError struct {
	Code    string
	Message string
}

func (e *OpError) Error() string { return e.Message }

func deny(code, format string, args ...any) error {
	return &OpError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Engine drives lobby/session-start operations against the shared
// store, serialized by the same per-table lock the round engine uses.
type Engine struct {
	store  *store.Store
	locker *tablelock.Locker
	cfg    config.Config
	log    zerolog.Logger
	now    func() int64
}

func New(s *store.Store, locker *tablelock.Locker, cfg config.Config, log zerolog.Logger) *Engine {
	return &Engine{store: s, locker: locker, cfg: cfg, log: log, now: func() int64 { return time.Now().UnixMilli() }}
}

// Result mirrors round.Result: the post-operation snapshot plus any
// events queued while the lock was held.
type Result struct {
	Snapshot store.Snapshot
	Events   []protocol.BufferedEvent
}

func (e *Engine) withLock(ctx context.Context, tid string, fn func(buf *protocol.Buffer) (store.Snapshot, error)) (Result, error) {
	h, err := e.locker.Acquire(ctx, tid)
	if err != nil {
		if errors.Is(err, tablelock.ErrBusy) {
			return Result{}, deny(protocol.ErrBadRequest, "table is busy, try again")
		}
		return Result{}, err
	}
	defer e.locker.Release(ctx, h)

	buf := &protocol.Buffer{}
	snap, err := fn(buf)
	if err != nil {
		return Result{}, err
	}
	return Result{Snapshot: snap, Events: buf.Events()}, nil
}

// Identity is the result of a successful HELLO: the resolved player id
// (fresh or recovered from a reconnect token) and the reconnect token
// the client should hold onto for future sessions.
type Identity struct {
	PlayerID       string
	Nickname       string
	ReconnectToken string
}

// Hello resolves a HELLO message into a stable player identity. It is
// table-independent (a player id exists before any JOIN_TABLE), so it
// takes no table lock.
func (e *Engine) Hello(ctx context.Context, nickname, reconnectToken string) (Identity, error) {
	if reconnectToken != "" {
		if pid, ok, err := e.store.GetReconnectPlayerID(ctx, reconnectToken); err != nil {
			return Identity{}, err
		} else if ok {
			return Identity{PlayerID: pid, Nickname: nickname, ReconnectToken: reconnectToken}, nil
		}
	}
	pid := ids.New()
	token := ids.New()
	if err := e.store.SetReconnectToken(ctx, token, pid); err != nil {
		return Identity{}, err
	}
	return Identity{PlayerID: pid, Nickname: nickname, ReconnectToken: token}, nil
}

func (e *Engine) defaultTableMeta() map[string]any {
	return map[string]any{
		"min_bet":                      e.cfg.MinBet,
		"max_bet":                      e.cfg.MaxBet,
		"starting_bankroll":            e.cfg.StartingBankroll,
		"shoe_decks":                   e.cfg.ShoeDecks,
		"reshuffle_when_remaining_pct": e.cfg.ReshuffleWhenRemainingPct,
		"blackjack_payout":             e.cfg.BlackjackPayout,
		"dealer_revealed":              0,
	}
}

// Join applies JOIN_TABLE: ensures the table exists, assigns (or
// re-binds, on reconnect) a seat, and upserts the player record. A
// session already in progress only admits a new seat when
// AllowJoinDuringSession is set; a rejoining player with an existing
// seat is always allowed back in regardless of phase.
func (e *Engine) Join(ctx context.Context, tid, pid, nickname, reconnectToken string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.EnsureTable(ctx, tid, e.defaultTableMeta())
		if err != nil {
			return store.Snapshot{}, err
		}

		existingSeat, already, err := e.store.GetSeatForPlayer(ctx, tid, pid)
		if err != nil {
			return store.Snapshot{}, err
		}

		phase := meta["phase"]
		if !already && phase != "LOBBY" && !e.cfg.AllowJoinDuringSession {
			return store.Snapshot{}, deny(protocol.ErrJoinDenied, "table is mid-session")
		}

		seat := existingSeat
		if !already {
			seat, err = e.store.AssignSeat(ctx, tid, pid, e.cfg.SeatCount)
			if err != nil {
				return store.Snapshot{}, deny(protocol.ErrJoinDenied, "table is full")
			}
		}

		if err := e.store.UpsertPlayer(ctx, tid, pid, seat, nickname, reconnectToken, e.cfg.StartingBankroll); err != nil {
			return store.Snapshot{}, err
		}
		_ = e.store.UpdateLastSeen(ctx, tid, pid)

		buf.Emit(protocol.EventPlayerJoined, map[string]any{"player_id": pid, "seat": seat, "name": nickname})
		return e.store.GetSnapshot(ctx, tid)
	})
}

// ReadyToggle flips a seated player's lobby-ready flag and, if that
// was the last active player needed, auto-starts the session.
func (e *Engine) ReadyToggle(ctx context.Context, tid, pid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "LOBBY" {
			return store.Snapshot{}, deny(protocol.ErrReadyDenied, "not in lobby")
		}
		seat, ok, err := e.store.GetSeatForPlayer(ctx, tid, pid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if !ok {
			return store.Snapshot{}, deny(protocol.ErrReadyDenied, "not seated at this table")
		}

		wasReady, err := e.store.IsReady(ctx, tid, pid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if err := e.store.SetReady(ctx, tid, pid, !wasReady); err != nil {
			return store.Snapshot{}, err
		}
		buf.Emit(protocol.EventReadyChanged, map[string]any{"player_id": pid, "seat": seat, "ready": !wasReady})

		ok2, err := e.canStart(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if ok2 {
			return e.startSessionLocked(ctx, tid, buf)
		}
		return e.store.GetSnapshot(ctx, tid)
	})
}

// canStart reports whether the lobby currently satisfies
// min_players_to_start and (if required) universal readiness.
func (e *Engine) canStart(ctx context.Context, tid string) (bool, error) {
	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return false, err
	}
	ready, err := e.store.GetReadyPlayers(ctx, tid)
	if err != nil {
		return false, err
	}
	active := 0
	for pid, pdata := range players {
		status := pdata["status"]
		if status == "" {
			status = "active"
		}
		if status != "active" {
			continue
		}
		active++
		if e.cfg.RequireReady && !ready[pid] {
			return false, nil
		}
	}
	return active >= e.cfg.MinPlayersToStart, nil
}

// StartSession applies an explicit START_SESSION message, failing if
// the start conditions are not met.
func (e *Engine) StartSession(ctx context.Context, tid, pid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "LOBBY" {
			return store.Snapshot{}, deny(protocol.ErrStartDenied, "session already started")
		}
		if _, ok, err := e.store.GetSeatForPlayer(ctx, tid, pid); err != nil {
			return store.Snapshot{}, err
		} else if !ok {
			return store.Snapshot{}, deny(protocol.ErrStartDenied, "not seated at this table")
		}
		ok, err := e.canStart(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if !ok {
			return store.Snapshot{}, deny(protocol.ErrStartDenied, "start conditions not met")
		}
		return e.startSessionLocked(ctx, tid, buf)
	})
}

// startSessionLocked performs the LOBBY -> WAITING_FOR_BETS
// transition: apply pending config, clear bets/hands, assign a new
// session, and begin the bet window.
func (e *Engine) startSessionLocked(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	if err := e.store.ApplyPendingConfig(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.ClearBets(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.ClearHands(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}

	sessionID := ids.New()
	now := e.now()
	var betDeadline int64
	if e.cfg.BetTimeSeconds > 0 {
		betDeadline = now + int64(e.cfg.BetTimeSeconds)*1000
	}
	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"phase":            "WAITING_FOR_BETS",
		"session_id":       sessionID,
		"round_id":         1,
		"bet_deadline_ts":  betDeadline,
		"dealer_revealed":  0,
	}); err != nil {
		return store.Snapshot{}, err
	}

	buf.Emit(protocol.EventSessionStarted, map[string]any{"table_id": tid})
	buf.Emit(protocol.EventAnnouncement, map[string]any{
		"title": "GAME BEGIN", "variant": "reveal", "tone": "neutral", "duration_ms": int64(3000),
	})
	buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "WAITING_FOR_BETS"})
	return e.store.GetSnapshot(ctx, tid)
}

// AdminConfig stages pending_<field> overrides applied at the next
// round boundary. Any seated player may propose a config change; even
// mid-session it only takes effect at the next boundary, never inside
// a running round.
func (e *Engine) AdminConfig(ctx context.Context, tid, pid string, updates map[string]any) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		if _, ok, err := e.store.GetSeatForPlayer(ctx, tid, pid); err != nil {
			return store.Snapshot{}, err
		} else if !ok {
			return store.Snapshot{}, deny(protocol.ErrAdminDenied, "not seated at this table")
		}
		if len(updates) == 0 {
			return store.Snapshot{}, deny(protocol.ErrAdminDenied, "no config fields supplied")
		}
		if err := e.store.StagePendingConfig(ctx, tid, updates); err != nil {
			return store.Snapshot{}, err
		}
		buf.Emit(protocol.EventAdminConfigUpdate, map[string]any{"pending": updates})
		return e.store.GetSnapshot(ctx, tid)
	})
}

// Disconnect marks a player disconnected, starting its reconnect-grace
// countdown; the ticker's grace sweep removes it once that elapses.
func (e *Engine) Disconnect(ctx context.Context, tid, pid string) error {
	h, err := e.locker.Acquire(ctx, tid)
	if err != nil {
		return err
	}
	defer e.locker.Release(ctx, h)
	return e.store.MarkDisconnected(ctx, tid, pid)
}

// SweepGrace removes any player whose disconnect grace period has
// elapsed, and reports whether the table is now empty (a signal to the
// ticker that it should be destroyed).
func (e *Engine) SweepGrace(ctx context.Context, tid string) (empty bool, err error) {
	h, err := e.locker.Acquire(ctx, tid)
	if err != nil {
		return false, err
	}
	defer e.locker.Release(ctx, h)

	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return false, err
	}
	graceMs := int64(e.cfg.ReconnectGraceSeconds) * 1000
	now := e.now()
	remaining := len(players)
	for pid, pdata := range players {
		if pdata["status"] != "disconnected" {
			continue
		}
		lastSeen := store.MetaInt(pdata, "last_seen_ts", 0)
		if now-lastSeen < graceMs {
			continue
		}
		if err := e.store.RemovePlayer(ctx, tid, pid); err != nil {
			return false, err
		}
		remaining--
	}
	return remaining == 0, nil
}

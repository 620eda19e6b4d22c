// Package round implements the deterministic, lock-serialized,
// phase-driven blackjack round engine: bet collection, dealing,
// player turns, dealer play, settlement, and the continue/end vote.
// Every exported operation here takes the table's lock for its entire
// duration and returns the resulting snapshot plus any semantic events
// queued for the stream; callers append and broadcast those events
// only after the lock has been released, per the emit-then-broadcast
// discipline this service was built around.
package round

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarm-blackjack/table-server/internal/cards"
	"github.com/swarm-blackjack/table-server/internal/config"
	"github.com/swarm-blackjack/table-server/internal/ids"
	"github.com/swarm-blackjack/table-server/internal/ledger"
	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/store"
	"github.com/swarm-blackjack/table-server/internal/tablelock"
)

// Timing constants, all in milliseconds, governing the animation and
// pacing cadence the client depends on to stay in sync without
// polling.
const (
	DealGapMs         = 320
	DealShuffleMs     = 1500
	DealerGapMs       = 800
	DealerRevealMs    = 1000
	DealerStepMs      = 800
	DealerAnimDelayMs = 150
	DealAnimMs        = 560
	BetToDealPauseMs  = 900
	ChipsCollectMs    = 700
	DoubleAnnounceMs  = 1000
	BustAnnounceMs    = 1400
	BustRevealDelayMs = DealGapMs + DealAnimMs
)

// OpError is a denied-operation error, carrying the WS error code the
// caller should surface (BET_DENIED, ACTION_DENIED, VOTE_DENIED, ...).
type OpError struct {
	Code    string
	Message string
}

func (e *OpError) Error() string { return e.Message }

func deny(code, format string, args ...any) error {
	return &OpError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Engine drives one or more tables' round state machines against a
// shared store, all serialized per table by tablelock.
type Engine struct {
	store  *store.Store
	locker *tablelock.Locker
	cfg    config.Config
	log    zerolog.Logger
	now    func() int64
	// ledger is the durable audit trail. It is optional: a nil ledger
	// (no DATABASE_URL configured) silently skips recording, since it
	// never feeds back into round outcomes.
	ledger *ledger.Ledger
}

func New(s *store.Store, locker *tablelock.Locker, cfg config.Config, log zerolog.Logger, led *ledger.Ledger) *Engine {
	return &Engine{
		store:  s,
		locker: locker,
		cfg:    cfg,
		log:    log,
		now:    func() int64 { return time.Now().UnixMilli() },
		ledger: led,
	}
}

func (e *Engine) recordLedger(ctx context.Context, tid string, roundID int, pid string, entryType ledger.EntryType, amount, before, after int64) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.Record(ctx, tid, roundID, pid, entryType, amount, before, after); err != nil {
		e.log.Warn().Err(err).Str("table_id", tid).Str("player_id", pid).Msg("ledger record failed")
	}
}

// Result is returned by every locked operation: the post-operation
// snapshot and the events queued while the lock was held.
type Result struct {
	Snapshot store.Snapshot
	Events   []protocol.BufferedEvent
}

// withLock acquires tid's lock, runs fn, and always releases the lock
// before returning, regardless of how fn exits.
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

func (e *Engine) pauseFor(ctx context.Context, tid string, durationMs int64) error {
	meta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return err
	}
	now := e.now()
	current := store.MetaInt(meta, "pause_until_ts", 0)
	base := current
	if now > base {
		base = now
	}
	return e.store.SetMeta(ctx, tid, map[string]any{"pause_until_ts": base + durationMs})
}

func isPaused(meta store.Meta, now int64) bool {
	return store.MetaInt(meta, "pause_until_ts", 0) > now
}

func (e *Engine) seatDisplayName(ctx context.Context, tid string, seat int) string {
	if seat <= 0 {
		return "PLAYER"
	}
	pid, ok, err := e.store.GetPlayerIDForSeat(ctx, tid, seat)
	if err != nil || !ok {
		return fmt.Sprintf("PLAYER %d", seat)
	}
	pdata, err := e.store.GetPlayer(ctx, tid, pid)
	if err != nil || pdata["name"] == "" {
		return fmt.Sprintf("PLAYER %d", seat)
	}
	return upper(pdata["name"])
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

func (e *Engine) emitAnnouncement(ctx context.Context, tid string, buf *protocol.Buffer, title, tone string, durationMs int64, targetSeat int) {
	payload := map[string]any{
		"title":       title,
		"variant":     "reveal",
		"tone":        tone,
		"duration_ms": durationMs,
	}
	if targetSeat > 0 {
		payload["target_seat"] = targetSeat
	}
	buf.Emit(protocol.EventAnnouncement, payload)
	_ = e.pauseFor(ctx, tid, durationMs)
}

type betSeat struct {
	seat int
	pid  string
}

func bettingPlayers(players map[string]map[string]string) []betSeat {
	var out []betSeat
	for pid, pdata := range players {
		status := pdata["status"]
		if status == "" {
			status = "active"
		}
		if status != "active" {
			continue
		}
		if store.MetaInt(pdata, "bet", 0) <= 0 {
			continue
		}
		seat := int(store.MetaInt(pdata, "seat", 0))
		if seat > 0 {
			out = append(out, betSeat{seat: seat, pid: pid})
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].seat > out[j].seat; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func eligibleToBet(pdata map[string]string, minBet int64) bool {
	bankroll := store.MetaInt(pdata, "bankroll", 0)
	status := pdata["status"]
	if status == "" {
		status = "active"
	}
	return status == "active" && bankroll >= minBet
}

func (e *Engine) ensureShoe(ctx context.Context, tid string) error {
	meta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return err
	}
	shoeDecks := int(store.MetaInt(meta, "shoe_decks", int64(e.cfg.ShoeDecks)))
	reshufflePct := store.MetaFloat(meta, "reshuffle_when_remaining_pct", e.cfg.ReshuffleWhenRemainingPct)

	shoe, err := e.store.LoadShoe(ctx, tid)
	if err != nil {
		return err
	}
	if len(shoe) == 0 {
		fresh := cards.NewShoe(shoeDecks)
		if err := e.store.SaveShoe(ctx, tid, fresh); err != nil {
			return err
		}
		return e.store.SetShoeMeta(ctx, tid, store.ShoeMeta{
			Decks:    shoeDecks,
			CutIndex: int(float64(len(fresh)) * reshufflePct),
		})
	}

	shoeMeta, err := e.store.GetShoeMeta(ctx, tid)
	if err != nil {
		return err
	}
	if len(shoe) <= shoeMeta.CutIndex {
		fresh := cards.NewShoe(shoeDecks)
		if err := e.store.SaveShoe(ctx, tid, fresh); err != nil {
			return err
		}
		return e.store.SetShoeMeta(ctx, tid, store.ShoeMeta{
			Decks:    shoeDecks,
			CutIndex: int(float64(len(fresh)) * reshufflePct),
		})
	}
	return nil
}

func (e *Engine) drawCard(ctx context.Context, tid string) (string, error) {
	shoe, err := e.store.LoadShoe(ctx, tid)
	if err != nil {
		return "", err
	}
	if len(shoe) == 0 {
		if err := e.ensureShoe(ctx, tid); err != nil {
			return "", err
		}
		shoe, err = e.store.LoadShoe(ctx, tid)
		if err != nil {
			return "", err
		}
	}
	card := shoe[len(shoe)-1]
	shoe = shoe[:len(shoe)-1]
	if err := e.store.SaveShoe(ctx, tid, shoe); err != nil {
		return "", err
	}
	return card, nil
}

func (e *Engine) setHand(ctx context.Context, tid, handID string, cardCodes []string) error {
	return e.store.SaveHand(ctx, tid, handID, cardCodes)
}

func newHandID() string { return ids.New() }

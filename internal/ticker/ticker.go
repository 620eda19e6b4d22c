// Package ticker drives every table's phase transitions forward. The
// round and table engines never sleep or spawn per-table timers
// themselves; they only ever compare the wall clock against a deadline
// stamped in meta. This package is the single 1Hz loop that calls each
// advance/finalize step in order for every table, so rounds progress
// even when no client is sending anything.
package ticker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarm-blackjack/table-server/internal/eventstream"
	"github.com/swarm-blackjack/table-server/internal/round"
	"github.com/swarm-blackjack/table-server/internal/store"
	"github.com/swarm-blackjack/table-server/internal/table"
	"github.com/swarm-blackjack/table-server/internal/wsconn"
)

// Interval is the tick cadence. Deadlines resolve with up to a second
// of slack, which the animation timings already absorb.
const Interval = time.Second

type Ticker struct {
	store  *store.Store
	stream *eventstream.Stream
	hub    *wsconn.Hub
	round  *round.Engine
	table  *table.Engine
	log    zerolog.Logger
}

func New(s *store.Store, stream *eventstream.Stream, hub *wsconn.Hub, r *round.Engine, tbl *table.Engine, log zerolog.Logger) *Ticker {
	return &Ticker{store: s, stream: stream, hub: hub, round: r, table: tbl, log: log}
}

// Run blocks, ticking every Interval until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	tick := time.NewTicker(Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.tickAll(ctx)
		}
	}
}

func (t *Ticker) tickAll(ctx context.Context) {
	tables, err := t.store.ListTables(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("ticker: list tables failed")
		return
	}
	for _, tid := range tables {
		t.tickTable(ctx, tid)
	}
}

// step is one advance/finalize call plus the flush of whatever it
// emitted, so tickTable's step list reads as a flat, ordered pipeline.
type step func(ctx context.Context, tid string) (round.Result, error)

func (t *Ticker) tickTable(ctx context.Context, tid string) {
	meta, err := t.store.GetMeta(ctx, tid)
	if err != nil {
		t.log.Error().Err(err).Str("table_id", tid).Msg("ticker: get meta failed")
		return
	}
	if meta["phase"] == "SESSION_ENDED" {
		// Terminal phase: the closing events were flushed by whichever
		// operation ended the session, so the table can go now.
		if err := t.store.ClearTable(ctx, tid); err != nil {
			t.log.Error().Err(err).Str("table_id", tid).Msg("ticker: clear ended table failed")
		} else {
			t.log.Info().Str("table_id", tid).Msg("session ended, table cleared")
		}
		return
	}
	sessionID := meta["session_id"]
	roundID := int(store.MetaInt(meta, "round_id", 0))

	steps := []step{
		t.round.FinalizeVote,
		func(ctx context.Context, tid string) (round.Result, error) { return t.round.FinalizeBets(ctx, tid, false) },
		t.round.AdvancePendingTurn,
		t.round.AdvanceBustPending,
		t.round.AdvanceDoublePending,
		t.round.AdvanceInactiveTurn,
		t.round.AdvanceDealPending,
		t.round.AdvanceTurnStart,
		t.round.AdvanceDealer,
		t.round.AdvanceSettle,
	}

	for _, s := range steps {
		res, err := s(ctx, tid)
		if err != nil {
			t.log.Error().Err(err).Str("table_id", tid).Msg("ticker: step failed")
			continue
		}
		if len(res.Events) == 0 {
			continue
		}
		if err := t.hub.Flush(ctx, t.stream, tid, sessionID, roundID, res.Events); err != nil {
			t.log.Error().Err(err).Str("table_id", tid).Msg("ticker: flush failed")
		}
	}

	empty, err := t.table.SweepGrace(ctx, tid)
	if err != nil {
		t.log.Error().Err(err).Str("table_id", tid).Msg("ticker: sweep grace failed")
		return
	}
	if empty {
		if err := t.store.ClearTable(ctx, tid); err != nil {
			t.log.Error().Err(err).Str("table_id", tid).Msg("ticker: clear empty table failed")
		} else {
			t.log.Info().Str("table_id", tid).Msg("table emptied and cleared")
		}
	}
}

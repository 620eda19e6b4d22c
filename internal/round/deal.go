package round

import (
	"context"
	"math/rand"

	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/store"
)

// AdvanceDealPending is the ticker's advance_deal_pending step: once the
// client-side chip-drop pause set by maybeAdvanceAfterBets elapses, the
// round proceeds to dealing.
func (e *Engine) AdvanceDealPending(ctx context.Context, tid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "WAITING_FOR_BETS" || store.MetaInt(meta, "deal_pending", 0) == 0 {
			return e.store.GetSnapshot(ctx, tid)
		}
		if isPaused(meta, e.now()) {
			return e.store.GetSnapshot(ctx, tid)
		}
		if err := e.store.SetMeta(ctx, tid, map[string]any{"deal_pending": 0}); err != nil {
			return store.Snapshot{}, err
		}
		return e.finalizeBetsAndDeal(ctx, tid, buf)
	})
}

// AdvanceTurnStart is the ticker's advance_turn_start step: once the
// initial-deal animation has had time to finish, the first betting
// seat's turn begins (or the round skips straight to the dealer if no
// seat has an active bet).
func (e *Engine) AdvanceTurnStart(ctx context.Context, tid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "DEAL_INITIAL" {
			return e.store.GetSnapshot(ctx, tid)
		}
		dueTs := store.MetaInt(meta, "turn_start_due_ts", 0)
		if dueTs == 0 || isPaused(meta, e.now()) || e.now() < dueTs {
			return e.store.GetSnapshot(ctx, tid)
		}

		players, err := e.store.GetAllPlayers(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		seats := bettingPlayers(players)
		if len(seats) == 0 {
			if err := e.store.SetMeta(ctx, tid, map[string]any{"turn_start_due_ts": 0}); err != nil {
				return store.Snapshot{}, err
			}
			return e.dealerTurnAndSettle(ctx, tid, buf)
		}

		firstSeat := seats[0].seat
		if err := e.store.SetMeta(ctx, tid, map[string]any{
			"phase":             "PLAYER_TURNS",
			"turn_seat":         firstSeat,
			"turn_start_due_ts": 0,
		}); err != nil {
			return store.Snapshot{}, err
		}
		buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "PLAYER_TURNS"})
		buf.Emit(protocol.EventTurnStarted, map[string]any{"seat": firstSeat})
		e.emitAnnouncement(ctx, tid, buf, e.seatDisplayName(ctx, tid, firstSeat)+"'S TURN", "neutral", 3000, 0)
		return e.store.GetSnapshot(ctx, tid)
	})
}

func (e *Engine) dealInitial(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	preMeta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	roundID := int(store.MetaInt(preMeta, "round_id", 0))

	if err := e.ensureShoe(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.ClearHands(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"phase":                    "DEAL_INITIAL",
		"dealer_revealed":          0,
		"pending_bust_announce_ts": 0,
		"pending_bust_seat":        0,
		"pending_bust_player_id":   "",
	}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "DEAL_INITIAL"})

	if e.ledger != nil {
		if err := e.ledger.OpenRound(ctx, tid, roundID); err != nil {
			e.log.Warn().Err(err).Str("table_id", tid).Msg("ledger open round failed")
		}
	}

	dealerRule := e.cfg.DealerSoft17Mode
	if dealerRule != "S17" && dealerRule != "H17" {
		if rand.Intn(2) == 0 {
			dealerRule = "S17"
		} else {
			dealerRule = "H17"
		}
	}
	if err := e.store.SetMeta(ctx, tid, map[string]any{"dealer_soft_17_rule": dealerRule}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventRoundStarted, map[string]any{"dealer_soft_17_rule": dealerRule})

	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	seats := bettingPlayers(players)
	if len(seats) == 0 {
		return e.noBettorsPath(ctx, tid, buf)
	}

	dealStartedTs := e.now() + DealShuffleMs
	if err := e.store.SetMeta(ctx, tid, map[string]any{"deal_started_ts": dealStartedTs}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventDealStarted, map[string]any{"deal_started_ts": dealStartedTs})

	seatRank := make(map[int]int, len(seats))
	for i, s := range seats {
		seatRank[s.seat] = i
	}

	handIDs := make(map[string]string, len(seats))
	handCards := make(map[string][]string, len(seats))
	for _, s := range seats {
		handID := newHandID()
		handIDs[s.pid] = handID
		card1, err := e.drawCard(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		handCards[s.pid] = []string{card1}
		if err := e.setHand(ctx, tid, handID, handCards[s.pid]); err != nil {
			return store.Snapshot{}, err
		}
		if err := e.store.SetPlayerHandIDs(ctx, tid, s.pid, []string{handID}); err != nil {
			return store.Snapshot{}, err
		}
		buf.Emit(protocol.EventCardDealt, map[string]any{
			"to": "player", "seat": s.seat, "hand_id": handID, "card_index": 0,
			"card": card1, "face_down": false, "deal_started_ts": dealStartedTs,
			"deal_seq": seatRank[s.seat], "deal_gap_ms": DealGapMs,
		})
	}

	dealerHandID := newHandID()
	dealerUp, err := e.drawCard(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	if err := e.setHand(ctx, tid, dealerHandID, []string{dealerUp}); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.SetMeta(ctx, tid, map[string]any{"dealer_hand_id": dealerHandID}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventCardDealt, map[string]any{
		"to": "dealer", "card": dealerUp, "face_down": false,
		"deal_started_ts": dealStartedTs, "deal_seq": len(seats), "deal_gap_ms": DealGapMs,
	})

	for _, s := range seats {
		card2, err := e.drawCard(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		cards := append(handCards[s.pid], card2)
		handCards[s.pid] = cards
		if err := e.setHand(ctx, tid, handIDs[s.pid], cards); err != nil {
			return store.Snapshot{}, err
		}
		seq := len(seats) + 1 + seatRank[s.seat]
		buf.Emit(protocol.EventCardDealt, map[string]any{
			"to": "player", "seat": s.seat, "hand_id": handIDs[s.pid], "card_index": 1,
			"card": card2, "face_down": false, "deal_started_ts": dealStartedTs,
			"deal_seq": seq, "deal_gap_ms": DealGapMs,
		})
	}

	dealerHole, err := e.drawCard(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	if err := e.setHand(ctx, tid, dealerHandID, []string{dealerUp, dealerHole}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventCardDealt, map[string]any{
		"to": "dealer", "card": nil, "face_down": true,
		"deal_started_ts": dealStartedTs, "deal_seq": len(seats)*2 + 1, "deal_gap_ms": DealGapMs,
	})

	maxSeq := len(seats)*2 + 1
	turnDueTs := dealStartedTs + int64(maxSeq)*DealGapMs + DealAnimMs
	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"turn_start_due_ts":        turnDueTs,
		"turn_seat":                0,
		"deal_pending":             0,
		"dealer_revealed":          0,
		"pending_double_due_ts":    0,
		"pending_double_seat":      0,
		"pending_double_player_id": "",
		"pending_double_hand_id":   "",
		"pending_bust_announce_ts": 0,
		"pending_bust_seat":        0,
		"pending_bust_player_id":   "",
	}); err != nil {
		return store.Snapshot{}, err
	}
	return e.store.GetSnapshot(ctx, tid)
}

func (e *Engine) noBettorsPath(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	if e.cfg.AutoEndIfNoActiveBettors {
		if err := e.store.SetMeta(ctx, tid, map[string]any{"phase": "SESSION_ENDED"}); err != nil {
			return store.Snapshot{}, err
		}
		buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "SESSION_ENDED"})
		buf.Emit(protocol.EventSessionEnded, map[string]any{"table_id": tid})
		return e.store.GetSnapshot(ctx, tid)
	}

	now := e.now()
	var betDeadline int64
	if e.cfg.BetTimeSeconds > 0 {
		betDeadline = now + int64(e.cfg.BetTimeSeconds)*1000
	}
	if err := e.store.ClearBets(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.ClearHands(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"phase":                    "WAITING_FOR_BETS",
		"bet_deadline_ts":          betDeadline,
		"pending_advance_ts":       0,
		"pending_advance_seat":     0,
		"dealer_revealed":          0,
		"pending_double_due_ts":    0,
		"pending_double_seat":      0,
		"pending_double_player_id": "",
		"pending_double_hand_id":   "",
		"pending_bust_announce_ts": 0,
		"pending_bust_seat":        0,
		"pending_bust_player_id":   "",
	}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "WAITING_FOR_BETS"})
	return e.store.GetSnapshot(ctx, tid)
}

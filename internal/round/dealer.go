package round

import (
	"context"

	"github.com/swarm-blackjack/table-server/internal/cards"
	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/store"
)

// dealerTurnAndSettle enters DEALER_TURN from either the last player's
// turn advance or a no-bettor player-turn skip, priming the first
// dealer step (REVEAL) on a ticker cadence.
func (e *Engine) dealerTurnAndSettle(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"phase":              "DEALER_TURN",
		"turn_seat":          0,
		"dealer_step":        "REVEAL",
		"dealer_step_due_ts": e.now(),
	}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "DEALER_TURN"})
	return e.store.GetSnapshot(ctx, tid)
}

// AdvanceDealer is the ticker's advance_dealer step: steps the dealer
// through REVEAL -> REVEAL_WAIT -> DRAW at DealerStepMs cadence.
// Exactly one step is taken per call.
func (e *Engine) AdvanceDealer(ctx context.Context, tid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "DEALER_TURN" {
			return e.store.GetSnapshot(ctx, tid)
		}
		if isPaused(meta, e.now()) {
			return e.store.GetSnapshot(ctx, tid)
		}
		dueTs := store.MetaInt(meta, "dealer_step_due_ts", 0)
		if dueTs != 0 && e.now() < dueTs {
			return e.store.GetSnapshot(ctx, tid)
		}

		switch meta["dealer_step"] {
		case "REVEAL":
			return e.dealerStepReveal(ctx, tid, buf)
		case "REVEAL_WAIT":
			return e.dealerStepRevealWait(ctx, tid, buf)
		case "DRAW":
			return e.dealerStepDraw(ctx, tid, buf)
		default:
			return e.dealerStepReveal(ctx, tid, buf)
		}
	})
}

func (e *Engine) dealerStepReveal(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	e.emitAnnouncement(ctx, tid, buf, "DEALER REVEALS", "neutral", DealerRevealMs, 0)
	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"dealer_step":        "REVEAL_WAIT",
		"dealer_step_due_ts": e.now() + DealerRevealMs,
	}); err != nil {
		return store.Snapshot{}, err
	}
	return e.store.GetSnapshot(ctx, tid)
}

func (e *Engine) dealerStepRevealWait(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	meta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	dealerHandID := meta["dealer_hand_id"]
	handCards, err := e.store.LoadHandCards(ctx, tid, dealerHandID)
	if err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventDealerRevealHole, map[string]any{
		"cards": handCards, "deal_started_ts": e.now(), "deal_seq": 0, "deal_gap_ms": DealGapMs,
	})
	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"dealer_revealed":    1,
		"dealer_step":        "DRAW",
		"dealer_step_due_ts": e.now() + DealerStepMs,
	}); err != nil {
		return store.Snapshot{}, err
	}
	return e.store.GetSnapshot(ctx, tid)
}

func (e *Engine) dealerStepDraw(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	meta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	dealerHandID := meta["dealer_hand_id"]
	rule := meta["dealer_soft_17_rule"]

	handCards, err := e.store.LoadHandCards(ctx, tid, dealerHandID)
	if err != nil {
		return store.Snapshot{}, err
	}
	total, isSoft := cards.Value(handCards)

	shouldDraw := total < 17 || (total == 17 && isSoft && rule == "H17")
	if !shouldDraw {
		action := "stand"
		if total > 21 {
			action = "bust"
		}
		buf.Emit(protocol.EventDealerAction, map[string]any{"action": action, "total": total})
		return e.beginSettle(ctx, tid, buf)
	}

	newCard, err := e.drawCard(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	handCards = append(handCards, newCard)
	if err := e.setHand(ctx, tid, dealerHandID, handCards); err != nil {
		return store.Snapshot{}, err
	}
	newTotal, _ := cards.Value(handCards)
	buf.Emit(protocol.EventCardDealt, map[string]any{
		"to": "dealer", "card": newCard, "face_down": false,
		"deal_started_ts": e.now(), "deal_seq": 0, "deal_gap_ms": DealGapMs,
	})
	action := "draw"
	if newTotal > 21 {
		action = "bust"
	}
	buf.Emit(protocol.EventDealerAction, map[string]any{"action": action, "card": newCard, "total": newTotal})

	if newTotal > 21 {
		return e.beginSettle(ctx, tid, buf)
	}
	if err := e.store.SetMeta(ctx, tid, map[string]any{"dealer_step_due_ts": e.now() + DealerStepMs}); err != nil {
		return store.Snapshot{}, err
	}
	return e.store.GetSnapshot(ctx, tid)
}

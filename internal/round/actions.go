package round

import (
	"context"

	"github.com/swarm-blackjack/table-server/internal/cards"
	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/store"
)

// Action applies a client's hit/stand/double/next to the seat whose
// turn it currently is.
func (e *Engine) Action(ctx context.Context, tid, pid string, action protocol.Action, requestID string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "PLAYER_TURNS" {
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "actions not allowed in current phase")
		}
		now := e.now()
		if isPaused(meta, now) {
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "table is paused")
		}
		pendingTs := store.MetaInt(meta, "pending_advance_ts", 0)
		pendingSeat := int(store.MetaInt(meta, "pending_advance_seat", 0))
		if pendingTs != 0 && now < pendingTs {
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "waiting for turn resolution")
		}
		if store.MetaInt(meta, "pending_bust_announce_ts", 0) != 0 {
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "waiting for bust reveal")
		}
		if store.MetaInt(meta, "pending_double_due_ts", 0) != 0 {
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "waiting for double-down resolution")
		}

		fresh, err := e.store.MarkRequest(ctx, tid, requestID)
		if err != nil {
			return store.Snapshot{}, err
		}
		if !fresh {
			return e.store.GetSnapshot(ctx, tid)
		}

		seat, ok, err := e.store.GetSeatForPlayer(ctx, tid, pid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if !ok {
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "player not seated")
		}
		if int(store.MetaInt(meta, "turn_seat", 0)) != seat {
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "not your turn")
		}

		if pendingSeat != 0 && pendingTs == 0 {
			if seat != pendingSeat {
				return store.Snapshot{}, deny(protocol.ErrActionDenied, "not your turn")
			}
			if action != protocol.ActionNext {
				return store.Snapshot{}, deny(protocol.ErrActionDenied, "waiting for bust acknowledgment")
			}
			if err := e.store.SetMeta(ctx, tid, map[string]any{
				"pending_advance_ts": 0, "pending_advance_seat": 0,
				"pending_bust_announce_ts": 0, "pending_bust_seat": 0, "pending_bust_player_id": "",
			}); err != nil {
				return store.Snapshot{}, err
			}
			return e.advanceTurn(ctx, tid, seat, buf)
		}

		player, err := e.store.GetPlayer(ctx, tid, pid)
		if err != nil {
			return store.Snapshot{}, err
		}
		handIDs, err := e.store.GetPlayerHandIDs(ctx, tid, pid)
		if err != nil || len(handIDs) == 0 {
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "no active hand")
		}
		handID := handIDs[0]
		handCards, err := e.store.LoadHandCards(ctx, tid, handID)
		if err != nil {
			return store.Snapshot{}, err
		}

		buf.Emit(protocol.EventPlayerAction, map[string]any{"player_id": pid, "seat": seat, "action": string(action)})

		switch action {
		case protocol.ActionHit:
			return e.handleHit(ctx, tid, pid, seat, handID, handCards, buf)
		case protocol.ActionStand:
			return e.advanceTurn(ctx, tid, seat, buf)
		case protocol.ActionDouble:
			return e.handleDouble(ctx, tid, pid, seat, handID, handCards, player, buf)
		case protocol.ActionNext:
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "no bust to acknowledge")
		default:
			return store.Snapshot{}, deny(protocol.ErrActionDenied, "unknown action")
		}
	})
}

func (e *Engine) handleHit(ctx context.Context, tid, pid string, seat int, handID string, handCards []string, buf *protocol.Buffer) (store.Snapshot, error) {
	newCard, err := e.drawCard(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	handCards = append(handCards, newCard)
	if err := e.setHand(ctx, tid, handID, handCards); err != nil {
		return store.Snapshot{}, err
	}
	now := e.now()
	buf.Emit(protocol.EventCardDealt, map[string]any{
		"to": "player", "seat": seat, "hand_id": handID, "card_index": len(handCards) - 1,
		"card": newCard, "face_down": false, "deal_started_ts": now + DealGapMs,
		"deal_seq": 0, "deal_gap_ms": DealGapMs,
	})

	total, _ := cards.Value(handCards)
	if total > 21 {
		bustDueTs := now + BustRevealDelayMs
		if err := e.store.SetMeta(ctx, tid, map[string]any{
			"pending_advance_ts": 0, "pending_advance_seat": seat,
			"pending_bust_announce_ts": bustDueTs, "pending_bust_seat": seat, "pending_bust_player_id": pid,
			"pending_double_due_ts": 0, "pending_double_seat": 0,
			"pending_double_player_id": "", "pending_double_hand_id": "",
		}); err != nil {
			return store.Snapshot{}, err
		}
		buf.Emit(protocol.EventPlayerBust, map[string]any{"player_id": pid, "seat": seat, "advance_at_ts": 0, "requires_ack": true})
	}
	return e.store.GetSnapshot(ctx, tid)
}

func (e *Engine) handleDouble(ctx context.Context, tid, pid string, seat int, handID string, handCards []string, player map[string]string, buf *protocol.Buffer) (store.Snapshot, error) {
	if len(handCards) != 2 {
		return store.Snapshot{}, deny(protocol.ErrActionDenied, "double down only allowed on first decision")
	}
	bet := store.MetaInt(player, "bet", 0)
	if bet <= 0 {
		return store.Snapshot{}, deny(protocol.ErrActionDenied, "cannot double without an active bet")
	}
	bankroll := store.MetaInt(player, "bankroll", 0)
	if bankroll < bet {
		return store.Snapshot{}, deny(protocol.ErrActionDenied, "insufficient bankroll to double down")
	}

	if err := e.store.AdjustBankroll(ctx, tid, pid, -int(bet)); err != nil {
		return store.Snapshot{}, err
	}
	doubledBet := bet * 2
	if err := e.store.SetBet(ctx, tid, pid, int(doubledBet)); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventBetDoubled, map[string]any{"player_id": pid, "seat": seat, "amount": doubledBet, "added": bet})
	e.emitAnnouncement(ctx, tid, buf, e.seatDisplayName(ctx, tid, seat)+" DOUBLES DOWN", "neutral", DoubleAnnounceMs, 0)

	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"pending_double_due_ts":    e.now() + DoubleAnnounceMs,
		"pending_double_seat":      seat,
		"pending_double_player_id": pid,
		"pending_double_hand_id":   handID,
		"pending_advance_ts":       0,
		"pending_advance_seat":     0,
		"pending_bust_announce_ts": 0,
		"pending_bust_seat":        0,
		"pending_bust_player_id":   "",
	}); err != nil {
		return store.Snapshot{}, err
	}
	return e.store.GetSnapshot(ctx, tid)
}

func (e *Engine) advanceTurn(ctx context.Context, tid string, currentSeat int, buf *protocol.Buffer) (store.Snapshot, error) {
	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	seats := bettingPlayers(players)
	if len(seats) == 0 {
		return e.dealerTurnAndSettle(ctx, tid, buf)
	}

	nextSeat := 0
	for _, s := range seats {
		if s.seat > currentSeat && (nextSeat == 0 || s.seat < nextSeat) {
			nextSeat = s.seat
		}
	}
	if nextSeat == 0 {
		return e.dealerTurnAndSettle(ctx, tid, buf)
	}

	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"turn_seat": nextSeat,
		"pending_advance_ts": 0, "pending_advance_seat": 0,
		"pending_bust_announce_ts": 0, "pending_bust_seat": 0, "pending_bust_player_id": "",
		"pending_double_due_ts": 0, "pending_double_seat": 0,
		"pending_double_player_id": "", "pending_double_hand_id": "",
	}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventTurnStarted, map[string]any{"seat": nextSeat})
	e.emitAnnouncement(ctx, tid, buf, e.seatDisplayName(ctx, tid, nextSeat)+"'S TURN", "neutral", 3000, 0)
	return e.store.GetSnapshot(ctx, tid)
}

// AdvancePendingTurn is the ticker's advance_pending_turn step: once the
// auto-stand delay queued after a double-down's forced card elapses,
// the turn moves on.
func (e *Engine) AdvancePendingTurn(ctx context.Context, tid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if isPaused(meta, e.now()) || meta["phase"] != "PLAYER_TURNS" {
			return e.store.GetSnapshot(ctx, tid)
		}
		pendingTs := store.MetaInt(meta, "pending_advance_ts", 0)
		pendingSeat := int(store.MetaInt(meta, "pending_advance_seat", 0))
		if pendingTs == 0 || pendingSeat == 0 || e.now() < pendingTs {
			return e.store.GetSnapshot(ctx, tid)
		}
		if err := e.store.SetMeta(ctx, tid, map[string]any{"pending_advance_ts": 0, "pending_advance_seat": 0}); err != nil {
			return store.Snapshot{}, err
		}
		return e.advanceTurn(ctx, tid, pendingSeat, buf)
	})
}

// AdvanceBustPending is the ticker's advance_bust_pending step: fires
// the BUSTS announcement once its delay elapses.
func (e *Engine) AdvanceBustPending(ctx context.Context, tid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if isPaused(meta, e.now()) || meta["phase"] != "PLAYER_TURNS" {
			return e.store.GetSnapshot(ctx, tid)
		}
		dueTs := store.MetaInt(meta, "pending_bust_announce_ts", 0)
		seat := int(store.MetaInt(meta, "pending_bust_seat", 0))
		pid := meta["pending_bust_player_id"]
		if dueTs == 0 || seat == 0 || pid == "" || e.now() < dueTs {
			return e.store.GetSnapshot(ctx, tid)
		}
		if int(store.MetaInt(meta, "turn_seat", 0)) != seat {
			if err := e.store.SetMeta(ctx, tid, map[string]any{"pending_bust_announce_ts": 0, "pending_bust_seat": 0, "pending_bust_player_id": ""}); err != nil {
				return store.Snapshot{}, err
			}
			return e.store.GetSnapshot(ctx, tid)
		}

		e.emitAnnouncement(ctx, tid, buf, e.seatDisplayName(ctx, tid, seat)+" BUSTS", "loss", BustAnnounceMs, seat)
		if err := e.store.SetMeta(ctx, tid, map[string]any{"pending_bust_announce_ts": 0, "pending_bust_seat": 0, "pending_bust_player_id": ""}); err != nil {
			return store.Snapshot{}, err
		}
		return e.store.GetSnapshot(ctx, tid)
	})
}

// AdvanceDoublePending is the ticker's advance_double_pending step:
// deals the forced card after a double-down announcement, then either
// queues a bust reveal or a normal turn advance.
func (e *Engine) AdvanceDoublePending(ctx context.Context, tid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if isPaused(meta, e.now()) || meta["phase"] != "PLAYER_TURNS" {
			return e.store.GetSnapshot(ctx, tid)
		}
		dueTs := store.MetaInt(meta, "pending_double_due_ts", 0)
		seat := int(store.MetaInt(meta, "pending_double_seat", 0))
		pid := meta["pending_double_player_id"]
		handID := meta["pending_double_hand_id"]
		if dueTs == 0 || seat == 0 || pid == "" || handID == "" || e.now() < dueTs {
			return e.store.GetSnapshot(ctx, tid)
		}
		clearDouble := map[string]any{
			"pending_double_due_ts": 0, "pending_double_seat": 0,
			"pending_double_player_id": "", "pending_double_hand_id": "",
		}
		if int(store.MetaInt(meta, "turn_seat", 0)) != seat {
			clearDouble["pending_bust_announce_ts"] = 0
			clearDouble["pending_bust_seat"] = 0
			clearDouble["pending_bust_player_id"] = ""
			if err := e.store.SetMeta(ctx, tid, clearDouble); err != nil {
				return store.Snapshot{}, err
			}
			return e.store.GetSnapshot(ctx, tid)
		}

		handCards, err := e.store.LoadHandCards(ctx, tid, handID)
		if err != nil {
			return store.Snapshot{}, err
		}
		if len(handCards) == 0 {
			clearDouble["pending_bust_announce_ts"] = 0
			clearDouble["pending_bust_seat"] = 0
			clearDouble["pending_bust_player_id"] = ""
			if err := e.store.SetMeta(ctx, tid, clearDouble); err != nil {
				return store.Snapshot{}, err
			}
			return e.advanceTurn(ctx, tid, seat, buf)
		}

		newCard, err := e.drawCard(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		handCards = append(handCards, newCard)
		if err := e.setHand(ctx, tid, handID, handCards); err != nil {
			return store.Snapshot{}, err
		}
		now := e.now()
		buf.Emit(protocol.EventCardDealt, map[string]any{
			"to": "player", "seat": seat, "hand_id": handID, "card_index": len(handCards) - 1,
			"card": newCard, "face_down": false, "deal_started_ts": now + DealGapMs,
			"deal_seq": 0, "deal_gap_ms": DealGapMs,
		})
		clearDouble["pending_bust_announce_ts"] = 0
		clearDouble["pending_bust_seat"] = 0
		clearDouble["pending_bust_player_id"] = ""
		if err := e.store.SetMeta(ctx, tid, clearDouble); err != nil {
			return store.Snapshot{}, err
		}

		total, _ := cards.Value(handCards)
		if total > 21 {
			bustDueTs := now + BustRevealDelayMs
			if err := e.store.SetMeta(ctx, tid, map[string]any{
				"pending_advance_ts": 0, "pending_advance_seat": seat,
				"pending_bust_announce_ts": bustDueTs, "pending_bust_seat": seat, "pending_bust_player_id": pid,
			}); err != nil {
				return store.Snapshot{}, err
			}
			buf.Emit(protocol.EventPlayerBust, map[string]any{"player_id": pid, "seat": seat, "advance_at_ts": 0, "requires_ack": true})
			return e.store.GetSnapshot(ctx, tid)
		}
		if err := e.store.SetMeta(ctx, tid, map[string]any{
			"pending_advance_ts":       now + DealGapMs + DealAnimMs,
			"pending_advance_seat":     seat,
			"pending_bust_announce_ts": 0, "pending_bust_seat": 0, "pending_bust_player_id": "",
		}); err != nil {
			return store.Snapshot{}, err
		}
		return e.store.GetSnapshot(ctx, tid)
	})
}

// AdvanceInactiveTurn is the ticker's advance_inactive_turn step: skips
// a seat whose player disconnected mid-turn.
func (e *Engine) AdvanceInactiveTurn(ctx context.Context, tid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if isPaused(meta, e.now()) || meta["phase"] != "PLAYER_TURNS" {
			return e.store.GetSnapshot(ctx, tid)
		}
		if store.MetaInt(meta, "pending_advance_ts", 0) != 0 ||
			store.MetaInt(meta, "pending_bust_announce_ts", 0) != 0 ||
			store.MetaInt(meta, "pending_double_due_ts", 0) != 0 {
			return e.store.GetSnapshot(ctx, tid)
		}
		turnSeat := int(store.MetaInt(meta, "turn_seat", 0))
		if turnSeat == 0 {
			return e.store.GetSnapshot(ctx, tid)
		}

		players, err := e.store.GetAllPlayers(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		status := ""
		for _, pdata := range players {
			if int(store.MetaInt(pdata, "seat", 0)) == turnSeat {
				status = pdata["status"]
				if status == "" {
					status = "active"
				}
				break
			}
		}
		if status == "active" {
			return e.store.GetSnapshot(ctx, tid)
		}
		return e.advanceTurn(ctx, tid, turnSeat, buf)
	})
}

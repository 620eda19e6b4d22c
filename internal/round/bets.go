package round

import (
	"context"

	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/store"
)

// PlaceBet applies a client's PLACE_BET while in WAITING_FOR_BETS.
// amount=0 marks the player as sitting out this round.
func (e *Engine) PlaceBet(ctx context.Context, tid, pid string, amount int, requestID string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "WAITING_FOR_BETS" {
			return store.Snapshot{}, deny(protocol.ErrBetDenied, "not accepting bets in current phase")
		}

		fresh, err := e.store.MarkRequest(ctx, tid, requestID)
		if err != nil {
			return store.Snapshot{}, err
		}
		if !fresh {
			return e.store.GetSnapshot(ctx, tid)
		}

		deadline := store.MetaInt(meta, "bet_deadline_ts", 0)
		now := e.now()
		if deadline != 0 && now > deadline {
			return e.finalizeBetsAndDeal(ctx, tid, buf)
		}

		player, err := e.store.GetPlayer(ctx, tid, pid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if len(player) == 0 {
			return store.Snapshot{}, deny(protocol.ErrBetDenied, "unknown player")
		}

		minBet := store.MetaInt(meta, "min_bet", int64(e.cfg.MinBet))
		maxBet := store.MetaInt(meta, "max_bet", int64(e.cfg.MaxBet))
		if amount != 0 {
			if !eligibleToBet(player, minBet) {
				return store.Snapshot{}, deny(protocol.ErrBetDenied, "insufficient bankroll to bet")
			}
			if int64(amount) < minBet || int64(amount) > maxBet {
				return store.Snapshot{}, deny(protocol.ErrBetDenied, "bet amount out of bounds")
			}
		}

		// First bet wins, including an explicit sit-out: once submitted,
		// later PLACE_BETs this round are ignored.
		if store.MetaInt(player, "bet_submitted", 0) != 0 {
			return e.store.GetSnapshot(ctx, tid)
		}

		if amount > 0 {
			if err := e.store.AdjustBankroll(ctx, tid, pid, -amount); err != nil {
				return store.Snapshot{}, err
			}
		}
		if err := e.store.SetBet(ctx, tid, pid, amount); err != nil {
			return store.Snapshot{}, err
		}
		if err := e.store.SetBetSubmitted(ctx, tid, pid, true); err != nil {
			return store.Snapshot{}, err
		}
		_ = e.store.UpdateLastSeen(ctx, tid, pid)
		seat, _, _ := e.store.GetSeatForPlayer(ctx, tid, pid)
		buf.Emit(protocol.EventBetPlaced, map[string]any{"player_id": pid, "seat": seat, "amount": amount})

		return e.maybeAdvanceAfterBets(ctx, tid)
	})
}

// FinalizeBets is the ticker's finalize_bets step: once the bet
// deadline has passed (or force_timeout is set), every eligible
// non-bettor sits out or auto-bets min_bet, and the round deals.
func (e *Engine) FinalizeBets(ctx context.Context, tid string, forceTimeout bool) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if isPaused(meta, e.now()) || meta["phase"] != "WAITING_FOR_BETS" {
			return e.store.GetSnapshot(ctx, tid)
		}
		deadline := store.MetaInt(meta, "bet_deadline_ts", 0)
		now := e.now()
		if !forceTimeout && deadline != 0 && now <= deadline {
			return e.store.GetSnapshot(ctx, tid)
		}
		if deadline == 0 {
			return e.store.GetSnapshot(ctx, tid)
		}
		return e.finalizeBetsAndDeal(ctx, tid, buf)
	})
}

func (e *Engine) maybeAdvanceAfterBets(ctx context.Context, tid string) (store.Snapshot, error) {
	meta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	if isPaused(meta, e.now()) {
		if err := e.store.SetMeta(ctx, tid, map[string]any{"deal_pending": 1}); err != nil {
			return store.Snapshot{}, err
		}
		return e.store.GetSnapshot(ctx, tid)
	}
	minBet := store.MetaInt(meta, "min_bet", int64(e.cfg.MinBet))
	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	for _, pdata := range players {
		if !eligibleToBet(pdata, minBet) {
			continue
		}
		if store.MetaInt(pdata, "bet_submitted", 0) == 0 {
			return e.store.GetSnapshot(ctx, tid)
		}
	}
	if err := e.pauseFor(ctx, tid, BetToDealPauseMs); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.SetMeta(ctx, tid, map[string]any{"deal_pending": 1}); err != nil {
		return store.Snapshot{}, err
	}
	return e.store.GetSnapshot(ctx, tid)
}

func (e *Engine) finalizeBetsAndDeal(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	meta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	if isPaused(meta, e.now()) {
		if err := e.store.SetMeta(ctx, tid, map[string]any{"deal_pending": 1}); err != nil {
			return store.Snapshot{}, err
		}
		return e.store.GetSnapshot(ctx, tid)
	}

	minBet := store.MetaInt(meta, "min_bet", int64(e.cfg.MinBet))
	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	noBetBehavior := e.cfg.NoBetBehavior
	for pid, pdata := range players {
		if !eligibleToBet(pdata, minBet) {
			continue
		}
		if store.MetaInt(pdata, "bet_submitted", 0) != 0 {
			continue
		}
		if noBetBehavior == "AUTO_MIN_BET" {
			bankroll := store.MetaInt(pdata, "bankroll", 0)
			if bankroll >= minBet {
				if err := e.store.AdjustBankroll(ctx, tid, pid, -int(minBet)); err != nil {
					return store.Snapshot{}, err
				}
				if err := e.store.SetBet(ctx, tid, pid, int(minBet)); err != nil {
					return store.Snapshot{}, err
				}
				_ = e.store.SetBetSubmitted(ctx, tid, pid, true)
				seat, _, _ := e.store.GetSeatForPlayer(ctx, tid, pid)
				buf.Emit(protocol.EventBetPlaced, map[string]any{"player_id": pid, "seat": seat, "amount": minBet})
				continue
			}
		}
		_ = e.store.SetBet(ctx, tid, pid, 0)
		_ = e.store.SetBetSubmitted(ctx, tid, pid, true)
	}
	return e.dealInitial(ctx, tid, buf)
}

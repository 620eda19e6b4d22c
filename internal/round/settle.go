package round

import (
	"context"

	"github.com/swarm-blackjack/table-server/internal/cards"
	"github.com/swarm-blackjack/table-server/internal/ledger"
	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/store"
)

// Settlement reasons attached to every PAYOUT event.
const (
	reasonBlackjack       = "BLACKJACK"
	reasonDealerBlackjack = "DEALER_BLACKJACK"
	reasonBust            = "BUST"
	reasonDealerBust      = "DEALER_BUST"
	reasonWin             = "WIN"
	reasonLose            = "LOSE"
	reasonPush            = "PUSH"
)

// settlePlayer computes one bettor's payout, returning the gross
// amount credited back to bankroll (0 for a loss) and the settlement
// reason.
func settlePlayer(bet int64, playerCards []string, dealerCards []string, blackjackPayout float64) (int64, string) {
	playerTotal, _ := cards.Value(playerCards)
	dealerTotal, _ := cards.Value(dealerCards)
	playerBJ := cards.IsBlackjack(playerCards)
	dealerBJ := cards.IsBlackjack(dealerCards)

	switch {
	case playerBJ && !dealerBJ:
		bonus := int64(float64(bet)*blackjackPayout + 0.999999)
		return bet + bonus, reasonBlackjack
	case dealerBJ && !playerBJ:
		return 0, reasonDealerBlackjack
	case playerTotal > 21:
		return 0, reasonBust
	case dealerTotal > 21:
		return bet * 2, reasonDealerBust
	case playerTotal > dealerTotal:
		return bet * 2, reasonWin
	case playerTotal < dealerTotal:
		return 0, reasonLose
	default:
		return bet, reasonPush
	}
}

// beginSettle computes every bettor's payout, credits bankrolls, emits
// PAYOUT and a per-seat announcement for each, and stages the
// chip-collection pending state the ticker drives through to
// VOTE_CONTINUE.
func (e *Engine) beginSettle(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	meta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.SetMeta(ctx, tid, map[string]any{"phase": "SETTLE"}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "SETTLE"})

	dealerHandID := meta["dealer_hand_id"]
	dealerCards, err := e.store.LoadHandCards(ctx, tid, dealerHandID)
	if err != nil {
		return store.Snapshot{}, err
	}
	roundID := int(store.MetaInt(meta, "round_id", 0))
	blackjackPayout := store.MetaFloat(meta, "blackjack_payout", e.cfg.BlackjackPayout)

	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	for _, s := range bettingPlayers(players) {
		pdata := players[s.pid]
		bet := store.MetaInt(pdata, "bet", 0)
		if bet <= 0 {
			continue
		}
		handIDs, err := e.store.GetPlayerHandIDs(ctx, tid, s.pid)
		if err != nil || len(handIDs) == 0 {
			continue
		}
		playerCards, err := e.store.LoadHandCards(ctx, tid, handIDs[0])
		if err != nil {
			return store.Snapshot{}, err
		}

		payout, reason := settlePlayer(bet, playerCards, dealerCards, blackjackPayout)
		before := store.MetaInt(pdata, "bankroll", 0)
		if payout > 0 {
			if err := e.store.AdjustBankroll(ctx, tid, s.pid, int(payout)); err != nil {
				return store.Snapshot{}, err
			}
		}
		delta := payout - bet
		buf.Emit(protocol.EventPayout, map[string]any{
			"player_id": s.pid, "seat": s.seat, "delta": delta, "reason": reason,
		})

		tone, title := settleAnnouncement(reason)
		e.emitAnnouncement(ctx, tid, buf, title, tone, ChipsCollectMs, s.seat)

		e.recordLedger(ctx, tid, roundID, s.pid, ledgerEntryType(reason), delta, before, before+payout)
	}

	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"settle_pending":         1,
		"settle_collect_started": 0,
	}); err != nil {
		return store.Snapshot{}, err
	}
	return e.store.GetSnapshot(ctx, tid)
}

func ledgerEntryType(reason string) ledger.EntryType {
	switch reason {
	case reasonBlackjack:
		return ledger.EntryBlackjackWin
	case reasonWin, reasonDealerBust:
		return ledger.EntryWin
	case reasonPush:
		return ledger.EntryPush
	default:
		return ledger.EntryLoss
	}
}

func settleAnnouncement(reason string) (tone, title string) {
	switch reason {
	case reasonBlackjack:
		return "win", "BLACKJACK!"
	case reasonDealerBust, reasonWin:
		return "win", "YOU WIN"
	case reasonPush:
		return "neutral", "PUSH"
	default:
		return "loss", "YOU LOSE"
	}
}

// AdvanceSettle is the ticker's advance_settle step. It runs in two
// beats: first it emits CHIPS_COLLECT and pauses for ChipsCollectMs;
// once that pause elapses it emits HANDS_REVEALED, clears hands/bets,
// and transitions to VOTE_CONTINUE.
func (e *Engine) AdvanceSettle(ctx context.Context, tid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "SETTLE" || store.MetaInt(meta, "settle_pending", 0) == 0 {
			return e.store.GetSnapshot(ctx, tid)
		}
		if isPaused(meta, e.now()) {
			return e.store.GetSnapshot(ctx, tid)
		}

		if store.MetaInt(meta, "settle_collect_started", 0) == 0 {
			buf.Emit(protocol.EventChipsCollect, map[string]any{"duration_ms": ChipsCollectMs})
			if err := e.store.SetMeta(ctx, tid, map[string]any{"settle_collect_started": 1}); err != nil {
				return store.Snapshot{}, err
			}
			if err := e.pauseFor(ctx, tid, ChipsCollectMs); err != nil {
				return store.Snapshot{}, err
			}
			return e.store.GetSnapshot(ctx, tid)
		}

		return e.finishSettle(ctx, tid, buf)
	})
}

func (e *Engine) finishSettle(ctx context.Context, tid string, buf *protocol.Buffer) (store.Snapshot, error) {
	meta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	dealerHandID := meta["dealer_hand_id"]
	dealerCards, err := e.store.LoadHandCards(ctx, tid, dealerHandID)
	if err != nil {
		return store.Snapshot{}, err
	}
	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}

	type revealed struct {
		Seat  int      `json:"seat"`
		Cards []string `json:"cards"`
	}
	var playerViews []revealed
	for _, s := range bettingPlayers(players) {
		handIDs, err := e.store.GetPlayerHandIDs(ctx, tid, s.pid)
		if err != nil || len(handIDs) == 0 {
			continue
		}
		playerCards, err := e.store.LoadHandCards(ctx, tid, handIDs[0])
		if err != nil {
			return store.Snapshot{}, err
		}
		playerViews = append(playerViews, revealed{Seat: s.seat, Cards: playerCards})
	}
	buf.Emit(protocol.EventHandsRevealed, map[string]any{"dealer": dealerCards, "players": playerViews})

	roundID := int(store.MetaInt(meta, "round_id", 0))
	if e.ledger != nil {
		if err := e.ledger.CloseRound(ctx, tid, roundID); err != nil {
			e.log.Warn().Err(err).Str("table_id", tid).Msg("ledger close round failed")
		}
	}

	if err := e.store.ClearHands(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.ClearBets(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}

	voteDeadline := e.now() + int64(e.cfg.VoteTimeSeconds)*1000
	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"phase":                  "VOTE_CONTINUE",
		"settle_pending":         0,
		"settle_collect_started": 0,
		"vote_deadline_ts":       voteDeadline,
		"dealer_revealed":        0,
		"dealer_step":            "",
	}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "VOTE_CONTINUE"})
	buf.Emit(protocol.EventVoteStarted, map[string]any{"deadline_ts": voteDeadline})
	return e.store.GetSnapshot(ctx, tid)
}

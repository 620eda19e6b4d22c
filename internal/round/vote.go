package round

import (
	"context"

	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/store"
)

// CastVote applies a client's VOTE_CONTINUE ballot during VOTE_CONTINUE.
func (e *Engine) CastVote(ctx context.Context, tid, pid string, vote protocol.Vote, requestID string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "VOTE_CONTINUE" {
			return store.Snapshot{}, deny(protocol.ErrVoteDenied, "not accepting votes in current phase")
		}

		fresh, err := e.store.MarkRequest(ctx, tid, requestID)
		if err != nil {
			return store.Snapshot{}, err
		}
		if !fresh {
			return e.store.GetSnapshot(ctx, tid)
		}

		player, err := e.store.GetPlayer(ctx, tid, pid)
		if err != nil || len(player) == 0 {
			return store.Snapshot{}, deny(protocol.ErrVoteDenied, "unknown player")
		}
		status := player["status"]
		if status == "" {
			status = "active"
		}
		if status != "active" {
			return store.Snapshot{}, deny(protocol.ErrVoteDenied, "only active players may vote")
		}

		roundID := int(store.MetaInt(meta, "round_id", 0))
		if err := e.store.CastVote(ctx, tid, roundID, pid, string(vote)); err != nil {
			return store.Snapshot{}, err
		}
		seat := int(store.MetaInt(player, "seat", 0))
		buf.Emit(protocol.EventVoteCast, map[string]any{"player_id": pid, "seat": seat, "vote": string(vote)})

		allIn, err := e.allActiveVoted(ctx, tid, roundID)
		if err != nil {
			return store.Snapshot{}, err
		}
		if !allIn {
			return e.store.GetSnapshot(ctx, tid)
		}
		return e.tallyVote(ctx, tid, roundID, buf)
	})
}

func (e *Engine) allActiveVoted(ctx context.Context, tid string, roundID int) (bool, error) {
	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return false, err
	}
	votes, err := e.store.GetVotes(ctx, tid, roundID)
	if err != nil {
		return false, err
	}
	for pid, pdata := range players {
		status := pdata["status"]
		if status == "" {
			status = "active"
		}
		if status != "active" {
			continue
		}
		if _, ok := votes[pid]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// FinalizeVote is the ticker's finalize_vote step: once the vote
// deadline elapses (with any non-voters counted per NoVoteCountsAs),
// the tally is forced even if some active players never voted.
func (e *Engine) FinalizeVote(ctx context.Context, tid string) (Result, error) {
	return e.withLock(ctx, tid, func(buf *protocol.Buffer) (store.Snapshot, error) {
		meta, err := e.store.GetMeta(ctx, tid)
		if err != nil {
			return store.Snapshot{}, err
		}
		if meta["phase"] != "VOTE_CONTINUE" || isPaused(meta, e.now()) {
			return e.store.GetSnapshot(ctx, tid)
		}
		deadline := store.MetaInt(meta, "vote_deadline_ts", 0)
		if deadline == 0 || e.now() < deadline {
			return e.store.GetSnapshot(ctx, tid)
		}
		roundID := int(store.MetaInt(meta, "round_id", 0))
		return e.tallyVote(ctx, tid, roundID, buf)
	})
}

// tallyVote counts yes/no across every active player (absent ballots
// counted per NoVoteCountsAs), applies the tie_result rule on an even
// split, and transitions to SESSION_ENDED or back to WAITING_FOR_BETS.
func (e *Engine) tallyVote(ctx context.Context, tid string, roundID int, buf *protocol.Buffer) (store.Snapshot, error) {
	players, err := e.store.GetAllPlayers(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	votes, err := e.store.GetVotes(ctx, tid, roundID)
	if err != nil {
		return store.Snapshot{}, err
	}

	defaultVote := "no"
	if e.cfg.NoVoteCountsAs == "YES" {
		defaultVote = "yes"
	}

	var yes, no int
	for pid, pdata := range players {
		status := pdata["status"]
		if status == "" {
			status = "active"
		}
		if status != "active" {
			continue
		}
		v, ok := votes[pid]
		if !ok {
			v = defaultVote
		}
		if v == "yes" {
			yes++
		} else {
			no++
		}
	}

	var result string
	switch {
	case no > yes:
		result = "END"
	case yes > no:
		result = "CONTINUE"
	default:
		result = e.cfg.TieResult
		if result != "END" {
			result = "CONTINUE"
		}
	}

	buf.Emit(protocol.EventVoteResult, map[string]any{"result": result, "yes": yes, "no": no})
	if err := e.store.ClearVotes(ctx, tid, roundID); err != nil {
		return store.Snapshot{}, err
	}

	if result == "END" {
		if err := e.store.SetMeta(ctx, tid, map[string]any{"phase": "SESSION_ENDED", "vote_deadline_ts": 0}); err != nil {
			return store.Snapshot{}, err
		}
		buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "SESSION_ENDED"})
		buf.Emit(protocol.EventSessionEnded, map[string]any{"table_id": tid})
		return e.store.GetSnapshot(ctx, tid)
	}

	if err := e.store.ApplyPendingConfig(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.ClearBets(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}
	if err := e.store.ClearHands(ctx, tid); err != nil {
		return store.Snapshot{}, err
	}

	meta, err := e.store.GetMeta(ctx, tid)
	if err != nil {
		return store.Snapshot{}, err
	}
	nextRound := int(store.MetaInt(meta, "round_id", 0)) + 1
	now := e.now()
	var betDeadline int64
	if e.cfg.BetTimeSeconds > 0 {
		betDeadline = now + int64(e.cfg.BetTimeSeconds)*1000
	}
	if err := e.store.SetMeta(ctx, tid, map[string]any{
		"phase":            "WAITING_FOR_BETS",
		"round_id":         nextRound,
		"vote_deadline_ts": 0,
		"bet_deadline_ts":  betDeadline,
		"dealer_revealed":  0,
	}); err != nil {
		return store.Snapshot{}, err
	}
	buf.Emit(protocol.EventPhaseChanged, map[string]any{"phase": "WAITING_FOR_BETS"})
	return e.store.GetSnapshot(ctx, tid)
}

package store

import "context"

// CastVote records a player's VOTE_CONTINUE ballot for the current round.
func (s *Store) CastVote(ctx context.Context, tid string, roundID int, pid, vote string) error {
	return s.rdb.HSet(ctx, keyVote(tid, roundID), pid, vote).Err()
}

// GetVotes returns every ballot cast so far for a round, keyed by player id.
func (s *Store) GetVotes(ctx context.Context, tid string, roundID int) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, keyVote(tid, roundID)).Result()
}

// ClearVotes deletes a round's ballot hash once it has been tallied.
func (s *Store) ClearVotes(ctx context.Context, tid string, roundID int) error {
	return s.rdb.Del(ctx, keyVote(tid, roundID)).Err()
}

// Package ledger persists a durable audit trail of every settlement
// payout applied to a table's bankrolls (one row per bettor per round,
// whose amount is the net result after the bet), independent of the live Redis
// state. It has no bearing on round outcomes (the round engine never
// reads it back to decide anything); it exists purely so an operator
// can answer "what happened to this table's chips" after the fact,
// which the in-memory event stream alone does not guarantee once it
// rolls past its retained length.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Ledger wraps a PostgreSQL connection pool.
type Ledger struct {
	pool *sql.DB
	log  zerolog.Logger
}

// Open connects to Postgres and waits for it to become reachable,
// matching the connect-then-retry shape used elsewhere in this service
// for dependencies that may still be starting up.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Ledger, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	pool.SetMaxOpenConns(10)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxLifetime(5 * time.Minute)

	l := &Ledger{pool: pool, log: log}
	if err := l.waitReady(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) waitReady(ctx context.Context) error {
	for i := 0; i < 30; i++ {
		if err := l.pool.PingContext(ctx); err == nil {
			l.log.Info().Msg("ledger connected")
			return nil
		}
		l.log.Info().Int("attempt", i+1).Msg("ledger not ready, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("ledger: unavailable after 60s")
}

// Migrate creates the ledger schema if absent. Idempotent.
func (l *Ledger) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rounds (
			table_id   VARCHAR(100) NOT NULL,
			round_id   INTEGER      NOT NULL,
			opened_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			settled_at TIMESTAMPTZ,
			PRIMARY KEY (table_id, round_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id             UUID          PRIMARY KEY DEFAULT gen_random_uuid(),
			table_id       VARCHAR(100)  NOT NULL,
			round_id       INTEGER       NOT NULL,
			player_id      VARCHAR(100)  NOT NULL,
			entry_type     VARCHAR(30)   NOT NULL,
			amount         INTEGER       NOT NULL,
			balance_before INTEGER       NOT NULL,
			balance_after  INTEGER       NOT NULL,
			created_at     TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_table_round
			ON ledger_entries(table_id, round_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := l.pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: migrate: %w", err)
		}
	}
	return nil
}

// EntryType enumerates the kinds of bankroll movement the ledger
// records, mirroring the round engine's own vocabulary of outcomes.
type EntryType string

const (
	EntryBet           EntryType = "bet"
	EntryPush          EntryType = "push"
	EntryWin           EntryType = "win"
	EntryBlackjackWin  EntryType = "blackjack_win"
	EntryLoss          EntryType = "loss"
	EntrySurrenderHalf EntryType = "surrender_half"
)

// OpenRound records that a round has started, so history can be
// grouped even if a table has no winning entries that round (e.g.
// every seat sits out).
func (l *Ledger) OpenRound(ctx context.Context, tableID string, roundID int) error {
	_, err := l.pool.ExecContext(ctx,
		`INSERT INTO rounds(table_id, round_id) VALUES ($1, $2)
		 ON CONFLICT (table_id, round_id) DO NOTHING`,
		tableID, roundID,
	)
	return err
}

// CloseRound timestamps a round as settled.
func (l *Ledger) CloseRound(ctx context.Context, tableID string, roundID int) error {
	_, err := l.pool.ExecContext(ctx,
		`UPDATE rounds SET settled_at = NOW() WHERE table_id=$1 AND round_id=$2`,
		tableID, roundID,
	)
	return err
}

// Record appends one bankroll movement to the audit trail.
func (l *Ledger) Record(ctx context.Context, tableID string, roundID int, playerID string, entryType EntryType, amount, balanceBefore, balanceAfter int64) error {
	_, err := l.pool.ExecContext(ctx,
		`INSERT INTO ledger_entries(table_id, round_id, player_id, entry_type, amount, balance_before, balance_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tableID, roundID, playerID, string(entryType), amount, balanceBefore, balanceAfter,
	)
	return err
}

// Entry is one row of ledger history as returned to API callers.
type Entry struct {
	ID            string `json:"id"`
	RoundID       int    `json:"round_id"`
	PlayerID      string `json:"player_id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	CreatedAt     string `json:"created_at"`
}

// History returns the most recent ledger entries for a table, newest first.
func (l *Ledger) History(ctx context.Context, tableID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.pool.QueryContext(ctx,
		`SELECT id, round_id, player_id, entry_type, amount, balance_before, balance_after, created_at
		 FROM ledger_entries
		 WHERE table_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		tableID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.RoundID, &e.PlayerID, &e.Type, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying connection pool.
func (l *Ledger) Close() error {
	return l.pool.Close()
}

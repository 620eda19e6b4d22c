// Package config loads the table server's environment-backed settings.
// Env var names are the upper-snake form of the field.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every tunable of the round engine, lobby service and
// process bootstrap. Per-table admin overrides are staged separately in
// store meta (pending_<field>) and never mutate this struct.
type Config struct {
	Addr        string // HTTP/WS listen address, e.g. ":8080"
	RedisURL    string
	DatabaseURL string // Postgres DSN for the round/payout ledger; empty disables it
	LogLevel    string
	LogPretty   bool

	SeatCount                 int
	ShoeDecks                 int
	ReshuffleWhenRemainingPct float64
	DealerSoft17Mode          string // S17 | H17 | RANDOM_PER_ROUND
	BlackjackPayout           float64

	StartingBankroll int
	MinBet           int
	MaxBet           int

	BetTimeSeconds        int
	VoteTimeSeconds       int
	ReconnectGraceSeconds int

	MinPlayersToStart        int
	RequireReady             bool
	AllowJoinDuringSession   bool
	NoBetBehavior            string // SIT_OUT_ROUND | AUTO_MIN_BET
	NoVoteCountsAs           string // YES | NO
	TieResult                string // CONTINUE | END
	AutoEndIfNoActiveBettors bool
	ShowDealerRule           bool // expose dealer_soft_17_rule in personalized snapshots
}

// Load reads Config from the process environment, falling back to the
// defaults below for anything unset.
func Load() Config {
	return Config{
		Addr:        getEnv("ADDR", ":8080"),
		RedisURL:    getEnv("REDIS_URL", "localhost:6379"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getBool("LOG_PRETTY", false),

		SeatCount:                 getInt("SEAT_COUNT", 5),
		ShoeDecks:                 getInt("SHOE_DECKS", 6),
		ReshuffleWhenRemainingPct: getFloat("RESHUFFLE_WHEN_REMAINING_PCT", 0.25),
		DealerSoft17Mode:          strings.ToUpper(getEnv("DEALER_SOFT17_MODE", "RANDOM_PER_ROUND")),
		BlackjackPayout:           getFloat("BLACKJACK_PAYOUT", 1.5),

		StartingBankroll: getInt("STARTING_BANKROLL", 1000),
		MinBet:           getInt("MIN_BET", 10),
		MaxBet:           getInt("MAX_BET", 200),

		BetTimeSeconds:        getInt("BET_TIME_SECONDS", 30),
		VoteTimeSeconds:       getInt("VOTE_TIME_SECONDS", 15),
		ReconnectGraceSeconds: getInt("RECONNECT_GRACE_SECONDS", 300),

		MinPlayersToStart:        getInt("MIN_PLAYERS_TO_START", 2),
		RequireReady:             getBool("REQUIRE_READY", true),
		AllowJoinDuringSession:   getBool("ALLOW_JOIN_DURING_SESSION", false),
		NoBetBehavior:            strings.ToUpper(getEnv("NO_BET_BEHAVIOR", "SIT_OUT_ROUND")),
		NoVoteCountsAs:           strings.ToUpper(getEnv("NO_VOTE_COUNTS_AS", "NO")),
		TieResult:                strings.ToUpper(getEnv("TIE_RESULT", "CONTINUE")),
		AutoEndIfNoActiveBettors: getBool("AUTO_END_IF_NO_ACTIVE_BETTORS", true),
		ShowDealerRule:           getBool("SHOW_DEALER_RULE", true),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

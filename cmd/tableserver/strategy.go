package main

import (
	"encoding/json"
	"net/http"

	"github.com/swarm-blackjack/table-server/internal/strategy"
)

// strategyRequest is the POST /strategy/blackjack body: a player may
// supply either player_cards (resolved to a total/soft-ace count
// here) or player_total/player_soft_aces directly.
type strategyRequest struct {
	PlayerCards    []string `json:"player_cards,omitempty"`
	PlayerTotal    *int     `json:"player_total,omitempty"`
	PlayerSoftAces int      `json:"player_soft_aces,omitempty"`
	DealerUpcard   string   `json:"dealer_upcard"`
	Bet            int64    `json:"bet"`
	Bankroll       int64    `json:"bankroll"`
	Rule           string   `json:"rule"`
	CanDouble      *bool    `json:"can_double,omitempty"`
	InferCanDouble *bool    `json:"infer_can_double,omitempty"`
	RiskLambda     float64  `json:"risk_lambda"`
}

func (s *server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var playerTotal, playerSoftAces int
	switch {
	case len(req.PlayerCards) > 0:
		values := make([]int, 0, len(req.PlayerCards))
		for _, c := range req.PlayerCards {
			v, err := strategy.ParseCardToken(c)
			if err != nil {
				writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			values = append(values, v)
		}
		playerTotal, playerSoftAces = strategy.PlayerStateFromCards(values)
	case req.PlayerTotal != nil:
		playerTotal = *req.PlayerTotal
		playerSoftAces = req.PlayerSoftAces
	default:
		writeJSONError(w, http.StatusUnprocessableEntity, "either player_cards or player_total is required")
		return
	}

	dealerUpcard, err := strategy.ParseCardToken(req.DealerUpcard)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rule, err := strategy.ParseRule(req.Rule)
	if err != nil {
		rule = strategy.RuleS17
	}
	riskLambda := req.RiskLambda
	if riskLambda == 0 {
		riskLambda = 0.5
	}
	if riskLambda < 0 {
		riskLambda = 0
	}
	if riskLambda > 4 {
		riskLambda = 4
	}
	bankroll := req.Bankroll
	if bankroll <= 0 {
		bankroll = req.Bet * 100
	}

	canDouble := inferCanDouble(req, bankroll)

	decision := strategy.AnalyzeDecisionState(playerTotal, playerSoftAces, dealerUpcard, req.Bet, bankroll, rule, canDouble, riskLambda)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(decision)
}

// inferCanDouble resolves the can_double flag: explicit can_double
// always wins; otherwise, unless infer_can_double is explicitly false,
// it is true only when exactly two cards were supplied and the
// bankroll covers the bet.
func inferCanDouble(req strategyRequest, bankroll int64) bool {
	if req.CanDouble != nil {
		return *req.CanDouble
	}
	if req.InferCanDouble != nil && !*req.InferCanDouble {
		return false
	}
	return len(req.PlayerCards) == 2 && bankroll >= req.Bet
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

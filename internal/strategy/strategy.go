// Package strategy implements the self-contained expected-value
// analyzer exposed over POST /strategy/blackjack: dealer-outcome
// distribution, stand/hit/double delta distributions, expected
// utility, and security-level scoring for a single decision state.
//
// It is closed-form combinatorics over a fixed ten-value card deck
// under an infinite-deck draw model, so it needs only the standard
// library.
package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Rule is the dealer's soft-17 policy.
type Rule string

const (
	RuleS17 Rule = "S17"
	RuleH17 Rule = "H17"
)

func ParseRule(raw string) (Rule, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "S17":
		return RuleS17, nil
	case "H17":
		return RuleH17, nil
	default:
		return "", fmt.Errorf("invalid dealer rule: %q", raw)
	}
}

// drawOutcome is one card rank that can be drawn, with its probability
// under a continuous (infinite-deck) approximation: ten-value ranks
// account for four of thirteen ranks.
type drawOutcome struct {
	value int // 1 denotes an ace
	prob  float64
}

var drawOutcomes = []drawOutcome{
	{1, 1.0 / 13.0},
	{2, 1.0 / 13.0},
	{3, 1.0 / 13.0},
	{4, 1.0 / 13.0},
	{5, 1.0 / 13.0},
	{6, 1.0 / 13.0},
	{7, 1.0 / 13.0},
	{8, 1.0 / 13.0},
	{9, 1.0 / 13.0},
	{10, 4.0 / 13.0},
}

// ParseCardToken resolves a card string ("A", "10", "K", "QS", ...) or
// a raw numeric pip value into a canonical draw value (1 for ace,
// 2-10 otherwise).
func ParseCardToken(card string) (int, error) {
	raw := strings.ToUpper(strings.TrimSpace(card))
	if raw == "" {
		return 0, fmt.Errorf("empty card value")
	}
	if len(raw) >= 2 {
		suit := raw[len(raw)-1]
		if suit == 'S' || suit == 'H' || suit == 'D' || suit == 'C' {
			rank := raw[:len(raw)-1]
			if isKnownRank(rank) {
				raw = rank
			}
		}
	}
	switch raw {
	case "A":
		return 1, nil
	case "T", "10", "J", "Q", "K":
		return 10, nil
	case "2", "3", "4", "5", "6", "7", "8", "9":
		v := int(raw[0] - '0')
		return v, nil
	}
	return 0, fmt.Errorf("invalid card token: %q", card)
}

func isKnownRank(rank string) bool {
	switch rank {
	case "A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "T":
		return true
	}
	return false
}

func normalizeTotal(total, softAces int) (int, int) {
	for total > 21 && softAces > 0 {
		total -= 10
		softAces--
	}
	return total, softAces
}

// AddCard folds one more draw value into a running (total, softAces) pair.
func AddCard(total, softAces, drawValue int) (int, int) {
	if drawValue == 1 {
		return normalizeTotal(total+11, softAces+1)
	}
	return normalizeTotal(total+drawValue, softAces)
}

// PlayerStateFromCards reduces a card list to (total, softAces).
func PlayerStateFromCards(cardValues []int) (int, int) {
	total, softAces := 0, 0
	for _, v := range cardValues {
		total, softAces = AddCard(total, softAces, v)
	}
	return total, softAces
}

// dealerKey is a memoization key for the recursive dealer-finish search.
type dealerKey struct {
	total    int
	softAces int
	rule     Rule
}

// finishProbs is a P(17..21,bust) bucket, indices 0..5.
type finishProbs [6]float64

// dealerFinishCache memoizes the (total, soft_aces, rule) -> outcome
// search; the key space is under a hundred entries. The strategy
// endpoint is served concurrently by net/http, so the cache needs its
// own lock; it is not request-scoped.
var (
	dealerFinishMu    sync.RWMutex
	dealerFinishCache = map[dealerKey]finishProbs{}
)

func dealerFinishProbs(total, softAces int, rule Rule) finishProbs {
	total, softAces = normalizeTotal(total, softAces)
	if total > 21 {
		return finishProbs{0, 0, 0, 0, 0, 1}
	}

	key := dealerKey{total, softAces, rule}
	dealerFinishMu.RLock()
	cached, ok := dealerFinishCache[key]
	dealerFinishMu.RUnlock()
	if ok {
		return cached
	}

	isSoft := softAces > 0
	shouldDraw := total < 17 || (total == 17 && isSoft && rule == RuleH17)
	var result finishProbs
	if !shouldDraw {
		if total >= 17 && total <= 21 {
			result[total-17] = 1.0
		} else {
			result[5] = 1.0
		}
		dealerFinishMu.Lock()
		dealerFinishCache[key] = result
		dealerFinishMu.Unlock()
		return result
	}

	for _, d := range drawOutcomes {
		nextTotal, nextSoft := AddCard(total, softAces, d.value)
		child := dealerFinishProbs(nextTotal, nextSoft, rule)
		for i := range result {
			result[i] += d.prob * child[i]
		}
	}
	dealerFinishMu.Lock()
	dealerFinishCache[key] = result
	dealerFinishMu.Unlock()
	return result
}

// DealerDistribution returns P(dealer finishes at 17,18,19,20,21,bust)
// given its upcard, by averaging over the unseen hole card.
func DealerDistribution(upcardValue int, rule Rule) map[string]float64 {
	baseTotal, baseSoft := AddCard(0, 0, upcardValue)
	var totals finishProbs
	for _, hole := range drawOutcomes {
		nextTotal, nextSoft := AddCard(baseTotal, baseSoft, hole.value)
		child := dealerFinishProbs(nextTotal, nextSoft, rule)
		for i := range totals {
			totals[i] += hole.prob * child[i]
		}
	}
	return map[string]float64{
		"17": totals[0], "18": totals[1], "19": totals[2],
		"20": totals[3], "21": totals[4], "bust": totals[5],
	}
}

// Outcome is one possible bankroll delta and its probability.
type Outcome struct {
	Delta float64 `json:"delta"`
	Prob  float64 `json:"prob"`
}

func aggregateOutcomes(entries []Outcome) []Outcome {
	buckets := map[float64]float64{}
	for _, e := range entries {
		if e.Prob <= 0 {
			continue
		}
		buckets[e.Delta] += e.Prob
	}
	out := make([]Outcome, 0, len(buckets))
	for delta, prob := range buckets {
		out = append(out, Outcome{Delta: delta, Prob: prob})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Delta < out[j].Delta })
	return out
}

// StandDeltaDistribution is the outcome distribution of standing now.
func StandDeltaDistribution(playerTotal, dealerUpcard int, bet float64, rule Rule) []Outcome {
	if bet < 0 {
		bet = 0
	}
	if playerTotal > 21 {
		return []Outcome{{Delta: -bet, Prob: 1.0}}
	}

	dist := DealerDistribution(dealerUpcard, rule)
	var outcomes []Outcome
	for key, prob := range dist {
		if key == "bust" {
			outcomes = append(outcomes, Outcome{Delta: bet, Prob: prob})
			continue
		}
		dealerTotal := atoiMust(key)
		switch {
		case playerTotal > dealerTotal:
			outcomes = append(outcomes, Outcome{Delta: bet, Prob: prob})
		case playerTotal < dealerTotal:
			outcomes = append(outcomes, Outcome{Delta: -bet, Prob: prob})
		default:
			outcomes = append(outcomes, Outcome{Delta: 0, Prob: prob})
		}
	}
	return aggregateOutcomes(outcomes)
}

func atoiMust(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// HitOneStepDeltaDistribution models taking exactly one more card and
// then standing on the result, a one-ply hit model.
func HitOneStepDeltaDistribution(playerTotal, playerSoftAces, dealerUpcard int, bet float64, rule Rule) []Outcome {
	var outcomes []Outcome
	for _, d := range drawOutcomes {
		nextTotal, _ := AddCard(playerTotal, playerSoftAces, d.value)
		if nextTotal > 21 {
			outcomes = append(outcomes, Outcome{Delta: -bet, Prob: d.prob})
			continue
		}
		for _, s := range StandDeltaDistribution(nextTotal, dealerUpcard, bet, rule) {
			outcomes = append(outcomes, Outcome{Delta: s.Delta, Prob: d.prob * s.Prob})
		}
	}
	return aggregateOutcomes(outcomes)
}

// DoubleDeltaDistribution models doubling down: one forced card at
// double stakes, then stand.
func DoubleDeltaDistribution(playerTotal, playerSoftAces, dealerUpcard int, bet float64, rule Rule) []Outcome {
	stake := bet * 2.0
	var outcomes []Outcome
	for _, d := range drawOutcomes {
		nextTotal, _ := AddCard(playerTotal, playerSoftAces, d.value)
		if nextTotal > 21 {
			outcomes = append(outcomes, Outcome{Delta: -stake, Prob: d.prob})
			continue
		}
		for _, s := range StandDeltaDistribution(nextTotal, dealerUpcard, stake, rule) {
			outcomes = append(outcomes, Outcome{Delta: s.Delta, Prob: d.prob * s.Prob})
		}
	}
	return aggregateOutcomes(outcomes)
}

// ExpectedUtility applies a concave sqrt utility curve over bankroll + delta.
func ExpectedUtility(bankroll float64, outcomes []Outcome) float64 {
	total := 0.0
	for _, o := range outcomes {
		total += o.Prob * math.Sqrt(math.Max(bankroll+o.Delta, 0))
	}
	return total
}

// SecurityLevel returns (score, mean, variance) where score is a
// risk-penalized mean: mu - lambda * stdev.
func SecurityLevel(outcomes []Outcome, riskLambda float64) (score, mu, variance float64) {
	for _, o := range outcomes {
		mu += o.Delta * o.Prob
	}
	for _, o := range outcomes {
		variance += o.Prob * (o.Delta - mu) * (o.Delta - mu)
	}
	if variance < 0 {
		variance = 0
	}
	score = mu - riskLambda*math.Sqrt(variance)
	return score, mu, variance
}

// ActionResult is one of stand/hit/double's scored outcome summary.
type ActionResult struct {
	Allowed       bool      `json:"allowed"`
	EV            *float64  `json:"ev"`
	UtilityScore  *float64  `json:"utility_score"`
	SecurityScore *float64  `json:"security_score"`
	Variance      *float64  `json:"variance"`
	Outcomes      []Outcome `json:"outcomes"`
}

// Decision is the full response shape for POST /strategy/blackjack.
type Decision struct {
	Inputs          DecisionInputs          `json:"inputs"`
	DealerDist      map[string]float64      `json:"dealer_distribution"`
	Actions         map[string]ActionResult `json:"actions"`
	Recommendations map[string]*string      `json:"recommendations"`
}

type DecisionInputs struct {
	PlayerTotal    int     `json:"player_total"`
	PlayerSoftAces int     `json:"player_soft_aces"`
	DealerUpcard   string  `json:"dealer_upcard"`
	Bet            int64   `json:"bet"`
	Bankroll       int64   `json:"bankroll"`
	Rule           Rule    `json:"rule"`
	CanDouble      bool    `json:"can_double"`
	RiskLambda     float64 `json:"risk_lambda"`
}

// AnalyzeDecisionState assembles the complete decision analysis for a
// player holding (playerTotal, playerSoftAces) against a dealer
// upcard.
func AnalyzeDecisionState(playerTotal, playerSoftAces, dealerUpcard int, bet, bankroll int64, rule Rule, canDouble bool, riskLambda float64) Decision {
	betF := float64(bet)
	bankrollF := float64(bankroll)

	standOutcomes := StandDeltaDistribution(playerTotal, dealerUpcard, betF, rule)
	hitOutcomes := HitOneStepDeltaDistribution(playerTotal, playerSoftAces, dealerUpcard, betF, rule)
	var doubleOutcomes []Outcome
	if canDouble {
		doubleOutcomes = DoubleDeltaDistribution(playerTotal, playerSoftAces, dealerUpcard, betF, rule)
	}

	standScore, standMu, standVar := SecurityLevel(standOutcomes, riskLambda)
	hitScore, hitMu, hitVar := SecurityLevel(hitOutcomes, riskLambda)

	actions := map[string]ActionResult{
		"stand": {
			Allowed:       true,
			EV:            ptr(standMu),
			UtilityScore:  ptr(ExpectedUtility(bankrollF, standOutcomes)),
			SecurityScore: ptr(standScore),
			Variance:      ptr(standVar),
			Outcomes:      standOutcomes,
		},
		"hit": {
			Allowed:       true,
			EV:            ptr(hitMu),
			UtilityScore:  ptr(ExpectedUtility(bankrollF, hitOutcomes)),
			SecurityScore: ptr(hitScore),
			Variance:      ptr(hitVar),
			Outcomes:      hitOutcomes,
		},
	}
	if canDouble {
		doubleScore, doubleMu, doubleVar := SecurityLevel(doubleOutcomes, riskLambda)
		actions["double"] = ActionResult{
			Allowed:       true,
			EV:            ptr(doubleMu),
			UtilityScore:  ptr(ExpectedUtility(bankrollF, doubleOutcomes)),
			SecurityScore: ptr(doubleScore),
			Variance:      ptr(doubleVar),
			Outcomes:      doubleOutcomes,
		}
	} else {
		actions["double"] = ActionResult{Allowed: false, Outcomes: []Outcome{}}
	}

	recommendations := map[string]*string{
		"ev_maximizer":   recommend(actions, func(a ActionResult) *float64 { return a.EV }),
		"risk_averse":    recommend(actions, func(a ActionResult) *float64 { return a.UtilityScore }),
		"security_level": recommend(actions, func(a ActionResult) *float64 { return a.SecurityScore }),
	}

	upcardLabel := "A"
	if dealerUpcard != 1 {
		upcardLabel = fmt.Sprintf("%d", dealerUpcard)
	}

	return Decision{
		Inputs: DecisionInputs{
			PlayerTotal:    playerTotal,
			PlayerSoftAces: playerSoftAces,
			DealerUpcard:   upcardLabel,
			Bet:            bet,
			Bankroll:       bankroll,
			Rule:           rule,
			CanDouble:      canDouble,
			RiskLambda:     riskLambda,
		},
		DealerDist:      DealerDistribution(dealerUpcard, rule),
		Actions:         actions,
		Recommendations: recommendations,
	}
}

func recommend(actions map[string]ActionResult, metric func(ActionResult) *float64) *string {
	var bestName *string
	bestScore := math.Inf(-1)
	for _, name := range []string{"stand", "hit", "double"} {
		info, ok := actions[name]
		if !ok || !info.Allowed {
			continue
		}
		score := metric(info)
		if score == nil {
			continue
		}
		if *score > bestScore {
			bestScore = *score
			n := name
			bestName = &n
		}
	}
	return bestName
}

func ptr(f float64) *float64 { return &f }

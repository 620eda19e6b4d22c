package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumProbs(outcomes []Outcome) float64 {
	total := 0.0
	for _, o := range outcomes {
		total += o.Prob
	}
	return total
}

func TestDealerDistributionSumsToOne(t *testing.T) {
	for _, upcard := range []int{1, 2, 5, 7, 10} {
		dist := DealerDistribution(upcard, RuleS17)
		sum := 0.0
		for _, p := range dist {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "upcard %d", upcard)
	}
}

func TestDealerDistributionH17BustsMoreThanS17OnSoft17Upcard(t *testing.T) {
	s17 := DealerDistribution(6, RuleS17)
	h17 := DealerDistribution(6, RuleH17)
	assert.Greater(t, h17["bust"], s17["bust"])
}

func TestStandDeltaDistributionSortedAscendingAndSumsToOne(t *testing.T) {
	outcomes := StandDeltaDistribution(20, 6, 100, RuleS17)
	require.NotEmpty(t, outcomes)
	assert.InDelta(t, 1.0, sumProbs(outcomes), 1e-9)
	for i := 1; i < len(outcomes); i++ {
		assert.Less(t, outcomes[i-1].Delta, outcomes[i].Delta)
	}
}

func TestStandDeltaDistributionBustIsAlwaysALoss(t *testing.T) {
	outcomes := StandDeltaDistribution(22, 6, 50, RuleS17)
	require.Len(t, outcomes, 1)
	assert.Equal(t, -50.0, outcomes[0].Delta)
	assert.Equal(t, 1.0, outcomes[0].Prob)
}

func TestHitOneStepDeltaDistributionSumsToOne(t *testing.T) {
	outcomes := HitOneStepDeltaDistribution(16, 0, 10, 25, RuleS17)
	assert.InDelta(t, 1.0, sumProbs(outcomes), 1e-9)
}

func TestDoubleDeltaDistributionDoublesStakes(t *testing.T) {
	outcomes := DoubleDeltaDistribution(11, 0, 6, 20, RuleS17)
	for _, o := range outcomes {
		assert.True(t, math.Mod(o.Delta, 40) == 0 || o.Delta == 0)
	}
}

func TestSecurityLevelPenalizesVariance(t *testing.T) {
	safe := []Outcome{{Delta: 10, Prob: 1.0}}
	risky := []Outcome{{Delta: -90, Prob: 0.5}, {Delta: 110, Prob: 0.5}}

	safeScore, safeMu, _ := SecurityLevel(safe, 1.0)
	riskyScore, riskyMu, _ := SecurityLevel(risky, 1.0)

	assert.InDelta(t, 10.0, safeMu, 1e-9)
	assert.InDelta(t, 10.0, riskyMu, 1e-9)
	assert.Greater(t, safeScore, riskyScore)
}

func TestExpectedUtilityNeverNegativeBankroll(t *testing.T) {
	outcomes := []Outcome{{Delta: -1000, Prob: 1.0}}
	u := ExpectedUtility(100, outcomes)
	assert.Equal(t, 0.0, u)
}

func TestAnalyzeDecisionStateRecommendationsOnlyNameAllowedActions(t *testing.T) {
	d := AnalyzeDecisionState(12, 0, 6, 50, 1000, RuleS17, false, 1.0)
	assert.False(t, d.Actions["double"].Allowed)
	for _, key := range []string{"ev_maximizer", "risk_averse", "security_level"} {
		rec := d.Recommendations[key]
		require.NotNil(t, rec)
		assert.NotEqual(t, "double", *rec)
	}
}

func TestAnalyzeDecisionStateSixteenVsTenPrefersHit(t *testing.T) {
	d := AnalyzeDecisionState(16, 0, 10, 10, 100, RuleS17, false, 0.5)
	require.NotNil(t, d.Actions["stand"].EV)
	require.NotNil(t, d.Actions["hit"].EV)
	assert.Less(t, *d.Actions["stand"].EV, *d.Actions["hit"].EV)

	rec := d.Recommendations["ev_maximizer"]
	require.NotNil(t, rec)
	assert.Equal(t, "hit", *rec)

	sum := 0.0
	for _, p := range d.DealerDist {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestParseRuleCaseInsensitive(t *testing.T) {
	r, err := ParseRule(" s17 ")
	require.NoError(t, err)
	assert.Equal(t, RuleS17, r)
	r, err = ParseRule("h17")
	require.NoError(t, err)
	assert.Equal(t, RuleH17, r)
	_, err = ParseRule("S18")
	assert.Error(t, err)
}

func TestParseCardTokenHandlesSuitedAndBareRanks(t *testing.T) {
	cases := map[string]int{
		"A": 1, "AS": 1, "10": 10, "TD": 10, "KH": 10, "QS": 10, "JC": 10, "7": 7, "7D": 7,
	}
	for input, want := range cases {
		got, err := ParseCardToken(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}

func TestParseCardTokenRejectsGarbage(t *testing.T) {
	_, err := ParseCardToken("")
	assert.Error(t, err)
	_, err = ParseCardToken("Z")
	assert.Error(t, err)
}

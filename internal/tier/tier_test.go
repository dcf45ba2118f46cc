package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want State
	}{
		{
			name: "below threshold",
			in:   Input{CurrentStamps: 4, StampsRequired: 5},
			want: State{CurrentStamps: 4, StampsRequired: 5, Progress: 0.8},
		},
		{
			name: "reaches tier 1",
			in:   Input{CurrentStamps: 5, StampsRequired: 5},
			want: State{CurrentStamps: 5, StampsRequired: 5, Tier1Ready: true, Progress: 1},
		},
		{
			name: "redeemed blocks tier 1 regardless of stamps",
			in:   Input{CurrentStamps: 50, StampsRequired: 5, Tier1Redeemed: true},
			want: State{CurrentStamps: 50, StampsRequired: 5, Tier1Redeemed: true, Progress: 1},
		},
		{
			name: "tier 2 default threshold is twice tier 1",
			in:   Input{CurrentStamps: 10, StampsRequired: 5, Tier2Enabled: true, Tier1Redeemed: true},
			want: State{CurrentStamps: 10, StampsRequired: 5, Tier2Required: 10, Tier1Redeemed: true, Tier2Ready: true, Progress: 1},
		},
		{
			name: "tier 2 progress after redemption",
			in:   Input{CurrentStamps: 6, StampsRequired: 5, Tier2Enabled: true, Tier2StampsRequired: 12, Tier1Redeemed: true},
			want: State{CurrentStamps: 6, StampsRequired: 5, Tier2Required: 12, Tier1Redeemed: true, Progress: 0.5},
		},
		{
			name: "tier 2 disabled ignores threshold",
			in:   Input{CurrentStamps: 30, StampsRequired: 5, Tier2StampsRequired: 10},
			want: State{CurrentStamps: 30, StampsRequired: 5, Tier1Ready: true, Progress: 1},
		},
		{
			name: "zero threshold never ready",
			in:   Input{CurrentStamps: 3},
			want: State{CurrentStamps: 3, Progress: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTier2AfterRedemptionScenario(t *testing.T) {
	required := 10
	m := model.Merchant{StampsRequired: 5, Tier2Enabled: true, Tier2StampsRequired: &required}
	card := model.LoyaltyCard{CurrentStamps: 5}

	st := Evaluate(FromCard(card, m))
	assert.True(t, st.Tier1Ready)
	assert.False(t, st.Tier2Ready)

	card.Tier1Redeemed = true
	card.CurrentStamps += 5
	st = Evaluate(FromCard(card, m))
	assert.False(t, st.Tier1Ready)
	assert.True(t, st.Tier2Ready)
	assert.Equal(t, 10, st.Tier2Required)
}

func TestRewardUnlocked(t *testing.T) {
	before := Evaluate(Input{CurrentStamps: 4, StampsRequired: 5})
	after := Evaluate(Input{CurrentStamps: 5, StampsRequired: 5})
	assert.True(t, RewardUnlocked(before, after))
	assert.False(t, RewardUnlocked(after, after))

	redeemed := Evaluate(Input{CurrentStamps: 7, StampsRequired: 5, Tier1Redeemed: true})
	more := Evaluate(Input{CurrentStamps: 8, StampsRequired: 5, Tier1Redeemed: true})
	assert.False(t, RewardUnlocked(redeemed, more))
}

// Package tier computes reward readiness for a loyalty card from its stamp
// count and the merchant's thresholds.  Everything here is a pure function of
// its inputs; callers load the card and merchant themselves.
package tier

import "github.com/Kusama13/qarte-saas-sub002/internal/model"

// Input carries the values the evaluator needs.  Tier2StampsRequired of zero
// means "unset" and defaults to twice StampsRequired.
type Input struct {
	CurrentStamps       int
	StampsRequired      int
	Tier2Enabled        bool
	Tier2StampsRequired int
	Tier1Redeemed       bool
}

// State is the evaluated reward state of a card.
type State struct {
	CurrentStamps  int     `json:"current_stamps"`
	StampsRequired int     `json:"stamps_required"`
	Tier2Required  int     `json:"tier2_required,omitempty"`
	Tier1Ready     bool    `json:"tier1_ready"`
	Tier1Redeemed  bool    `json:"tier1_redeemed"`
	Tier2Ready     bool    `json:"tier2_ready"`
	Progress       float64 `json:"progress"`
}

// FromCard builds an Input from persisted rows.
func FromCard(card model.LoyaltyCard, m model.Merchant) Input {
	in := Input{
		CurrentStamps:  card.CurrentStamps,
		StampsRequired: m.StampsRequired,
		Tier2Enabled:   m.Tier2Enabled,
		Tier1Redeemed:  card.Tier1Redeemed,
	}
	if m.Tier2StampsRequired != nil {
		in.Tier2StampsRequired = *m.Tier2StampsRequired
	}
	return in
}

// Tier2Required returns the tier-2 threshold, defaulting to twice the
// tier-1 threshold when unset.  It is zero when tier 2 is disabled.
func (in Input) Tier2Required() int {
	if !in.Tier2Enabled {
		return 0
	}
	if in.Tier2StampsRequired > 0 {
		return in.Tier2StampsRequired
	}
	return in.StampsRequired * 2
}

// Evaluate derives the reward state.  Stamps are never reset by a tier-1
// redemption, so tier 2 is measured against the same running total.
func Evaluate(in Input) State {
	t2 := in.Tier2Required()
	st := State{
		CurrentStamps:  in.CurrentStamps,
		StampsRequired: in.StampsRequired,
		Tier2Required:  t2,
		Tier1Redeemed:  in.Tier1Redeemed,
		Tier1Ready:     in.StampsRequired > 0 && in.CurrentStamps >= in.StampsRequired && !in.Tier1Redeemed,
		Tier2Ready:     in.Tier2Enabled && t2 > 0 && in.CurrentStamps >= t2,
	}

	target := in.StampsRequired
	if in.Tier1Redeemed && in.Tier2Enabled {
		target = t2
	}
	st.Progress = progress(in.CurrentStamps, target)
	return st
}

// RewardUnlocked reports whether moving from before to after made a reward
// newly available.
func RewardUnlocked(before, after State) bool {
	return (after.Tier1Ready && !before.Tier1Ready) || (after.Tier2Ready && !before.Tier2Ready)
}

func progress(current, target int) float64 {
	if target <= 0 {
		return 1
	}
	p := float64(current) / float64(target)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

package rules

import (
	"github.com/soulvan/soulvan-backend/internal/domain"
)

// Effect is a one-time outcome of threshold evaluation. Amount is only set for
// reward issuance and is always integer currency units.
type Effect struct {
	Name   string
	Amount int64
}

// Rule is the per-kind threshold configuration. A zero threshold disables the
// corresponding rule.
type Rule struct {
	// ApproveVotes approves the submission once distinct votes reach it.
	ApproveVotes int64 `yaml:"approve_votes"`
	// ApproveOnOpen approves as soon as the submission passes the
	// originality gate and opens (render jobs: audit pass = approve).
	ApproveOnOpen bool `yaml:"approve_on_open"`
	// FeatureVotes features the submission once distinct votes reach it.
	FeatureVotes int64 `yaml:"feature_votes"`
	// FeatureViews features the submission once views reach it. Views are
	// deliberately not deduplicated per identity.
	FeatureViews int64 `yaml:"feature_views"`
	// RewardPerVotes and RewardUnitAmount issue floor(votes/per)*unit.
	RewardPerVotes   int64 `yaml:"reward_per_votes"`
	RewardUnitAmount int64 `yaml:"reward_unit_amount"`

	// Ranking weights for the leaderboard score function.
	VoteWeight int64 `yaml:"vote_weight"`
	PlayWeight int64 `yaml:"play_weight"`
	ViewWeight int64 `yaml:"view_weight"`
}

type Table map[domain.SubmissionKind]Rule

// Defaults returns the compiled-in rule table. The thresholds match the
// production contracts; weights are configuration, not load-bearing constants.
func Defaults() Table {
	return Table{
		domain.KindRemix: {
			ApproveVotes: 10,
			FeatureVotes: 50,
			VoteWeight:   10,
			PlayWeight:   1,
		},
		domain.KindVoiceClip: {
			FeatureVotes: 20,
			VoteWeight:   10,
			PlayWeight:   1,
		},
		domain.KindReplay: {
			FeatureViews: 100,
			VoteWeight:   10,
			ViewWeight:   1,
		},
		domain.KindTuningKit: {
			RewardPerVotes:   10,
			RewardUnitAmount: 1,
			VoteWeight:       10,
		},
		domain.KindRenderJob: {
			ApproveOnOpen: true,
			VoteWeight:    10,
		},
	}
}

func (t Table) Rule(kind domain.SubmissionKind) Rule {
	return t[kind]
}

// Evaluate maps a counter snapshot to the set of effects that newly become
// due. applied reports effects that already fired for this submission, so
// re-evaluating an unchanged snapshot is a no-op.
func Evaluate(rule Rule, counters map[string]int64, applied func(string) bool) []Effect {
	var out []Effect

	votes := counters[domain.CounterVotes]
	views := counters[domain.CounterViews]

	if rule.ApproveVotes > 0 && votes >= rule.ApproveVotes && !applied(domain.EffectApprove) {
		out = append(out, Effect{Name: domain.EffectApprove})
	}
	if rule.FeatureVotes > 0 && votes >= rule.FeatureVotes && !applied(domain.EffectFeature) {
		out = append(out, Effect{Name: domain.EffectFeature})
	}
	if rule.FeatureViews > 0 && views >= rule.FeatureViews && !applied(domain.EffectFeature) {
		out = append(out, Effect{Name: domain.EffectFeature})
	}
	if amount := RewardAmount(rule, votes); amount > 0 && !applied(domain.EffectReward) {
		out = append(out, Effect{Name: domain.EffectReward, Amount: amount})
	}
	return out
}

// OnOpen returns the effects due the moment a submission opens for voting.
func OnOpen(rule Rule, applied func(string) bool) []Effect {
	if rule.ApproveOnOpen && !applied(domain.EffectApprove) {
		return []Effect{{Name: domain.EffectApprove}}
	}
	return nil
}

// RewardAmount computes the reward in integer units. The fractional remainder
// is truncated, never rounded, because the amount authorizes a transfer.
func RewardAmount(rule Rule, votes int64) int64 {
	if rule.RewardPerVotes <= 0 || rule.RewardUnitAmount <= 0 {
		return 0
	}
	return (votes / rule.RewardPerVotes) * rule.RewardUnitAmount
}

// RankScore is the leaderboard ordering key: a weighted linear combination of
// counters. Ties are broken by the caller on created_at.
func RankScore(rule Rule, counters map[string]int64) int64 {
	return counters[domain.CounterVotes]*rule.VoteWeight +
		counters[domain.CounterPlays]*rule.PlayWeight +
		counters[domain.CounterViews]*rule.ViewWeight
}

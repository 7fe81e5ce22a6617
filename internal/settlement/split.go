// Package settlement converts the final per-day review outcomes of a closed
// challenge into an all-or-nothing financial verdict per participant and
// drives the resulting escrow payouts. Money moves exactly once: winners get
// their stake back plus a progress-weighted share of the forfeited pool,
// losers forfeit their stake into that pool.
package settlement

import (
	"math/big"
	"sort"
)

// Outcome is a participant's final verdict.
type Outcome string

const (
	OutcomeWinner Outcome = "winner"
	OutcomeLoser  Outcome = "loser"
)

// Participant is the settlement view of a challenge member: identity, the
// wallet to pay, and the review-derived completion percentage.
type Participant struct {
	ID          int64
	UserID      string
	Wallet      string
	StakeAmount uint64
	Progress    int
}

// Share is one participant's line in the settlement ledger. RewardAmount is
// the bonus on top of the returned stake; PayoutTotal is what actually moves
// to a winner's wallet.
type Share struct {
	Participant   Participant
	Outcome       Outcome
	StakeReturned bool
	RewardAmount  uint64
	PayoutTotal   uint64
}

// Result is the persisted settlement snapshot for one run.
type Result struct {
	ThresholdBps      int     `json:"thresholdBps"`
	TotalParticipants int     `json:"totalParticipants"`
	Winners           int     `json:"winners"`
	Losers            int     `json:"losers"`
	SuccessRate       float64 `json:"successRate"`
	TotalStaked       uint64  `json:"totalStaked"`
	PrizePool         uint64  `json:"prizePool"`
	RewardPool        uint64  `json:"rewardPool"`
	TotalRewards      uint64  `json:"totalRewardsDistributed"`
	UnallocatedPool   uint64  `json:"unallocatedPool"`
	Shares            []Share `json:"shares"`
}

// IsWinner applies the completion threshold. Progress is a percentage, the
// threshold is in basis points.
func IsWinner(progress, thresholdBps int) bool {
	return progress*100 >= thresholdBps
}

// Compute partitions participants against the threshold and splits the
// reward pool (forfeited loser stakes plus any externally funded prize pool)
// across winners, weighted by progress. The split is exact integer
// arithmetic; the division remainder goes to the highest-progress winner so
// no base unit is minted or lost.
func Compute(participants []Participant, thresholdBps int, prizePool uint64) Result {
	res := Result{
		ThresholdBps:      thresholdBps,
		TotalParticipants: len(participants),
		PrizePool:         prizePool,
		Shares:            make([]Share, 0, len(participants)),
	}

	var forfeited uint64
	for _, p := range participants {
		res.TotalStaked += p.StakeAmount
		share := Share{Participant: p}
		if IsWinner(p.Progress, thresholdBps) {
			share.Outcome = OutcomeWinner
			share.StakeReturned = true
			res.Winners++
		} else {
			share.Outcome = OutcomeLoser
			forfeited += p.StakeAmount
			res.Losers++
		}
		res.Shares = append(res.Shares, share)
	}
	if res.TotalParticipants > 0 {
		res.SuccessRate = float64(res.Winners) / float64(res.TotalParticipants)
	}
	res.RewardPool = forfeited + prizePool

	if res.Winners == 0 {
		// Nothing to distribute to; the pool stays in escrow and is
		// reported rather than silently dropped.
		res.UnallocatedPool = res.RewardPool
		SortShares(res.Shares)
		return res
	}

	distributeRewards(res.Shares, res.RewardPool)

	for i := range res.Shares {
		s := &res.Shares[i]
		if s.Outcome == OutcomeWinner {
			s.PayoutTotal = s.Participant.StakeAmount + s.RewardAmount
			res.TotalRewards += s.RewardAmount
		}
	}
	SortShares(res.Shares)
	return res
}

// distributeRewards splits pool across the winners in shares, weighted by
// progress. Weights of zero across the board degrade to an equal split.
func distributeRewards(shares []Share, pool uint64) {
	if pool == 0 {
		return
	}

	winners := make([]*Share, 0, len(shares))
	totalWeight := int64(0)
	for i := range shares {
		if shares[i].Outcome != OutcomeWinner {
			continue
		}
		winners = append(winners, &shares[i])
		totalWeight += int64(shares[i].Participant.Progress)
	}

	weightOf := func(s *Share) int64 { return int64(s.Participant.Progress) }
	if totalWeight == 0 {
		weightOf = func(*Share) int64 { return 1 }
		totalWeight = int64(len(winners))
	}

	// Stake amounts live at the top of the uint64 range in base units, so
	// pool*weight is computed in big.Int.
	bigPool := new(big.Int).SetUint64(pool)
	bigTotal := big.NewInt(totalWeight)

	var distributed uint64
	for _, w := range winners {
		amount := new(big.Int).Mul(bigPool, big.NewInt(weightOf(w)))
		amount.Quo(amount, bigTotal)
		w.RewardAmount = amount.Uint64()
		distributed += w.RewardAmount
	}

	// Remainder to the highest-progress winner; ties break toward the
	// earliest participant for determinism.
	if rem := pool - distributed; rem > 0 {
		top := winners[0]
		for _, w := range winners[1:] {
			if weightOf(w) > weightOf(top) {
				top = w
			}
		}
		top.RewardAmount += rem
	}
}

// SortShares orders a settlement ledger for presentation: winners first by
// descending progress, then losers.
func SortShares(shares []Share) {
	sort.SliceStable(shares, func(i, j int) bool {
		a, b := shares[i], shares[j]
		if a.Outcome != b.Outcome {
			return a.Outcome == OutcomeWinner
		}
		return a.Participant.Progress > b.Participant.Progress
	})
}

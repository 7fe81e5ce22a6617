package settlement

import "testing"

func part(id int64, stake uint64, progress int) Participant {
	return Participant{ID: id, UserID: "user", Wallet: "wallet", StakeAmount: stake, Progress: progress}
}

func TestThresholdBoundary(t *testing.T) {
	cases := []struct {
		progress int
		want     bool
	}{
		{79, false},
		{80, true},
		{81, true},
		{0, false},
		{100, true},
	}
	for _, tc := range cases {
		if got := IsWinner(tc.progress, 8000); got != tc.want {
			t.Errorf("IsWinner(%d, 8000) = %v, want %v", tc.progress, got, tc.want)
		}
	}
}

func TestComputePartition(t *testing.T) {
	res := Compute([]Participant{
		part(1, 100, 100),
		part(2, 100, 80),
		part(3, 100, 79),
		part(4, 100, 0),
	}, 8000, 0)

	if res.Winners != 2 || res.Losers != 2 {
		t.Fatalf("winners=%d losers=%d, want 2/2", res.Winners, res.Losers)
	}
	if res.SuccessRate != 0.5 {
		t.Errorf("successRate = %f, want 0.5", res.SuccessRate)
	}
	if res.RewardPool != 200 {
		t.Errorf("rewardPool = %d, want 200 (forfeited stakes)", res.RewardPool)
	}
	for _, s := range res.Shares {
		switch s.Outcome {
		case OutcomeWinner:
			if !s.StakeReturned {
				t.Errorf("winner %d did not get stake back", s.Participant.ID)
			}
			if s.PayoutTotal != s.Participant.StakeAmount+s.RewardAmount {
				t.Errorf("winner %d payout %d != stake+reward", s.Participant.ID, s.PayoutTotal)
			}
		case OutcomeLoser:
			if s.StakeReturned || s.RewardAmount != 0 || s.PayoutTotal != 0 {
				t.Errorf("loser %d share = %+v, want nothing", s.Participant.ID, s)
			}
		}
	}
}

func TestComputeConservesValue(t *testing.T) {
	parts := []Participant{
		part(1, 1_000_000, 95),
		part(2, 1_000_000, 86),
		part(3, 1_000_000, 80),
		part(4, 1_000_000, 71),
		part(5, 1_000_000, 14),
	}
	const prizePool = 500_000
	res := Compute(parts, 8000, prizePool)

	var forfeited, rewards uint64
	for _, s := range res.Shares {
		if s.Outcome == OutcomeLoser {
			forfeited += s.Participant.StakeAmount
		}
		rewards += s.RewardAmount
	}
	// Every base unit of the pool is either distributed or reported as
	// unallocated.
	if rewards+res.UnallocatedPool != forfeited+prizePool {
		t.Errorf("rewards %d + unallocated %d != forfeited %d + prize %d",
			rewards, res.UnallocatedPool, forfeited, prizePool)
	}
	if res.TotalRewards != rewards {
		t.Errorf("TotalRewards = %d, want %d", res.TotalRewards, rewards)
	}
	if res.UnallocatedPool != 0 {
		t.Errorf("unallocated = %d with winners present", res.UnallocatedPool)
	}
}

func TestComputeWeightsByProgress(t *testing.T) {
	res := Compute([]Participant{
		part(1, 1000, 100),
		part(2, 1000, 85),
		part(3, 1000, 10),
	}, 8000, 0)

	byID := map[int64]Share{}
	for _, s := range res.Shares {
		byID[s.Participant.ID] = s
	}
	if byID[1].RewardAmount <= byID[2].RewardAmount {
		t.Errorf("progress 100 reward %d not strictly above progress 85 reward %d",
			byID[1].RewardAmount, byID[2].RewardAmount)
	}
}

func TestComputeRemainderGoesToTopWinner(t *testing.T) {
	// Pool of 1000 over weights 100+85 leaves a remainder after the
	// integer division; it must land on the higher-progress winner.
	res := Compute([]Participant{
		part(1, 500, 100),
		part(2, 500, 85),
		part(3, 1000, 0),
	}, 8000, 0)

	var total uint64
	var top Share
	for _, s := range res.Shares {
		total += s.RewardAmount
		if s.Participant.ID == 1 {
			top = s
		}
	}
	if total != 1000 {
		t.Fatalf("distributed %d of 1000", total)
	}
	// floor(1000*100/185) = 540, floor(1000*85/185) = 459, remainder 1.
	if top.RewardAmount != 541 {
		t.Errorf("top winner reward = %d, want 541", top.RewardAmount)
	}
}

func TestComputeNoWinners(t *testing.T) {
	res := Compute([]Participant{
		part(1, 700, 50),
		part(2, 300, 10),
	}, 8000, 250)

	if res.Winners != 0 {
		t.Fatalf("winners = %d", res.Winners)
	}
	if res.UnallocatedPool != 1250 {
		t.Errorf("unallocated = %d, want forfeited+prize = 1250", res.UnallocatedPool)
	}
	if res.TotalRewards != 0 {
		t.Errorf("rewards distributed with no winners: %d", res.TotalRewards)
	}
}

func TestComputeZeroWeightWinnersSplitEqually(t *testing.T) {
	// Threshold 0 makes everyone a winner even at zero progress; the
	// split degrades to equal shares instead of dividing by zero.
	res := Compute([]Participant{
		part(1, 100, 0),
		part(2, 100, 0),
	}, 0, 500)

	if res.Winners != 2 {
		t.Fatalf("winners = %d", res.Winners)
	}
	var total uint64
	for _, s := range res.Shares {
		total += s.RewardAmount
	}
	if total != 500 {
		t.Errorf("distributed %d of 500", total)
	}
}

func TestComputeEmpty(t *testing.T) {
	res := Compute(nil, 8000, 0)
	if res.TotalParticipants != 0 || res.SuccessRate != 0 || len(res.Shares) != 0 {
		t.Errorf("empty settlement = %+v", res)
	}
}

func TestSortShares(t *testing.T) {
	shares := []Share{
		{Participant: part(1, 0, 50), Outcome: OutcomeLoser},
		{Participant: part(2, 0, 90), Outcome: OutcomeWinner},
		{Participant: part(3, 0, 100), Outcome: OutcomeWinner},
	}
	SortShares(shares)
	wantOrder := []int64{3, 2, 1}
	for i, want := range wantOrder {
		if shares[i].Participant.ID != want {
			t.Errorf("position %d = participant %d, want %d", i, shares[i].Participant.ID, want)
		}
	}
}

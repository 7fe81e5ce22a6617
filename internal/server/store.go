package server

import (
	"context"
	"errors"

	"github.com/stakestreak/api/internal/calendar"
	"github.com/stakestreak/api/internal/settlement"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyJoined   = errors.New("user already joined this challenge")
	ErrSignatureUsed   = errors.New("transaction signature already funds another participant")
	ErrAlreadyReviewed = errors.New("submission already has a terminal review decision")
	ErrHasParticipants = errors.New("challenge has participants")
)

// Challenge is a time-boxed staking challenge. Status is derived from the
// window and the settlement record, never stored.
type Challenge struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	StakeAmount    uint64  `json:"stakeAmount"`
	TotalPrizePool uint64  `json:"totalPrizePool"`
	StartDate      string  `json:"startDate"`
	EndDate        string  `json:"endDate"`
	EscrowAddress  string  `json:"escrowAddress"`
	ThresholdBps   int     `json:"completionThresholdBps"`
	SettledAt      *string `json:"settledAt,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

// Participant is one user's stake in one challenge.
type Participant struct {
	ID                   int64  `json:"id"`
	ChallengeID          int64  `json:"challengeId"`
	UserID               string `json:"userId"`
	WalletAddress        string `json:"walletAddress"`
	StakeAmount          uint64 `json:"stakeAmount"`
	TransactionSignature string `json:"transactionSignature"`
	Progress             int    `json:"progress"`
	Status               string `json:"status"`
	JoinedAt             string `json:"joinedAt"`
}

// Submission is one daily proof.
type Submission struct {
	ID             int64                 `json:"id"`
	ParticipantID  int64                 `json:"participantId"`
	SubmissionDate string                `json:"submissionDate"`
	ImageRef       string                `json:"imageRef"`
	Description    string                `json:"description"`
	ReviewStatus   calendar.ReviewStatus `json:"reviewStatus"`
	ReviewComments string                `json:"reviewComments,omitempty"`
	ReviewedAt     *string               `json:"reviewedAt,omitempty"`
}

// ReviewItem is a pending submission joined with its participant and
// challenge context for the admin review queue.
type ReviewItem struct {
	Submission
	ChallengeID    int64  `json:"challengeId"`
	ChallengeTitle string `json:"challengeTitle"`
	UserID         string `json:"userId"`
}

// Payout is one recorded escrow transfer to a winner.
type Payout struct {
	ID            int64  `json:"id"`
	ChallengeID   int64  `json:"challengeId"`
	ParticipantID int64  `json:"participantId"`
	RunID         string `json:"runId"`
	Amount        uint64 `json:"amount"`
	Status        string `json:"status"`
	Signature     string `json:"signature,omitempty"`
	Error         string `json:"error,omitempty"`
}

// SettlementRun is a persisted settlement snapshot.
type SettlementRun struct {
	RunID       string `json:"runId"`
	ChallengeID int64  `json:"challengeId"`
	Result      string `json:"result"` // JSON-encoded settlement.RunReport
	CreatedAt   string `json:"createdAt"`
}

type Store interface {
	ListChallenges(ctx context.Context) ([]Challenge, error)
	GetChallenge(ctx context.Context, id int64) (Challenge, error)
	CreateChallenge(ctx context.Context, c Challenge) (Challenge, error)
	UpdateChallenge(ctx context.Context, id int64, c Challenge) (Challenge, error)
	DeleteChallenge(ctx context.Context, id int64) error
	ChallengeHasParticipants(ctx context.Context, id int64) (bool, error)
	MarkChallengeSettled(ctx context.Context, id int64) error

	CreateParticipant(ctx context.Context, p Participant) (Participant, error)
	GetParticipant(ctx context.Context, challengeID int64, userID string) (Participant, error)
	GetParticipantByID(ctx context.Context, id int64) (Participant, error)
	ListParticipants(ctx context.Context, challengeID int64) ([]Participant, error)
	SettlementParticipants(ctx context.Context, challengeID int64) ([]settlement.Participant, error)

	UpsertSubmission(ctx context.Context, s Submission) (Submission, error)
	GetSubmission(ctx context.Context, id int64) (ReviewItem, error)
	SubmissionsForParticipant(ctx context.Context, participantID int64) ([]Submission, error)
	PendingSubmissions(ctx context.Context) ([]ReviewItem, error)
	DecideSubmission(ctx context.Context, id int64, decision calendar.ReviewStatus, comment string) (ReviewItem, error)

	SaveSettlementRun(ctx context.Context, challengeID int64, runID, result string) error
	LatestSettlementRun(ctx context.Context, challengeID int64) (SettlementRun, error)
	ListPayouts(ctx context.Context, challengeID int64) ([]Payout, error)

	// settlement.Recorder
	ClaimPayout(ctx context.Context, runID string, participantID int64, amount uint64) (int64, error)
	CompletePayout(ctx context.Context, payoutID int64, signature string) error
	FailPayout(ctx context.Context, payoutID int64, reason string) error
	MarkPayoutUnconfirmed(ctx context.Context, payoutID int64, signature string) error
	SetParticipantOutcome(ctx context.Context, participantID int64, outcome settlement.Outcome, progress int) error
}

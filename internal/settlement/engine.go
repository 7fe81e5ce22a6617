package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrAlreadyPaid is returned by Recorder.ClaimPayout when a payout row for
// the participant already exists. The engine treats it as a successful
// no-op so settlement can be re-run safely.
var ErrAlreadyPaid = errors.New("participant already paid in this challenge")

// ErrPayoutUnresolved is returned by Recorder.ClaimPayout while a previous
// transfer for the participant is still awaiting reconciliation. The funds
// may already have moved, so the engine must not issue another transfer.
var ErrPayoutUnresolved = errors.New("payout has an unresolved transfer awaiting reconciliation")

// Payer executes a single outbound escrow transfer and returns the
// transaction signature.
type Payer interface {
	Payout(ctx context.Context, wallet string, amount uint64) (string, error)
}

// Recorder persists the per-participant payout trail. ClaimPayout must be
// atomic against concurrent settlement runs: the first claim for a
// participant wins, every later one gets ErrAlreadyPaid.
type Recorder interface {
	ClaimPayout(ctx context.Context, runID string, participantID int64, amount uint64) (int64, error)
	CompletePayout(ctx context.Context, payoutID int64, signature string) error
	FailPayout(ctx context.Context, payoutID int64, reason string) error
	MarkPayoutUnconfirmed(ctx context.Context, payoutID int64, signature string) error
	SetParticipantOutcome(ctx context.Context, participantID int64, outcome Outcome, progress int) error
}

// PayoutTimeoutQueue parks payouts whose transfer was submitted but whose
// confirmation outcome is unknown, so they can be reconciled instead of
// reissued.
type PayoutTimeoutQueue interface {
	EnqueuePayout(ctx context.Context, payoutID int64, signature string) error
}

// PayoutStatus is the terminal state of one payout attempt.
type PayoutStatus string

const (
	PayoutPaid    PayoutStatus = "PAID"
	PayoutSkipped PayoutStatus = "SKIPPED"
	PayoutFailed  PayoutStatus = "FAILED"
	// PayoutUnconfirmed means the transfer was submitted but its confirmation
	// timed out. The row is frozen until reconciliation resolves the
	// signature; retrying before that could pay the winner twice.
	PayoutUnconfirmed PayoutStatus = "UNCONFIRMED"
)

// PayoutReceipt reports one participant's payout attempt within a run.
type PayoutReceipt struct {
	ParticipantID int64        `json:"participantId"`
	Amount        uint64       `json:"amount"`
	Status        PayoutStatus `json:"status"`
	Signature     string       `json:"signature,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// RunReport is the outcome of executing a settlement: the computed ledger
// plus what actually happened to each payout.
type RunReport struct {
	RunID    string          `json:"runId"`
	Result   Result          `json:"result"`
	Receipts []PayoutReceipt `json:"receipts"`
}

// Failed counts payouts not known to have reached the wallet: outright
// failures plus transfers still awaiting reconciliation. A challenge is not
// settled while this is non-zero.
func (r *RunReport) Failed() int {
	n := 0
	for _, rc := range r.Receipts {
		if rc.Status == PayoutFailed || rc.Status == PayoutUnconfirmed {
			n++
		}
	}
	return n
}

// Engine executes settlement runs. Payouts go out concurrently up to the
// configured limit, throttled against the ledger RPC by the shared rate
// limiter. One participant's failed payout never blocks or rolls back the
// others.
type Engine struct {
	payer       Payer
	recorder    Recorder
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
	timeouts    PayoutTimeoutQueue
}

// SetTimeoutQueue enables reconciliation for transfers that time out waiting
// for confirmation. A timed-out payout is frozen as UNCONFIRMED either way;
// without a queue it stays frozen until an operator resolves it.
func (e *Engine) SetTimeoutQueue(q PayoutTimeoutQueue) {
	e.timeouts = q
}

func NewEngine(payer Payer, recorder Recorder, limiter *rate.Limiter, concurrency int, logger *slog.Logger) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		payer:       payer,
		recorder:    recorder,
		limiter:     limiter,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run settles a closed challenge: computes the ledger, records every
// participant's final outcome, and pays each winner. The returned report
// includes a receipt for every winner, failed ones included. The error
// return covers only run-level faults; per-participant payout failures are
// reported in the receipts.
func (e *Engine) Run(ctx context.Context, participants []Participant, thresholdBps int, prizePool uint64) (*RunReport, error) {
	report := &RunReport{
		RunID:  uuid.NewString(),
		Result: Compute(participants, thresholdBps, prizePool),
	}
	log := e.logger.With("run_id", report.RunID)
	log.Info("settlement run started",
		"participants", report.Result.TotalParticipants,
		"winners", report.Result.Winners,
		"reward_pool", report.Result.RewardPool)

	for _, s := range report.Result.Shares {
		if err := e.recorder.SetParticipantOutcome(ctx, s.Participant.ID, s.Outcome, s.Participant.Progress); err != nil {
			return nil, fmt.Errorf("recording outcome for participant %d: %w", s.Participant.ID, err)
		}
	}

	var (
		mu       sync.Mutex
		receipts []PayoutReceipt
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, s := range report.Result.Shares {
		if s.Outcome != OutcomeWinner {
			continue
		}
		share := s
		g.Go(func() error {
			receipt := e.payWinner(gctx, report.RunID, share)
			mu.Lock()
			receipts = append(receipts, receipt)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Receipts = receipts
	log.Info("settlement run finished",
		"paid", len(receipts)-report.Failed(), "failed", report.Failed())
	return report, nil
}

func (e *Engine) payWinner(ctx context.Context, runID string, share Share) PayoutReceipt {
	receipt := PayoutReceipt{
		ParticipantID: share.Participant.ID,
		Amount:        share.PayoutTotal,
	}
	log := e.logger.With("run_id", runID,
		"participant_id", share.Participant.ID, "amount", share.PayoutTotal)

	payoutID, err := e.recorder.ClaimPayout(ctx, runID, share.Participant.ID, share.PayoutTotal)
	if errors.Is(err, ErrAlreadyPaid) {
		log.Info("payout already issued, skipping")
		receipt.Status = PayoutSkipped
		return receipt
	}
	if errors.Is(err, ErrPayoutUnresolved) {
		log.Warn("payout has an unreconciled transfer, not reissuing")
		receipt.Status = PayoutUnconfirmed
		receipt.Error = err.Error()
		return receipt
	}
	if err != nil {
		log.Error("claiming payout", "error", err)
		receipt.Status = PayoutFailed
		receipt.Error = err.Error()
		return receipt
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			receipt.Status = PayoutFailed
			receipt.Error = err.Error()
			e.recordFailure(payoutID, err)
			return receipt
		}
	}

	sig, err := e.payer.Payout(ctx, share.Participant.Wallet, share.PayoutTotal)
	if err != nil {
		// A submitted transfer with an unknown outcome must never be
		// reissued. Freeze the row and park the signature; the reconciler
		// resolves it to PAID or FAILED.
		var timedOut interface{ TimedOutSignature() string }
		if errors.As(err, &timedOut) {
			log.Warn("payout confirmation timed out, freezing for reconciliation",
				"signature", timedOut.TimedOutSignature())
			receipt.Status = PayoutUnconfirmed
			receipt.Signature = timedOut.TimedOutSignature()
			receipt.Error = err.Error()
			e.recordUnconfirmed(payoutID, timedOut.TimedOutSignature())
			if e.timeouts != nil {
				if qerr := e.timeouts.EnqueuePayout(context.Background(), payoutID, timedOut.TimedOutSignature()); qerr != nil {
					log.Error("queuing payout for reconciliation", "error", qerr)
				}
			}
			return receipt
		}

		log.Error("payout transfer failed", "error", err)
		receipt.Status = PayoutFailed
		receipt.Error = err.Error()
		e.recordFailure(payoutID, err)
		return receipt
	}

	if err := e.recorder.CompletePayout(ctx, payoutID, sig); err != nil {
		// The transfer happened; the record must say so even if this
		// write raced a shutdown.
		log.Error("recording completed payout", "error", err, "signature", sig)
	}
	receipt.Status = PayoutPaid
	receipt.Signature = sig
	log.Info("payout confirmed", "signature", sig)
	return receipt
}

func (e *Engine) recordFailure(payoutID int64, cause error) {
	// Failure records are written with a fresh context so a canceled run
	// still leaves an audit trail.
	if err := e.recorder.FailPayout(context.Background(), payoutID, cause.Error()); err != nil {
		e.logger.Error("recording failed payout", "payout_id", payoutID, "error", err)
	}
}

func (e *Engine) recordUnconfirmed(payoutID int64, signature string) {
	if err := e.recorder.MarkPayoutUnconfirmed(context.Background(), payoutID, signature); err != nil {
		e.logger.Error("recording unconfirmed payout", "payout_id", payoutID, "error", err)
	}
}

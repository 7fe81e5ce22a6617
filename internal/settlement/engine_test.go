package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakePayer struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
}

func (p *fakePayer) Payout(_ context.Context, wallet string, _ uint64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, wallet)
	if err, ok := p.failFor[wallet]; ok {
		return "", err
	}
	return "sig-" + wallet, nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	nextID      int64
	claimed     map[int64]bool // participant id
	completed   map[int64]string
	failed      map[int64]string
	unconfirmed map[int64]string
	outcomes    map[int64]Outcome
	alreadyPaid map[int64]bool
	unresolved  map[int64]bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		claimed:     map[int64]bool{},
		completed:   map[int64]string{},
		failed:      map[int64]string{},
		unconfirmed: map[int64]string{},
		outcomes:    map[int64]Outcome{},
		alreadyPaid: map[int64]bool{},
		unresolved:  map[int64]bool{},
	}
}

func (r *fakeRecorder) ClaimPayout(_ context.Context, _ string, participantID int64, _ uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unresolved[participantID] {
		return 0, ErrPayoutUnresolved
	}
	if r.alreadyPaid[participantID] || r.claimed[participantID] {
		return 0, ErrAlreadyPaid
	}
	r.claimed[participantID] = true
	r.nextID++
	return r.nextID, nil
}

func (r *fakeRecorder) CompletePayout(_ context.Context, payoutID int64, signature string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[payoutID] = signature
	return nil
}

func (r *fakeRecorder) FailPayout(_ context.Context, payoutID int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[payoutID] = reason
	return nil
}

func (r *fakeRecorder) MarkPayoutUnconfirmed(_ context.Context, payoutID int64, signature string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unconfirmed[payoutID] = signature
	return nil
}

func (r *fakeRecorder) SetParticipantOutcome(_ context.Context, participantID int64, outcome Outcome, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[participantID] = outcome
	return nil
}

func testEngine(payer *fakePayer, rec *fakeRecorder) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(payer, rec, nil, 4, logger)
}

func wparts() []Participant {
	return []Participant{
		{ID: 1, Wallet: "w1", StakeAmount: 1000, Progress: 100},
		{ID: 2, Wallet: "w2", StakeAmount: 1000, Progress: 85},
		{ID: 3, Wallet: "w3", StakeAmount: 1000, Progress: 40},
	}
}

func TestEngineRunPaysWinnersOnly(t *testing.T) {
	payer := &fakePayer{}
	rec := newFakeRecorder()

	report, err := testEngine(payer, rec).Run(context.Background(), wparts(), 8000, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Receipts) != 2 {
		t.Fatalf("got %d receipts, want 2", len(report.Receipts))
	}
	for _, rc := range report.Receipts {
		if rc.Status != PayoutPaid {
			t.Errorf("participant %d status = %s, want PAID (%s)", rc.ParticipantID, rc.Status, rc.Error)
		}
		if rc.Signature == "" {
			t.Errorf("participant %d missing signature", rc.ParticipantID)
		}
	}
	if rec.outcomes[1] != OutcomeWinner || rec.outcomes[3] != OutcomeLoser {
		t.Errorf("outcomes = %v", rec.outcomes)
	}
	if len(payer.calls) != 2 {
		t.Errorf("payer invoked %d times, want 2 (losers never paid)", len(payer.calls))
	}
}

func TestEngineRerunSkipsPaidParticipants(t *testing.T) {
	payer := &fakePayer{}
	rec := newFakeRecorder()
	rec.alreadyPaid[1] = true
	rec.alreadyPaid[2] = true

	report, err := testEngine(payer, rec).Run(context.Background(), wparts(), 8000, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, rc := range report.Receipts {
		if rc.Status != PayoutSkipped {
			t.Errorf("participant %d status = %s, want SKIPPED", rc.ParticipantID, rc.Status)
		}
	}
	if len(payer.calls) != 0 {
		t.Errorf("re-run issued %d transfers, want 0", len(payer.calls))
	}
}

func TestEnginePartialFailureDoesNotBlockOthers(t *testing.T) {
	payer := &fakePayer{failFor: map[string]error{"w2": errors.New("token account vanished")}}
	rec := newFakeRecorder()

	report, err := testEngine(payer, rec).Run(context.Background(), wparts(), 8000, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	statuses := map[int64]PayoutStatus{}
	for _, rc := range report.Receipts {
		statuses[rc.ParticipantID] = rc.Status
	}
	if statuses[1] != PayoutPaid {
		t.Errorf("participant 1 status = %s, want PAID", statuses[1])
	}
	if statuses[2] != PayoutFailed {
		t.Errorf("participant 2 status = %s, want FAILED", statuses[2])
	}
	if report.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", report.Failed())
	}
	if len(rec.failed) != 1 {
		t.Errorf("failure trail has %d entries, want 1", len(rec.failed))
	}
	if len(rec.completed) != 1 {
		t.Errorf("completion trail has %d entries, want 1", len(rec.completed))
	}
}

// submittedTimeout mimics a transfer that went out but never confirmed.
type submittedTimeout struct{ sig string }

func (e *submittedTimeout) Error() string             { return "confirmation timed out for " + e.sig }
func (e *submittedTimeout) TimedOutSignature() string { return e.sig }

type capturePayoutQueue struct {
	mu     sync.Mutex
	parked map[int64]string
}

func (q *capturePayoutQueue) EnqueuePayout(_ context.Context, payoutID int64, signature string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.parked == nil {
		q.parked = map[int64]string{}
	}
	q.parked[payoutID] = signature
	return nil
}

func TestEngineTimedOutTransferIsFrozenNotFailed(t *testing.T) {
	payer := &fakePayer{failFor: map[string]error{"w1": &submittedTimeout{sig: "sig-lost"}}}
	rec := newFakeRecorder()
	queue := &capturePayoutQueue{}

	engine := testEngine(payer, rec)
	engine.SetTimeoutQueue(queue)

	report, err := engine.Run(context.Background(), wparts(), 8000, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	statuses := map[int64]PayoutStatus{}
	for _, rc := range report.Receipts {
		statuses[rc.ParticipantID] = rc.Status
	}
	if statuses[1] != PayoutUnconfirmed {
		t.Fatalf("participant 1 status = %s, want UNCONFIRMED", statuses[1])
	}
	if report.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1 (unconfirmed blocks settling)", report.Failed())
	}

	// The row is frozen with the submitted signature, never marked FAILED,
	// and the signature is parked for reconciliation.
	if len(rec.failed) != 0 {
		t.Errorf("timed-out transfer recorded as plain failure: %v", rec.failed)
	}
	if got := rec.unconfirmed[1]; got != "sig-lost" {
		t.Errorf("unconfirmed[1] = %q, want the submitted signature", got)
	}
	if got := queue.parked[1]; got != "sig-lost" {
		t.Errorf("parked[1] = %q, want the submitted signature", got)
	}
}

func TestEngineDoesNotReissueUnresolvedPayout(t *testing.T) {
	payer := &fakePayer{}
	rec := newFakeRecorder()
	rec.unresolved[1] = true

	report, err := testEngine(payer, rec).Run(context.Background(), wparts(), 8000, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, rc := range report.Receipts {
		if rc.ParticipantID == 1 && rc.Status != PayoutUnconfirmed {
			t.Errorf("participant 1 status = %s, want UNCONFIRMED", rc.Status)
		}
	}
	for _, wallet := range payer.calls {
		if wallet == "w1" {
			t.Fatal("transfer reissued while the previous one is unreconciled")
		}
	}
}

func TestEngineNoWinners(t *testing.T) {
	payer := &fakePayer{}
	rec := newFakeRecorder()
	parts := []Participant{{ID: 1, Wallet: "w1", StakeAmount: 500, Progress: 10}}

	report, err := testEngine(payer, rec).Run(context.Background(), parts, 8000, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Receipts) != 0 || len(payer.calls) != 0 {
		t.Errorf("payouts issued for a challenge with no winners")
	}
	if rec.outcomes[1] != OutcomeLoser {
		t.Errorf("loser outcome not recorded: %v", rec.outcomes)
	}
}

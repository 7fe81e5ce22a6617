// Package reconcile resolves transfers whose confirmation timed out. A
// timeout means the funds may or may not have moved, so the signature is
// parked in redis and re-checked against the ledger until the outcome is
// known. Reissuing the transfer is never an option.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"

	"github.com/stakestreak/api/internal/chain"
)

const (
	joinsKey   = "reconcile:joins"
	payoutsKey = "reconcile:payouts"
)

// PendingJoin is a join whose funding transfer has not reached a terminal
// ledger state yet. The participant row is created only once it does.
type PendingJoin struct {
	ChallengeID int64  `json:"challengeId"`
	UserID      string `json:"userId"`
	Wallet      string `json:"wallet"`
	Escrow      string `json:"escrow"`
	StakeAmount uint64 `json:"stakeAmount"`
	Signature   string `json:"signature"`
}

// PendingPayout is a settlement payout awaiting its ledger outcome.
type PendingPayout struct {
	PayoutID  int64  `json:"payoutId"`
	Signature string `json:"signature"`
}

// Queue is the redis-backed set of unresolved signatures.
type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func (q *Queue) EnqueueJoin(ctx context.Context, j PendingJoin) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return q.rdb.HSet(ctx, joinsKey, j.Signature, data).Err()
}

func (q *Queue) EnqueuePayout(ctx context.Context, payoutID int64, signature string) error {
	data, err := json.Marshal(PendingPayout{PayoutID: payoutID, Signature: signature})
	if err != nil {
		return err
	}
	return q.rdb.HSet(ctx, payoutsKey, signature, data).Err()
}

// PendingJoins returns the parked joins. Entries that no longer decode are
// dropped on the spot; they can never be resolved.
func (q *Queue) PendingJoins(ctx context.Context) ([]PendingJoin, error) {
	entries, err := q.rdb.HGetAll(ctx, joinsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]PendingJoin, 0, len(entries))
	for sig, raw := range entries {
		var j PendingJoin
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			q.rdb.HDel(ctx, joinsKey, sig)
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (q *Queue) DropJoin(ctx context.Context, signature string) error {
	return q.rdb.HDel(ctx, joinsKey, signature).Err()
}

// PendingPayouts returns the parked payouts, dropping undecodable entries.
func (q *Queue) PendingPayouts(ctx context.Context) ([]PendingPayout, error) {
	entries, err := q.rdb.HGetAll(ctx, payoutsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]PendingPayout, 0, len(entries))
	for sig, raw := range entries {
		var p PendingPayout
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			q.rdb.HDel(ctx, payoutsKey, sig)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (q *Queue) DropPayout(ctx context.Context, signature string) error {
	return q.rdb.HDel(ctx, payoutsKey, signature).Err()
}

// source is the parked-signature surface the reconciler sweeps. Implemented
// by Queue; tests substitute an in-memory fake.
type source interface {
	PendingJoins(ctx context.Context) ([]PendingJoin, error)
	DropJoin(ctx context.Context, signature string) error
	PendingPayouts(ctx context.Context) ([]PendingPayout, error)
	DropPayout(ctx context.Context, signature string) error
}

// Store is the subset of persistence the reconciler needs.
type Store interface {
	ActivateJoin(ctx context.Context, j PendingJoin) error
	CompletePayout(ctx context.Context, payoutID int64, signature string) error
	FailPayout(ctx context.Context, payoutID int64, reason string) error
}

// Reconciler periodically re-queries parked signatures and applies their
// final outcome.
type Reconciler struct {
	queue    source
	ledger   chain.Ledger
	store    Store
	mint     solana.PublicKey
	interval time.Duration
	logger   *slog.Logger
}

func New(queue *Queue, ledger chain.Ledger, store Store, mint solana.PublicKey, interval time.Duration, logger *slog.Logger) *Reconciler {
	return newReconciler(queue, ledger, store, mint, interval, logger)
}

func newReconciler(queue source, ledger chain.Ledger, store Store, mint solana.PublicKey, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		queue:    queue,
		ledger:   ledger,
		store:    store,
		mint:     mint,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep resolves whatever it can in one pass. Errors are logged, not
// returned; unresolved entries stay parked for the next pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.sweepJoins(ctx)
	r.sweepPayouts(ctx)
}

func (r *Reconciler) signatureStatus(ctx context.Context, sig string) (chain.SignatureStatus, error) {
	parsed, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return chain.StatusUnknown, fmt.Errorf("parsing signature %q: %w", sig, err)
	}
	return r.ledger.Status(ctx, parsed)
}

func (r *Reconciler) sweepJoins(ctx context.Context) {
	pending, err := r.queue.PendingJoins(ctx)
	if err != nil {
		r.logger.Error("reading pending joins", "error", err)
		return
	}

	for _, j := range pending {
		sig, err := solana.SignatureFromBase58(j.Signature)
		if err != nil {
			r.logger.Error("parsing parked join signature", "signature", j.Signature, "error", err)
			r.queue.DropJoin(ctx, j.Signature)
			continue
		}
		status, err := r.ledger.Status(ctx, sig)
		if err != nil {
			r.logger.Error("checking join signature", "signature", j.Signature, "error", err)
			continue
		}
		switch status {
		case chain.StatusConfirmed, chain.StatusFinalized:
			if !r.verifyDeposit(ctx, sig, j) {
				continue
			}
			if err := r.store.ActivateJoin(ctx, j); err != nil {
				r.logger.Error("activating reconciled join", "signature", j.Signature, "error", err)
				continue
			}
			r.logger.Info("join reconciled", "signature", j.Signature,
				"challenge_id", j.ChallengeID, "user_id", j.UserID)
			r.queue.DropJoin(ctx, j.Signature)
		case chain.StatusFailed:
			r.logger.Warn("funding transfer rejected, dropping pending join",
				"signature", j.Signature, "challenge_id", j.ChallengeID, "user_id", j.UserID)
			r.queue.DropJoin(ctx, j.Signature)
		}
	}
}

// verifyDeposit applies the same check the join handler does: the confirmed
// transaction must have moved the stake into the challenge escrow. A
// confirmed transfer that did not fund the escrow can never become a valid
// join, so it is dropped.
func (r *Reconciler) verifyDeposit(ctx context.Context, sig solana.Signature, j PendingJoin) bool {
	escrow, err := solana.PublicKeyFromBase58(j.Escrow)
	if err != nil {
		r.logger.Error("parsing parked join escrow", "signature", j.Signature, "error", err)
		r.queue.DropJoin(ctx, j.Signature)
		return false
	}
	deposited, err := r.ledger.TokenDelta(ctx, sig, escrow, r.mint)
	if err != nil {
		r.logger.Error("verifying join deposit", "signature", j.Signature, "error", err)
		return false
	}
	if deposited < int64(j.StakeAmount) {
		r.logger.Warn("confirmed transfer did not fund the escrow, dropping pending join",
			"signature", j.Signature, "challenge_id", j.ChallengeID,
			"user_id", j.UserID, "deposited", deposited, "stake", j.StakeAmount)
		r.queue.DropJoin(ctx, j.Signature)
		return false
	}
	return true
}

func (r *Reconciler) sweepPayouts(ctx context.Context) {
	pending, err := r.queue.PendingPayouts(ctx)
	if err != nil {
		r.logger.Error("reading pending payouts", "error", err)
		return
	}

	for _, p := range pending {
		status, err := r.signatureStatus(ctx, p.Signature)
		if err != nil {
			r.logger.Error("checking payout signature", "signature", p.Signature, "error", err)
			continue
		}
		switch status {
		case chain.StatusConfirmed, chain.StatusFinalized:
			if err := r.store.CompletePayout(ctx, p.PayoutID, p.Signature); err != nil {
				r.logger.Error("completing reconciled payout", "payout_id", p.PayoutID, "error", err)
				continue
			}
			r.logger.Info("payout reconciled", "payout_id", p.PayoutID, "signature", p.Signature)
			r.queue.DropPayout(ctx, p.Signature)
		case chain.StatusFailed:
			if err := r.store.FailPayout(ctx, p.PayoutID, "transaction rejected by the ledger"); err != nil {
				r.logger.Error("failing reconciled payout", "payout_id", p.PayoutID, "error", err)
				continue
			}
			r.queue.DropPayout(ctx, p.Signature)
		}
	}
}

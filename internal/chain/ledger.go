package chain

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SignatureStatus is the coarse confirmation state of a submitted transaction.
type SignatureStatus int

const (
	StatusUnknown SignatureStatus = iota
	StatusProcessed
	StatusConfirmed
	StatusFinalized
	StatusFailed
)

// SimulationResult carries the outcome of a pre-flight simulation. Logs are
// surfaced to the caller when the simulation fails.
type SimulationResult struct {
	Err  any
	Logs []string
}

// Ledger is the read/submit surface of the external ledger used by the escrow
// service and the account codec callers. The rpc-backed implementation wraps
// a Solana RPC client; tests use an in-memory fake.
type Ledger interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, uint64, error)
	BlockHeight(ctx context.Context) (uint64, error)
	Simulate(ctx context.Context, tx *solana.Transaction) (SimulationResult, error)
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Status(ctx context.Context, sig solana.Signature) (SignatureStatus, error)
	TokenDelta(ctx context.Context, sig solana.Signature, owner, mint solana.PublicKey) (int64, error)
}

// RPCLedger implements Ledger against a Solana JSON-RPC endpoint.
type RPCLedger struct {
	client *rpc.Client
}

func NewRPCLedger(endpoint string) *RPCLedger {
	return &RPCLedger{client: rpc.New(endpoint)}
}

func (l *RPCLedger) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := l.client.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getting balance for %s: %w", account, err)
	}
	return out.Value, nil
}

func (l *RPCLedger) TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	out, err := l.client.GetTokenAccountBalance(ctx, tokenAccount, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getting token balance for %s: %w", tokenAccount, err)
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

func (l *RPCLedger) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	out, err := l.client.GetAccountInfo(ctx, account)
	if err == rpc.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting account %s: %w", account, err)
	}
	return out.Value != nil, nil
}

func (l *RPCLedger) AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	out, err := l.client.GetAccountInfo(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", account, err)
	}
	if out.Value == nil {
		return nil, fmt.Errorf("account %s: %w", account, rpc.ErrNotFound)
	}
	return out.Value.Data.GetBinary(), nil
}

func (l *RPCLedger) LatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	out, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, 0, fmt.Errorf("getting latest blockhash: %w", err)
	}
	return out.Value.Blockhash, out.Value.LastValidBlockHeight, nil
}

func (l *RPCLedger) BlockHeight(ctx context.Context) (uint64, error) {
	height, err := l.client.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getting block height: %w", err)
	}
	return height, nil
}

func (l *RPCLedger) Simulate(ctx context.Context, tx *solana.Transaction) (SimulationResult, error) {
	out, err := l.client.SimulateTransaction(ctx, tx)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("simulating transaction: %w", err)
	}
	return SimulationResult{Err: out.Value.Err, Logs: out.Value.Logs}, nil
}

func (l *RPCLedger) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true, // already simulated
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sending transaction: %w", err)
	}
	return sig, nil
}

// TokenDelta reports the net amount of mint that a confirmed transaction
// moved into token accounts owned by owner, computed from the transaction's
// pre/post token balances. Join verification uses it to check that a funding
// signature actually deposited the stake into the challenge escrow.
func (l *RPCLedger) TokenDelta(ctx context.Context, sig solana.Signature, owner, mint solana.PublicKey) (int64, error) {
	maxVersion := uint64(0)
	out, err := l.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return 0, fmt.Errorf("getting transaction %s: %w", sig, err)
	}
	if out == nil || out.Meta == nil {
		return 0, fmt.Errorf("transaction %s has no metadata", sig)
	}
	return ownedBalance(out.Meta.PostTokenBalances, owner, mint) -
		ownedBalance(out.Meta.PreTokenBalances, owner, mint), nil
}

func ownedBalance(balances []rpc.TokenBalance, owner, mint solana.PublicKey) int64 {
	var total int64
	for _, b := range balances {
		if b.Mint != mint || b.Owner == nil || !b.Owner.Equals(owner) {
			continue
		}
		amount, err := strconv.ParseInt(b.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		total += amount
	}
	return total
}

func (l *RPCLedger) Status(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	out, err := l.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return StatusUnknown, fmt.Errorf("getting signature status: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return StatusUnknown, nil
	}
	st := out.Value[0]
	if st.Err != nil {
		return StatusFailed, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return StatusFinalized, nil
	case rpc.ConfirmationStatusConfirmed:
		return StatusConfirmed, nil
	default:
		return StatusProcessed, nil
	}
}

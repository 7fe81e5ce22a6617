package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
)

// feeReserveLamports is the minimum native balance a signer must hold to
// cover network fees and possible ATA rent before we attempt a transfer.
const feeReserveLamports = 5_000_000

var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrNoEscrowAddress    = errors.New("challenge has no escrow address configured")
	ErrInsufficientSOL    = errors.New("insufficient SOL for network fees")
	ErrInsufficientTokens = errors.New("insufficient token balance for stake")
)

// SimulationError aborts a transfer before any signature is requested and
// carries the ledger's simulation diagnostics.
type SimulationError struct {
	Err  any
	Logs []string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("transaction simulation failed: %v\n%s", e.Err, strings.Join(e.Logs, "\n"))
}

// ConfirmationTimeoutError means the transaction was submitted but did not
// reach a confirmed state within the blockhash validity window. The outcome
// is ambiguous: funds may or may not have moved. Callers must queue the
// signature for reconciliation instead of reissuing the transfer.
type ConfirmationTimeoutError struct {
	Signature solana.Signature
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("confirmation timed out for %s: outcome unknown, flag for reconciliation", e.Signature)
}

// TimedOutSignature exposes the submitted signature to callers that queue
// reconciliation work without importing this package's error type.
func (e *ConfirmationTimeoutError) TimedOutSignature() string {
	return e.Signature.String()
}

// EscrowService moves staked tokens between participant wallets and challenge
// escrow wallets. It is the only component allowed to move staking funds:
// deposits on the way in, settlement payouts (same primitive, reversed) on
// the way out.
type EscrowService struct {
	ledger       Ledger
	mint         solana.PublicKey
	decimals     uint8
	pollInterval time.Duration
}

func NewEscrowService(ledger Ledger, mint solana.PublicKey, decimals uint8) *EscrowService {
	return &EscrowService{
		ledger:       ledger,
		mint:         mint,
		decimals:     decimals,
		pollInterval: 2 * time.Second,
	}
}

// TransferParams describes a single escrowed token movement. Amount is in the
// token's smallest unit.
type TransferParams struct {
	From   Wallet
	To     solana.PublicKey
	Amount uint64
}

// Deposit moves a participant's stake into the challenge escrow wallet,
// provisioning missing token accounts along the way, and blocks until the
// transaction is confirmed. Preconditions are checked in order, each with a
// distinct failure.
func (s *EscrowService) Deposit(ctx context.Context, p TransferParams) (solana.Signature, error) {
	if p.From == nil || p.From.PublicKey().IsZero() {
		return solana.Signature{}, ErrWalletNotConnected
	}
	if p.To.IsZero() {
		return solana.Signature{}, ErrNoEscrowAddress
	}

	signer := p.From.PublicKey()

	lamports, err := s.ledger.Balance(ctx, signer)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("checking fee balance: %w", err)
	}
	if lamports < feeReserveLamports {
		return solana.Signature{}, fmt.Errorf("%w: have %d lamports, need %d",
			ErrInsufficientSOL, lamports, uint64(feeReserveLamports))
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(signer, s.mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("deriving source token account: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(p.To, s.mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("deriving escrow token account: %w", err)
	}

	var instructions []solana.Instruction

	sourceExists, err := s.ledger.AccountExists(ctx, sourceATA)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("checking source token account: %w", err)
	}
	if sourceExists {
		// An account that does not exist yet cannot be balance-checked;
		// it gets provisioned below instead.
		balance, err := s.ledger.TokenBalance(ctx, sourceATA)
		if err != nil {
			return solana.Signature{}, fmt.Errorf("checking token balance: %w", err)
		}
		if balance < p.Amount {
			return solana.Signature{}, fmt.Errorf("%w: have %d, need %d",
				ErrInsufficientTokens, balance, p.Amount)
		}
	} else {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(signer, signer, s.mint).Build())
	}

	destExists, err := s.ledger.AccountExists(ctx, destATA)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("checking escrow token account: %w", err)
	}
	if !destExists {
		// Signer pays for the escrow's ATA rent.
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(signer, p.To, s.mint).Build())
	}

	instructions = append(instructions,
		token.NewTransferInstruction(p.Amount, sourceATA, destATA, signer, nil).Build())

	return s.submit(ctx, p.From, instructions)
}

// Payout moves tokens out of an escrow wallet, signed by the escrow
// authority. Used only by settlement. The destination ATA is provisioned if
// the winner's token account vanished since they joined.
func (s *EscrowService) Payout(ctx context.Context, p TransferParams) (solana.Signature, error) {
	if p.From == nil || p.From.PublicKey().IsZero() {
		return solana.Signature{}, ErrWalletNotConnected
	}
	if p.To.IsZero() {
		return solana.Signature{}, fmt.Errorf("%w: payout destination", ErrNoEscrowAddress)
	}

	authority := p.From.PublicKey()

	sourceATA, _, err := solana.FindAssociatedTokenAddress(authority, s.mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("deriving escrow token account: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(p.To, s.mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("deriving destination token account: %w", err)
	}

	var instructions []solana.Instruction

	destExists, err := s.ledger.AccountExists(ctx, destATA)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("checking destination token account: %w", err)
	}
	if !destExists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(authority, p.To, s.mint).Build())
	}

	instructions = append(instructions,
		token.NewTransferInstruction(p.Amount, sourceATA, destATA, authority, nil).Build())

	return s.submit(ctx, p.From, instructions)
}

// submit simulates, signs, sends, and waits for confirmation bounded by the
// blockhash validity window.
func (s *EscrowService) submit(ctx context.Context, wallet Wallet, instructions []solana.Instruction) (solana.Signature, error) {
	blockhash, lastValidHeight, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("fetching blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash,
		solana.TransactionPayer(wallet.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("building transaction: %w", err)
	}

	sim, err := s.ledger.Simulate(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("pre-flight simulation: %w", err)
	}
	if sim.Err != nil {
		return solana.Signature{}, &SimulationError{Err: sim.Err, Logs: sim.Logs}
	}

	if err := wallet.SignTransaction(tx); err != nil {
		return solana.Signature{}, err
	}

	sig, err := s.ledger.Send(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("submitting transaction: %w", err)
	}

	if err := s.awaitConfirmation(ctx, sig, lastValidHeight); err != nil {
		return sig, err
	}
	return sig, nil
}

func (s *EscrowService) awaitConfirmation(ctx context.Context, sig solana.Signature, lastValidHeight uint64) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		status, err := s.ledger.Status(ctx, sig)
		if err != nil {
			return fmt.Errorf("polling confirmation: %w", err)
		}
		switch status {
		case StatusConfirmed, StatusFinalized:
			return nil
		case StatusFailed:
			return fmt.Errorf("transaction %s rejected by the ledger", sig)
		}

		height, err := s.ledger.BlockHeight(ctx)
		if err != nil {
			return fmt.Errorf("polling block height: %w", err)
		}
		if height > lastValidHeight {
			// The blockhash expired before we saw a confirmation. The
			// transaction may still have landed.
			return &ConfirmationTimeoutError{Signature: sig}
		}

		select {
		case <-ctx.Done():
			return &ConfirmationTimeoutError{Signature: sig}
		case <-ticker.C:
		}
	}
}

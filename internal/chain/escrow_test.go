package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

type fakeWallet struct {
	pub    solana.PublicKey
	signed bool
}

func (w *fakeWallet) PublicKey() solana.PublicKey { return w.pub }

func (w *fakeWallet) SignTransaction(tx *solana.Transaction) error {
	w.signed = true
	// Satisfy the sanity check in Send without a real signature.
	tx.Signatures = append(tx.Signatures, solana.Signature{})
	return nil
}

type fakeLedger struct {
	lamports      map[solana.PublicKey]uint64
	tokenBalances map[solana.PublicKey]uint64
	accounts      map[solana.PublicKey]bool

	simErr     any
	simLogs    []string
	sendErr    error
	statusSeq  []SignatureStatus
	statusIdx  int
	height     uint64
	lastValid  uint64
	sent       int
	simulated  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		lamports:      map[solana.PublicKey]uint64{},
		tokenBalances: map[solana.PublicKey]uint64{},
		accounts:      map[solana.PublicKey]bool{},
		statusSeq:     []SignatureStatus{StatusFinalized},
		height:        100,
		lastValid:     250,
	}
}

func (l *fakeLedger) Balance(_ context.Context, a solana.PublicKey) (uint64, error) {
	return l.lamports[a], nil
}

func (l *fakeLedger) TokenBalance(_ context.Context, a solana.PublicKey) (uint64, error) {
	return l.tokenBalances[a], nil
}

func (l *fakeLedger) AccountExists(_ context.Context, a solana.PublicKey) (bool, error) {
	return l.accounts[a], nil
}

func (l *fakeLedger) AccountData(_ context.Context, a solana.PublicKey) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (l *fakeLedger) LatestBlockhash(_ context.Context) (solana.Hash, uint64, error) {
	return solana.Hash{1}, l.lastValid, nil
}

func (l *fakeLedger) BlockHeight(_ context.Context) (uint64, error) {
	l.height++
	return l.height, nil
}

func (l *fakeLedger) Simulate(_ context.Context, _ *solana.Transaction) (SimulationResult, error) {
	l.simulated++
	return SimulationResult{Err: l.simErr, Logs: l.simLogs}, nil
}

func (l *fakeLedger) Send(_ context.Context, _ *solana.Transaction) (solana.Signature, error) {
	if l.sendErr != nil {
		return solana.Signature{}, l.sendErr
	}
	l.sent++
	return solana.Signature{0xab}, nil
}

func (l *fakeLedger) Status(_ context.Context, _ solana.Signature) (SignatureStatus, error) {
	st := l.statusSeq[l.statusIdx]
	if l.statusIdx < len(l.statusSeq)-1 {
		l.statusIdx++
	}
	return st, nil
}

func (l *fakeLedger) TokenDelta(_ context.Context, _ solana.Signature, _, _ solana.PublicKey) (int64, error) {
	return 0, errors.New("not implemented")
}

func testEscrowService(l *fakeLedger) *EscrowService {
	s := NewEscrowService(l, testKey(0x99), 6)
	s.pollInterval = time.Millisecond
	return s
}

func fundedSetup(t *testing.T) (*fakeLedger, *fakeWallet, solana.PublicKey) {
	t.Helper()
	ledger := newFakeLedger()
	wallet := &fakeWallet{pub: solana.NewWallet().PublicKey()}
	escrow := solana.NewWallet().PublicKey()

	sourceATA, _, err := solana.FindAssociatedTokenAddress(wallet.pub, testKey(0x99))
	if err != nil {
		t.Fatalf("deriving ATA: %v", err)
	}
	ledger.lamports[wallet.pub] = 10_000_000
	ledger.accounts[sourceATA] = true
	ledger.tokenBalances[sourceATA] = 1_000_000
	return ledger, wallet, escrow
}

func TestDepositRequiresWallet(t *testing.T) {
	s := testEscrowService(newFakeLedger())

	_, err := s.Deposit(context.Background(), TransferParams{To: testKey(1), Amount: 1})
	if !errors.Is(err, ErrWalletNotConnected) {
		t.Fatalf("err = %v, want ErrWalletNotConnected", err)
	}

	_, err = s.Deposit(context.Background(), TransferParams{From: &fakeWallet{}, To: testKey(1), Amount: 1})
	if !errors.Is(err, ErrWalletNotConnected) {
		t.Fatalf("zero pubkey: err = %v, want ErrWalletNotConnected", err)
	}
}

func TestDepositRequiresEscrowAddress(t *testing.T) {
	s := testEscrowService(newFakeLedger())
	wallet := &fakeWallet{pub: solana.NewWallet().PublicKey()}

	_, err := s.Deposit(context.Background(), TransferParams{From: wallet, Amount: 1})
	if !errors.Is(err, ErrNoEscrowAddress) {
		t.Fatalf("err = %v, want ErrNoEscrowAddress", err)
	}
}

func TestDepositRequiresFeeReserve(t *testing.T) {
	ledger, wallet, escrow := fundedSetup(t)
	ledger.lamports[wallet.pub] = feeReserveLamports - 1
	s := testEscrowService(ledger)

	_, err := s.Deposit(context.Background(), TransferParams{From: wallet, To: escrow, Amount: 1})
	if !errors.Is(err, ErrInsufficientSOL) {
		t.Fatalf("err = %v, want ErrInsufficientSOL", err)
	}
	if ledger.sent != 0 {
		t.Error("transaction was sent despite failed precondition")
	}
}

func TestDepositRequiresTokenBalance(t *testing.T) {
	ledger, wallet, escrow := fundedSetup(t)
	s := testEscrowService(ledger)

	_, err := s.Deposit(context.Background(), TransferParams{From: wallet, To: escrow, Amount: 2_000_000})
	if !errors.Is(err, ErrInsufficientTokens) {
		t.Fatalf("err = %v, want ErrInsufficientTokens", err)
	}
}

func TestDepositSkipsBalanceCheckForMissingAccount(t *testing.T) {
	// A source ATA that does not exist cannot be balance-checked; it is
	// provisioned instead and the simulation decides the outcome.
	ledger, wallet, escrow := fundedSetup(t)
	sourceATA, _, _ := solana.FindAssociatedTokenAddress(wallet.pub, testKey(0x99))
	ledger.accounts[sourceATA] = false
	s := testEscrowService(ledger)

	sig, err := s.Deposit(context.Background(), TransferParams{From: wallet, To: escrow, Amount: 500})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if sig.IsZero() {
		t.Error("signature is zero")
	}
}

func TestDepositSimulationFailureAbortsBeforeSigning(t *testing.T) {
	ledger, wallet, escrow := fundedSetup(t)
	ledger.simErr = map[string]any{"InstructionError": []any{0, "Custom"}}
	ledger.simLogs = []string{"Program log: insufficient funds"}
	s := testEscrowService(ledger)

	_, err := s.Deposit(context.Background(), TransferParams{From: wallet, To: escrow, Amount: 500})

	var simErr *SimulationError
	if !errors.As(err, &simErr) {
		t.Fatalf("err = %v, want SimulationError", err)
	}
	if len(simErr.Logs) == 0 {
		t.Error("simulation diagnostics not surfaced")
	}
	if wallet.signed {
		t.Error("wallet was asked to sign after a failed simulation")
	}
	if ledger.sent != 0 {
		t.Error("transaction was sent after a failed simulation")
	}
}

func TestDepositConfirmed(t *testing.T) {
	ledger, wallet, escrow := fundedSetup(t)
	ledger.statusSeq = []SignatureStatus{
		StatusUnknown, StatusProcessed, StatusConfirmed,
	}
	s := testEscrowService(ledger)

	sig, err := s.Deposit(context.Background(), TransferParams{From: wallet, To: escrow, Amount: 500})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if sig.IsZero() {
		t.Error("signature is zero")
	}
	if !wallet.signed {
		t.Error("wallet never signed")
	}
	if ledger.simulated != 1 {
		t.Errorf("simulated %d times, want 1", ledger.simulated)
	}
}

func TestDepositConfirmationTimeoutIsAmbiguous(t *testing.T) {
	ledger, wallet, escrow := fundedSetup(t)
	ledger.statusSeq = []SignatureStatus{StatusUnknown}
	ledger.lastValid = 101 // expires after one height poll
	s := testEscrowService(ledger)

	sig, err := s.Deposit(context.Background(), TransferParams{From: wallet, To: escrow, Amount: 500})

	var timeoutErr *ConfirmationTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want ConfirmationTimeoutError", err)
	}
	// The signature must survive the timeout so the caller can reconcile.
	if timeoutErr.Signature.IsZero() || sig.IsZero() {
		t.Error("timeout did not carry the submitted signature")
	}
}

func TestDepositRejectedIsDistinctFromTimeout(t *testing.T) {
	ledger, wallet, escrow := fundedSetup(t)
	ledger.statusSeq = []SignatureStatus{StatusFailed}
	s := testEscrowService(ledger)

	_, err := s.Deposit(context.Background(), TransferParams{From: wallet, To: escrow, Amount: 500})
	if err == nil {
		t.Fatal("expected rejection error")
	}
	var timeoutErr *ConfirmationTimeoutError
	if errors.As(err, &timeoutErr) {
		t.Fatal("outright rejection must not be reported as an ambiguous timeout")
	}
}

func TestPayoutProvisionsDestination(t *testing.T) {
	ledger := newFakeLedger()
	authority := &fakeWallet{pub: solana.NewWallet().PublicKey()}
	winner := solana.NewWallet().PublicKey()
	s := testEscrowService(ledger)

	sig, err := s.Payout(context.Background(), TransferParams{From: authority, To: winner, Amount: 750})
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if sig.IsZero() {
		t.Error("signature is zero")
	}
}

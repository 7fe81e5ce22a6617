package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stakestreak/api/internal/chain"
	"github.com/stakestreak/api/internal/config"
	"github.com/stakestreak/api/internal/database"
	"github.com/stakestreak/api/internal/migrations"
	"github.com/stakestreak/api/internal/reconcile"
	"github.com/stakestreak/api/internal/server"
	"github.com/stakestreak/api/internal/settlement"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	if err := os.MkdirAll(cfg.DBDir, 0o755); err != nil {
		return fmt.Errorf("creating db directory: %w", err)
	}
	dbPath := filepath.Join(cfg.DBDir, "stakestreak.db")

	db, err := database.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", dbPath)

	// --- Redis ---
	rdb, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()
	logger.Info("connected to redis")

	store := server.NewSQLiteStore(db)

	if err := server.SeedAdmin(ctx, logger, store); err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}

	// --- Solana ---
	mint, err := solana.PublicKeyFromBase58(cfg.TokenMint)
	if err != nil {
		return fmt.Errorf("parsing token mint: %w", err)
	}
	ledger := chain.NewRPCLedger(cfg.RPCEndpoint)
	escrow := chain.NewEscrowService(ledger, mint, cfg.TokenDecimals)
	logger.Info("connected to solana rpc", "endpoint", cfg.RPCEndpoint, "mint", mint.String())

	payer, err := newEscrowPayer(escrow, cfg.EscrowAuthorityKey)
	if err != nil {
		return fmt.Errorf("loading escrow authority: %w", err)
	}
	if payer.wallet == nil {
		logger.Warn("escrow authority key not configured, payouts will fail until it is set")
	}

	// --- Settlement + Reconciliation ---
	limiter := rate.NewLimiter(rate.Limit(cfg.PayoutRateLimit), 1)
	engine := settlement.NewEngine(payer, store, limiter, cfg.SettlementConcurrency, logger)

	queue := reconcile.NewQueue(rdb)
	engine.SetTimeoutQueue(queue)
	reconciler := reconcile.New(queue, ledger, store, mint, cfg.ReconcileInterval, logger)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Store:         store,
		Admin:         store,
		DB:            db,
		Redis:         rdb,
		Ledger:        ledger,
		Engine:        engine,
		Queue:         queue,
		TokenMint:     mint,
		TokenDecimals: cfg.TokenDecimals,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// escrowPayer adapts the escrow service to the settlement engine, signing
// payouts with the configured authority keypair.
type escrowPayer struct {
	escrow *chain.EscrowService
	wallet chain.Wallet
}

func newEscrowPayer(escrow *chain.EscrowService, base58Key string) (*escrowPayer, error) {
	p := &escrowPayer{escrow: escrow}
	if base58Key == "" {
		return p, nil
	}
	w, err := chain.NewKeypairWallet(base58Key)
	if err != nil {
		return nil, err
	}
	p.wallet = w
	return p, nil
}

func (p *escrowPayer) Payout(ctx context.Context, wallet string, amount uint64) (string, error) {
	if p.wallet == nil {
		return "", errors.New("escrow authority key not configured")
	}
	dest, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return "", fmt.Errorf("parsing destination wallet: %w", err)
	}
	sig, err := p.escrow.Payout(ctx, chain.TransferParams{
		From:   p.wallet,
		To:     dest,
		Amount: amount,
	})
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBDir    string     `env:"DB_DIR" envDefault:"data"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Ledger access and the staking token.
	RPCEndpoint   string `env:"RPC_ENDPOINT" envDefault:"https://api.devnet.solana.com"`
	TokenMint     string `env:"TOKEN_MINT,notEmpty"`
	TokenDecimals uint8  `env:"TOKEN_DECIMALS" envDefault:"6"`

	// Base58 private key of the escrow authority that signs settlement
	// payouts. Empty disables custodial transfers; joins then require a
	// caller-supplied funding signature.
	EscrowAuthorityKey string `env:"ESCROW_AUTHORITY_KEY"`

	SettlementConcurrency int           `env:"SETTLEMENT_CONCURRENCY" envDefault:"4"`
	PayoutRateLimit       float64       `env:"PAYOUT_RATE_LIMIT" envDefault:"5"`
	ReconcileInterval     time.Duration `env:"RECONCILE_INTERVAL" envDefault:"30s"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

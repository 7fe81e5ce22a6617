package chain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet is the signing capability the escrow service needs. Implementations
// may be a local keypair, a remote signer, or a test fake; the service never
// assumes which.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}

// KeypairWallet signs with an in-process private key. Used for the escrow
// authority on payouts and for custodial stake deposits.
type KeypairWallet struct {
	key solana.PrivateKey
}

func NewKeypairWallet(base58Key string) (*KeypairWallet, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("parsing wallet key: %w", err)
	}
	return &KeypairWallet{key: key}, nil
}

func (w *KeypairWallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

func (w *KeypairWallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(w.key.PublicKey()) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}
	return nil
}

package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/tokenized/pkg/bitcoin"
	"github.com/tokenized/pkg/storage"
	"github.com/tokenized/remittance"

	"github.com/pkg/errors"
)

const (
	walletPath = "remittance_wallet"
)

var (
	ErrUnsupportedVersion = errors.New("Unsupported Version")
)

const version = 1

// Wallet holds the local identity key pair and persists it to storage (spec section 6,
// "Wallet"). The engine only ever calls IdentityKey; modules may type-assert a Wallet
// collaborator down to *Wallet to reach PrivateKey for settlement-time signing.
type Wallet struct {
	V   int         `json:"v"`
	Key bitcoin.Key `json:"key"`

	store storage.Storage

	lock sync.RWMutex
}

// NewWallet creates a wallet around an existing key. Use Load to restore one previously saved.
func NewWallet(store storage.Storage, key bitcoin.Key) *Wallet {
	return &Wallet{
		V:     version,
		Key:   key,
		store: store,
	}
}

// IdentityKey returns the wallet's public key rendered as the opaque identity key string used
// throughout the engine (spec section 6).
func (w *Wallet) IdentityKey(ctx context.Context) (remittance.IdentityKey, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()

	return remittance.IdentityKey(w.Key.PublicKey().String()), nil
}

// PrivateKey exposes the underlying signing key to collaborators that need it, such as a
// settlement module building a transaction. Opaque to the engine itself (spec section 6).
func (w *Wallet) PrivateKey() bitcoin.Key {
	w.lock.RLock()
	defer w.lock.RUnlock()

	return w.Key
}

// Load restores a wallet previously written by Save.
func Load(ctx context.Context, store storage.Storage) (*Wallet, error) {
	w := &Wallet{store: store}
	if err := storage.Load(ctx, store, fmt.Sprintf("%s/wallet", walletPath), w); err != nil {
		return nil, errors.Wrap(err, "storage")
	}

	if w.V != version {
		return nil, errors.Wrap(ErrUnsupportedVersion, fmt.Sprintf("%d", w.V))
	}

	w.store = store
	return w, nil
}

// Save persists the wallet's key material.
func (w *Wallet) Save(ctx context.Context) error {
	w.lock.RLock()
	defer w.lock.RUnlock()

	return storage.Save(ctx, w.store, fmt.Sprintf("%s/wallet", walletPath), w)
}

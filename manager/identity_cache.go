package manager

import (
	"context"

	"github.com/tokenized/remittance"

	"github.com/pkg/errors"
)

// myIdentityKey returns the manager's cached identity key, asking the wallet on first touch
// (spec section 4.8, "Identity-key caching"). Every public entry point calls through here.
func (m *Manager) myIdentityKey(ctx context.Context) (remittance.IdentityKey, error) {
	m.identityKeyLock.RLock()
	if m.identityKey != nil {
		key := *m.identityKey
		m.identityKeyLock.RUnlock()
		return key, nil
	}
	m.identityKeyLock.RUnlock()

	m.identityKeyLock.Lock()
	defer m.identityKeyLock.Unlock()

	if m.identityKey != nil {
		return *m.identityKey, nil
	}

	key, err := m.wallet.IdentityKey(ctx)
	if err != nil {
		return "", errors.Wrap(remittance.ErrNoIdentityKey, err.Error())
	}
	if len(key) == 0 {
		return "", remittance.ErrNoIdentityKey
	}

	m.identityKey = &key
	return key, nil
}

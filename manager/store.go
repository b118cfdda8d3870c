package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/tokenized/pkg/storage"
	"github.com/tokenized/remittance"

	"github.com/pkg/errors"
)

const snapshotPath = "remittance_manager/state"

// Persistence is the user-supplied persistence callback (spec section 6, "Persisted state
// layout"). Its on-disk or over-the-wire shape is opaque to the engine; the engine only ever
// hands it a *remittance.StateSnapshot to write and reads one back.
type Persistence interface {
	Load(ctx context.Context) (*remittance.StateSnapshot, error)
	Save(ctx context.Context, snapshot *remittance.StateSnapshot) error
}

// StoragePersistence is the default Persistence, backed by a tokenized/pkg/storage.Storage
// (grounded on wallet.Wallet's storage.Save/storage.Load usage).
type StoragePersistence struct {
	store storage.Storage
}

// NewStoragePersistence wraps store as a Persistence.
func NewStoragePersistence(store storage.Storage) *StoragePersistence {
	return &StoragePersistence{store: store}
}

func (p *StoragePersistence) Load(ctx context.Context) (*remittance.StateSnapshot, error) {
	snapshot := &remittance.StateSnapshot{}
	if err := storage.Load(ctx, p.store, snapshotPath, snapshot); err != nil {
		if errors.Cause(err) == storage.ErrNotFound {
			return &remittance.StateSnapshot{V: remittance.SnapshotVersion}, nil
		}
		return nil, errors.Wrap(err, "storage")
	}

	if snapshot.V != remittance.SnapshotVersion {
		return nil, errors.Wrap(remittance.ErrUnsupportedStateV, fmt.Sprintf("%d", snapshot.V))
	}

	return snapshot, nil
}

func (p *StoragePersistence) Save(ctx context.Context, snapshot *remittance.StateSnapshot) error {
	return storage.Save(ctx, p.store, snapshotPath, snapshot)
}

// threadStore holds every thread the manager knows about. Its lock only guards the map itself
// (registering/looking up/replacing a *Thread); it does not protect a *Thread's fields once get()
// has returned it. Serializing reads and writes of a thread's fields across a get/mutate/put
// sequence is Manager.mutationLock's job (spec section 5, "single-writer per manager").
type threadStore struct {
	lock                   sync.RWMutex
	threads                map[remittance.ThreadID]*remittance.Thread
	defaultPaymentOptionID *string
}

func newThreadStore() *threadStore {
	return &threadStore{
		threads: make(map[remittance.ThreadID]*remittance.Thread),
	}
}

func (s *threadStore) get(id remittance.ThreadID) *remittance.Thread {
	s.lock.RLock()
	defer s.lock.RUnlock()

	t, exists := s.threads[id]
	if !exists {
		return nil
	}
	return t
}

func (s *threadStore) put(t *remittance.Thread) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.threads[t.ThreadID] = t
}

func (s *threadStore) all() []*remittance.Thread {
	s.lock.RLock()
	defer s.lock.RUnlock()

	result := make([]*remittance.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		result = append(result, t)
	}
	return result
}

func (s *threadStore) snapshot() *remittance.StateSnapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()

	snapshot := &remittance.StateSnapshot{
		V:                      remittance.SnapshotVersion,
		DefaultPaymentOptionID: s.defaultPaymentOptionID,
	}
	for _, t := range s.threads {
		snapshot.Threads = append(snapshot.Threads, t.Copy())
	}
	return snapshot
}

func (s *threadStore) restore(snapshot *remittance.StateSnapshot) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.threads = make(map[remittance.ThreadID]*remittance.Thread, len(snapshot.Threads))
	for _, t := range snapshot.Threads {
		s.threads[t.ThreadID] = t
	}
	s.defaultPaymentOptionID = snapshot.DefaultPaymentOptionID
}

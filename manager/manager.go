// Package manager implements RemittanceManager, the engine described in the specification: a
// thread-scoped state machine coordinating maker/taker commercial exchanges over a generic
// message channel. It is grounded on the teacher's client.Client (lock-guarded collection plus a
// listen/handle Run loop) generalized from peer-channel payment channels to remittance threads.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/tokenized/logger"
	"github.com/tokenized/remittance"
	"github.com/tokenized/threads"

	"github.com/pkg/errors"
)

// Manager is a RemittanceManager (spec section 2). One Manager represents one party's view of
// every thread it participates in.
type Manager struct {
	config Config

	comms    remittance.CommsLayer
	identity remittance.IdentityLayer
	wallet   remittance.Wallet
	modules  map[remittance.ModuleID]remittance.RemittanceModule

	persistence Persistence

	idGen remittance.IDGenerator
	clock remittance.Clock

	store     *threadStore
	waiters   *waiters
	listeners *listenerRegistry

	identityKeyLock sync.RWMutex
	identityKey     *remittance.IdentityKey

	// mutationLock serializes every read-modify-write sequence touching a *Thread's fields (spec
	// section 5, "a single engine-wide sync.Mutex serializes all thread mutations"). threadStore's
	// own lock only protects the map; a *Thread escapes it the moment get() returns one, so every
	// get/mutate/put sequence must additionally hold this lock for its duration. It must never be
	// held across a blocking wait (waitForIdentityAcknowledged, waitForReceiptOrTermination), since
	// those poll back into HandleIncoming on the same goroutine and would deadlock against
	// themselves.
	mutationLock sync.Mutex
}

// Option customizes a Manager at construction time. Clocks and ID factories are injectable this
// way for test determinism (spec section 9, "Global state").
type Option func(*Manager)

// WithIDGenerator overrides the default UUID-backed IDGenerator.
func WithIDGenerator(g remittance.IDGenerator) Option {
	return func(m *Manager) { m.idGen = g }
}

// WithClock overrides the default system Clock.
func WithClock(c remittance.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New creates a Manager. comms, identityLayer, and w are required; modules may be empty but then
// Pay and SendUnsolicitedSettlement will fail for any option.
func New(config Config, comms remittance.CommsLayer, identityLayer remittance.IdentityLayer,
	w remittance.Wallet, persistence Persistence, modules []remittance.RemittanceModule,
	opts ...Option) (*Manager, error) {

	if comms == nil {
		return nil, errors.New("comms layer is required")
	}
	if identityLayer == nil {
		return nil, errors.New("identity layer is required")
	}
	if w == nil {
		return nil, errors.Wrap(remittance.ErrNoIdentityKey, "wallet is nil")
	}

	moduleMap := make(map[remittance.ModuleID]remittance.RemittanceModule, len(modules))
	for _, mod := range modules {
		moduleMap[mod.ID()] = mod
	}

	m := &Manager{
		config:      config,
		comms:       comms,
		identity:    identityLayer,
		wallet:      w,
		modules:     moduleMap,
		persistence: persistence,
		idGen:       remittance.NewUUIDGenerator(),
		clock:       remittance.NewSystemClock(),
		store:       newThreadStore(),
		waiters:     newWaiters(),
		listeners:   newListenerRegistry(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// On registers listener for events of exactly eventType (spec section 4.7).
func (m *Manager) On(eventType remittance.EventType, listener remittance.Listener) {
	m.listeners.On(eventType, listener)
}

// OnAny registers listener for every event the manager emits (spec section 4.7).
func (m *Manager) OnAny(listener remittance.Listener) {
	m.listeners.OnAny(listener)
}

// Thread returns a deep copy of the thread, or nil if it does not exist.
func (m *Manager) Thread(threadID remittance.ThreadID) *remittance.Thread {
	m.mutationLock.Lock()
	defer m.mutationLock.Unlock()

	t := m.store.get(threadID)
	return t.Copy()
}

// Threads returns deep copies of every thread the manager knows about.
func (m *Manager) Threads() []*remittance.Thread {
	m.mutationLock.Lock()
	defer m.mutationLock.Unlock()

	all := m.store.all()
	result := make([]*remittance.Thread, len(all))
	for i, t := range all {
		result[i] = t.Copy()
	}
	return result
}

// Restore loads persisted state through the manager's Persistence (spec section 4.1).
func (m *Manager) Restore(ctx context.Context) error {
	snapshot, err := m.persistence.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load")
	}

	m.store.restore(snapshot)
	return nil
}

// persist writes the manager's current state through its Persistence (spec section 4.1,
// "every state-changing operation ends by persisting").
func (m *Manager) persist(ctx context.Context) error {
	snapshot := m.store.snapshot()
	if err := m.persistence.Save(ctx, snapshot); err != nil {
		return errors.Wrap(err, "save")
	}
	return nil
}

// Run polls the CommsLayer for inbound messages until ctx is cancelled or interrupt fires,
// grounded on the teacher's client.Client.Run (listen thread, handle thread, select on
// completion), but a poll loop in place of a peer-channels listen socket. Run only polls; live
// delivery through ListenForLiveMessages is started separately with StartListening.
func (m *Manager) Run(ctx context.Context, interrupt <-chan interface{}) error {
	wait := &sync.WaitGroup{}

	pollThread, pollComplete := threads.NewInterruptableThreadComplete("Remittance Poll",
		m.pollLoop, wait)

	pollThread.Start(ctx)

	select {
	case <-interrupt:
		pollThread.Stop(ctx)
	case <-pollComplete:
		logger.Warn(ctx, "Remittance poll thread stopped : %s", pollThread.Error())
		pollThread.Stop(ctx)
	}

	waitWarning := logger.NewWaitingWarning(ctx, time.Second*3, "Remittance poll")
	wait.Wait()
	waitWarning.Cancel()

	return pollThread.Error()
}

func (m *Manager) pollLoop(ctx context.Context, interrupt <-chan interface{}) error {
	interval := time.Duration(m.config.IdentityPollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	for {
		if err := m.pollOnce(ctx); err != nil {
			logger.Warn(ctx, "Poll remittance inbox : %s", err)
		}

		select {
		case <-time.After(interval):
		case <-interrupt:
			return nil
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) error {
	messages, err := m.comms.ListMessages(ctx, remittance.ListMessagesRequest{
		MessageBox: m.config.MessageBox,
	})
	if err != nil {
		return errors.Wrap(err, "list messages")
	}

	var acked []string
	for _, msg := range messages {
		if err := m.HandleIncoming(ctx, msg); err != nil {
			logger.WarnWithFields(ctx, []logger.Field{
				logger.String("message_id", msg.MessageID),
			}, "Handle incoming message : %s", err)
			continue
		}
		acked = append(acked, msg.MessageID)
	}

	if len(acked) > 0 {
		if err := m.comms.AcknowledgeMessage(ctx, acked); err != nil {
			return errors.Wrap(err, "acknowledge")
		}
	}

	return nil
}

package manager

import (
	"context"
	"testing"
	"time"

	"github.com/tokenized/logger"
	"github.com/tokenized/pkg/bitcoin"
	"github.com/tokenized/pkg/storage"
	"github.com/tokenized/remittance"
	"github.com/tokenized/remittance/comms/membus"
	"github.com/tokenized/remittance/identity"
	"github.com/tokenized/remittance/wallet"
)

// harness wires two Managers (maker and taker) over a shared in-memory bus, mirroring
// cmd/remittance_demo/main.go's construction.
type harness struct {
	ctx context.Context

	maker *Manager
	taker *Manager

	makerKey remittance.IdentityKey
	takerKey remittance.IdentityKey
}

func newHarness(t *testing.T, config Config, modules []remittance.RemittanceModule) *harness {
	t.Helper()

	ctx := logger.ContextWithLogger(context.Background(), true, true, "")

	makerPriv, err := bitcoin.GenerateKey(bitcoin.MainNet)
	if err != nil {
		t.Fatalf("Failed to generate maker key : %s", err)
	}
	takerPriv, err := bitcoin.GenerateKey(bitcoin.MainNet)
	if err != nil {
		t.Fatalf("Failed to generate taker key : %s", err)
	}

	makerWallet := wallet.NewWallet(storage.NewMockStorage(), makerPriv)
	takerWallet := wallet.NewWallet(storage.NewMockStorage(), takerPriv)

	bus := membus.NewBus()
	makerKey := remittance.IdentityKey(makerPriv.PublicKey().String())
	takerKey := remittance.IdentityKey(takerPriv.PublicKey().String())

	maker, err := New(config, membus.NewEndpoint(bus, makerKey), identity.New(), makerWallet,
		NewStoragePersistence(storage.NewMockStorage()), modules)
	if err != nil {
		t.Fatalf("Failed to create maker manager : %s", err)
	}

	taker, err := New(config, membus.NewEndpoint(bus, takerKey), identity.New(), takerWallet,
		NewStoragePersistence(storage.NewMockStorage()), modules)
	if err != nil {
		t.Fatalf("Failed to create taker manager : %s", err)
	}

	return &harness{ctx: ctx, maker: maker, taker: taker, makerKey: makerKey, takerKey: takerKey}
}

// pumpUntil calls SyncThreads on both sides in a tight loop until condition returns true or
// timeout elapses, for tests where one side's call blocks waiting for a reply the other side can
// only produce by syncing. Fails the test if condition never becomes true.
func (h *harness) pumpUntil(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition never became true within %s", timeout)
		}
		_ = h.maker.SyncThreads(h.ctx)
		_ = h.taker.SyncThreads(h.ctx)
		time.Sleep(time.Millisecond)
	}
}

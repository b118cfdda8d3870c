// Command remittance_demo runs two RemittanceManagers in one process, connected by an in-memory
// membus, through the maker/taker happy path: invoice, payment and settlement. The payee records
// a receipt on its own thread; with ReceiptProvided off no receipt envelope is sent, so the
// taker's thread ends in settled.
package main

import (
	"context"
	"fmt"

	"github.com/tokenized/logger"
	"github.com/tokenized/pkg/bitcoin"
	"github.com/tokenized/pkg/storage"
	"github.com/tokenized/remittance"
	"github.com/tokenized/remittance/comms/membus"
	"github.com/tokenized/remittance/identity"
	"github.com/tokenized/remittance/manager"
	"github.com/tokenized/remittance/modules/memsettle"
	"github.com/tokenized/remittance/wallet"
)

func main() {
	ctx := logger.ContextWithLogger(context.Background(), true, true, "")

	if err := run(ctx); err != nil {
		logger.Fatal(ctx, "Failed : %s", err)
	}
}

func run(ctx context.Context) error {
	makerKey, err := bitcoin.GenerateKey(bitcoin.MainNet)
	if err != nil {
		return err
	}
	takerKey, err := bitcoin.GenerateKey(bitcoin.MainNet)
	if err != nil {
		return err
	}

	makerWallet := wallet.NewWallet(storage.NewMockStorage(), makerKey)
	takerWallet := wallet.NewWallet(storage.NewMockStorage(), takerKey)

	bus := membus.NewBus()
	makerIdentityKey := remittance.IdentityKey(makerKey.PublicKey().String())
	takerIdentityKey := remittance.IdentityKey(takerKey.PublicKey().String())

	makerComms := membus.NewEndpoint(bus, makerIdentityKey)
	takerComms := membus.NewEndpoint(bus, takerIdentityKey)

	settleModule := memsettle.New("demo", false)

	// The demo runs both sides in one process with no background poll loop, so it disables the
	// payer's wait-for-receipt. The payee sends a receipt envelope only when ReceiptProvided and
	// AutoIssueReceipt are both set, so here it sends none. A real deployment normally runs
	// Run/StartListening on both sides concurrently instead.
	config := manager.DefaultConfig()
	config.ReceiptProvided = false
	config.AutoIssueReceipt = true

	modules := []remittance.RemittanceModule{settleModule}

	maker, err := manager.New(config, makerComms, identity.New(), makerWallet,
		manager.NewStoragePersistence(storage.NewMockStorage()), modules)
	if err != nil {
		return err
	}

	taker, err := manager.New(config, takerComms, identity.New(), takerWallet,
		manager.NewStoragePersistence(storage.NewMockStorage()), modules)
	if err != nil {
		return err
	}

	handle, err := maker.SendInvoice(ctx, takerIdentityKey, remittance.InvoiceInput{
		LineItems: []remittance.LineItem{
			{
				Description: "Widget",
				Quantity:    1,
				UnitPrice:   remittance.Amount{Value: "100", Unit: remittance.Unit{Namespace: "iso4217", Code: "USD"}},
			},
		},
		Total: remittance.Amount{Value: "100", Unit: remittance.Unit{Namespace: "iso4217", Code: "USD"}},
	})
	if err != nil {
		return err
	}

	if err := taker.SyncThreads(ctx); err != nil {
		return err
	}

	takerThread := taker.Thread(handle.ThreadID)
	if takerThread == nil {
		return fmt.Errorf("taker thread missing after invoice")
	}

	if _, err := taker.Pay(ctx, takerThread.ThreadID, nil); err != nil {
		return err
	}

	if err := maker.SyncThreads(ctx); err != nil {
		return err
	}
	if err := taker.SyncThreads(ctx); err != nil {
		return err
	}

	final := taker.Thread(takerThread.ThreadID)
	logger.InfoWithFields(ctx, []logger.Field{
		logger.String("thread_id", string(final.ThreadID)),
		logger.String("state", final.State.String()),
	}, "Payment complete")

	return nil
}

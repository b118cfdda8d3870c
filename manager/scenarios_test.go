package manager

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tokenized/remittance"
	"github.com/tokenized/remittance/modules/memsettle"
)

// Test_Scenario_HappyPath covers spec section 8 S1: maker sends an invoice, taker pays, maker
// auto-issues a receipt, and both threads converge on receipted with the settling module's
// processReceipt invoked exactly once.
func Test_Scenario_HappyPath(t *testing.T) {
	module := memsettle.New("cash", false)
	config := DefaultConfig()
	config.ReceiptProvided = true
	config.AutoIssueReceipt = true

	h := newHarness(t, config, []remittance.RemittanceModule{module})

	invoiceHandle, err := h.maker.SendInvoice(h.ctx, h.takerKey, remittance.InvoiceInput{
		InvoiceNumber: "INV-1",
		Total:         remittance.Amount{Value: "100", Unit: remittance.Unit{Namespace: "demo", Code: "usd"}},
	})
	if err != nil {
		t.Fatalf("SendInvoice failed : %s", err)
	}
	threadID := invoiceHandle.ThreadID

	h.pumpUntil(t, 5*time.Second, func() bool {
		taker := h.taker.Thread(threadID)
		return taker != nil && taker.Invoice != nil
	})

	// Pay's internal waitForReceiptOrTermination loop drives the taker side itself; only the
	// maker needs an external pump to notice the settlement and auto-issue its receipt. Keeping
	// each manager touched by exactly one goroutine avoids racing the two sides against each
	// other (the engine requires the caller to serialize concurrent calls on one manager).
	stopMakerPump := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = h.maker.SyncThreads(h.ctx)
			case <-stopMakerPump:
				return
			}
		}
	}()

	if _, err := h.taker.Pay(h.ctx, threadID, nil); err != nil {
		close(stopMakerPump)
		t.Fatalf("Pay failed : %s", err)
	}
	close(stopMakerPump)

	maker := h.maker.Thread(threadID)
	taker := h.taker.Thread(threadID)

	if maker.State != remittance.StateReceipted {
		t.Fatalf("maker thread State = %s, want receipted", maker.State)
	}
	if taker.State != remittance.StateReceipted {
		t.Fatalf("taker thread State = %s, want receipted", taker.State)
	}

	if maker.Receipt == nil {
		t.Fatalf("maker thread has no receipt")
	}
	if taker.Receipt == nil {
		t.Fatalf("taker thread has no receipt")
	}
	if count := module.ReceiptProcessedCount(threadID); count != 1 {
		t.Errorf("ReceiptProcessedCount = %d, want 1", count)
	}
}

// Test_Scenario_UnsolicitedSettlementAllowed covers spec section 8 S2: a module that allows
// unsolicited settlements accepts a settlement sent with no preceding invoice.
func Test_Scenario_UnsolicitedSettlementAllowed(t *testing.T) {
	module := memsettle.New("cash", true)
	config := DefaultConfig()
	config.AutoIssueReceipt = true

	h := newHarness(t, config, []remittance.RemittanceModule{module})

	terms, err := module.CreateOption(h.ctx, remittance.ThreadID("unused"), remittance.InvoicePayload{})
	if err != nil {
		t.Fatalf("CreateOption failed : %s", err)
	}

	handle, err := h.taker.SendUnsolicitedSettlement(h.ctx, h.makerKey, module.ID(), terms, nil, nil)
	if err != nil {
		t.Fatalf("SendUnsolicitedSettlement failed : %s", err)
	}
	threadID := handle.ThreadID

	h.pumpUntil(t, 5*time.Second, func() bool {
		maker := h.maker.Thread(threadID)
		return maker != nil && (maker.State == remittance.StateReceipted || maker.State == remittance.StateSettled)
	})

	maker := h.maker.Thread(threadID)
	if maker.Invoice != nil {
		t.Errorf("unsolicited settlement thread should have no invoice, got %+v", maker.Invoice)
	}
	if maker.Settlement == nil {
		t.Fatalf("maker thread has no settlement")
	}
}

// Test_Scenario_UnsolicitedSettlementRejected covers spec section 8 S3: a module that disallows
// unsolicited settlements causes the maker side to terminate the thread.
func Test_Scenario_UnsolicitedSettlementRejected(t *testing.T) {
	module := memsettle.New("cash", false)
	h := newHarness(t, DefaultConfig(), []remittance.RemittanceModule{module})

	artifact := remittance.SettlementArtifact(`{"token":"x"}`)
	env, err := remittance.NewEnvelope("env-1", remittance.KindSettlement, remittance.ThreadID("t-unsolicited"),
		remittance.NowUnixMillis(), remittance.SettlementPayload{
			ThreadID:  remittance.ThreadID("t-unsolicited"),
			ModuleID:  module.ID(),
			OptionID:  remittance.OptionID(module.ID()),
			Sender:    h.takerKey,
			CreatedAt: remittance.NowUnixMillis(),
			Artifact:  artifact,
		})
	if err != nil {
		t.Fatalf("NewEnvelope failed : %s", err)
	}
	body, err := env.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed : %s", err)
	}

	if err := h.maker.HandleIncoming(h.ctx, remittance.PeerMessage{
		MessageID: "msg-1",
		Sender:    h.takerKey,
		Body:      body,
	}); err != nil {
		t.Fatalf("HandleIncoming failed : %s", err)
	}

	maker := h.maker.Thread(remittance.ThreadID("t-unsolicited"))
	if maker == nil {
		t.Fatalf("maker thread was not created")
	}
	if maker.State != remittance.StateTerminated {
		t.Fatalf("maker thread State = %s, want terminated", maker.State)
	}
	if maker.LastError == nil || !strings.Contains(*maker.LastError, "Unsolicited settlement not supported") {
		t.Errorf("LastError = %v, want to contain 'Unsolicited settlement not supported'", maker.LastError)
	}
}

// Test_Scenario_ModuleRefusesBuild covers spec section 8 S5: a module that refuses to build a
// settlement (Terminate: true) causes the taker side to terminate the thread.
func Test_Scenario_ModuleRefusesBuild(t *testing.T) {
	module := &refusingModule{Module: memsettle.New("cash", false)}
	h := newHarness(t, DefaultConfig(), []remittance.RemittanceModule{module})

	invoiceHandle, err := h.maker.SendInvoice(h.ctx, h.takerKey, remittance.InvoiceInput{
		InvoiceNumber: "INV-2",
		Total:         remittance.Amount{Value: "50", Unit: remittance.Unit{Namespace: "demo", Code: "usd"}},
	})
	if err != nil {
		t.Fatalf("SendInvoice failed : %s", err)
	}
	threadID := invoiceHandle.ThreadID

	h.pumpUntil(t, 5*time.Second, func() bool {
		taker := h.taker.Thread(threadID)
		return taker != nil && taker.Invoice != nil
	})

	if _, err := h.taker.Pay(h.ctx, threadID, nil); err != nil {
		t.Fatalf("Pay failed : %s", err)
	}

	taker := h.taker.Thread(threadID)
	if taker.State != remittance.StateTerminated {
		t.Fatalf("taker thread State = %s, want terminated", taker.State)
	}
	if taker.LastError == nil || !strings.HasPrefix(*taker.LastError, "Sent termination: No thanks") {
		t.Errorf("LastError = %v, want to start with 'Sent termination: No thanks'", taker.LastError)
	}
}

// Test_Scenario_IdentityBeforeInvoicing covers spec section 8 S4: with
// makerRequestIdentity="beforeInvoicing", sendInvoice first drives the identity request/response/
// acknowledgment exchange to completion before the invoice itself goes out, and both sides end up
// flags.hasIdentified.
func Test_Scenario_IdentityBeforeInvoicing(t *testing.T) {
	module := memsettle.New("cash", false)
	config := DefaultConfig()
	config.IdentityOptions.MakerRequestIdentity = remittance.RequestPhaseBeforeInvoicing
	config.IdentityPollIntervalMs = 5
	config.IdentityTimeoutMs = 5000

	h := newHarness(t, config, []remittance.RemittanceModule{module})

	var mu sync.Mutex
	var sentKinds []remittance.Kind
	recordSent := func(e remittance.Event) {
		mu.Lock()
		defer mu.Unlock()
		if n := len(e.Thread.ProtocolLog); n > 0 {
			sentKinds = append(sentKinds, e.Thread.ProtocolLog[n-1].Envelope.Kind)
		}
	}
	h.maker.On(remittance.EventEnvelopeSent, recordSent)
	h.taker.On(remittance.EventEnvelopeSent, recordSent)

	// sendInvoice blocks on the maker side waiting for the taker's acknowledgment; only the taker
	// needs an external pump to notice the request and respond (the maker polls its own inbox
	// internally while it waits, same reasoning as Test_Scenario_HappyPath).
	stopTakerPump := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = h.taker.SyncThreads(h.ctx)
			case <-stopTakerPump:
				return
			}
		}
	}()

	invoiceHandle, err := h.maker.SendInvoice(h.ctx, h.takerKey, remittance.InvoiceInput{
		InvoiceNumber: "INV-4",
		Total:         remittance.Amount{Value: "10", Unit: remittance.Unit{Namespace: "demo", Code: "usd"}},
	})
	close(stopTakerPump)
	if err != nil {
		t.Fatalf("SendInvoice failed : %s", err)
	}
	threadID := invoiceHandle.ThreadID

	h.pumpUntil(t, 5*time.Second, func() bool {
		taker := h.taker.Thread(threadID)
		return taker != nil && taker.Invoice != nil
	})

	maker := h.maker.Thread(threadID)
	taker := h.taker.Thread(threadID)

	if maker.State != remittance.StateInvoiced {
		t.Fatalf("maker thread State = %s, want invoiced", maker.State)
	}
	if !maker.Flags.HasIdentified {
		t.Errorf("maker flags.hasIdentified = false, want true")
	}
	if !taker.Flags.HasIdentified {
		t.Errorf("taker flags.hasIdentified = false, want true")
	}

	mu.Lock()
	kinds := append([]remittance.Kind(nil), sentKinds...)
	mu.Unlock()

	want := []remittance.Kind{
		remittance.KindIdentityVerificationRequest,
		remittance.KindIdentityVerificationResponse,
		remittance.KindIdentityVerificationAcknowledgment,
		remittance.KindInvoice,
	}
	if len(kinds) < len(want) {
		t.Fatalf("sent envelope kinds = %v, want at least %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("sent envelope[%d] = %s, want %s", i, kinds[i], k)
		}
	}
}

// refusingModule wraps memsettle.Module but always refuses to build a settlement, for
// Test_Scenario_ModuleRefusesBuild.
type refusingModule struct {
	*memsettle.Module
}

func (m *refusingModule) BuildSettlement(ctx context.Context,
	input remittance.BuildSettlementInput) (remittance.SettlementOutcome, error) {

	return remittance.SettlementOutcome{
		Terminate:   true,
		Termination: remittance.NewTermination("No thanks"),
	}, nil
}

// Test_Scenario_InvalidTransition covers spec section 8 S6: an out-of-order receipt envelope for
// an unknown thread is rejected, and the thread lands in errored rather than silently advancing.
func Test_Scenario_InvalidTransition(t *testing.T) {
	module := memsettle.New("cash", false)
	h := newHarness(t, DefaultConfig(), []remittance.RemittanceModule{module})

	env, err := remittance.NewEnvelope("env-2", remittance.KindReceipt, remittance.ThreadID("t-out-of-order"),
		remittance.NowUnixMillis(), remittance.ReceiptPayload{
			ThreadID:  remittance.ThreadID("t-out-of-order"),
			ModuleID:  module.ID(),
			Payee:     h.makerKey,
			Payer:     h.takerKey,
			CreatedAt: remittance.NowUnixMillis(),
		})
	if err != nil {
		t.Fatalf("NewEnvelope failed : %s", err)
	}
	body, err := env.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed : %s", err)
	}

	var sawError bool
	h.taker.On(remittance.EventError, func(e remittance.Event) { sawError = true })

	msg := remittance.PeerMessage{MessageID: "msg-2", Sender: h.makerKey, Body: body}
	if err := h.taker.HandleIncoming(h.ctx, msg); err == nil {
		t.Fatalf("HandleIncoming should fail for an out-of-order receipt")
	}

	thread := h.taker.Thread(remittance.ThreadID("t-out-of-order"))
	if thread == nil {
		t.Fatalf("thread was not created")
	}
	if thread.State != remittance.StateErrored {
		t.Fatalf("thread State = %s, want errored", thread.State)
	}
	if thread.LastError == nil {
		t.Errorf("LastError should be populated")
	}
	if !sawError {
		t.Errorf("expected an error event to fire")
	}
	if thread.HasProcessed(msg.MessageID) {
		t.Errorf("a message that failed to apply must not be marked processed")
	}
}

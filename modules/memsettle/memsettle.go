// Package memsettle provides a reference RemittanceModule that settles by exchanging an opaque
// token instead of a real payment, grounded on the teacher's invoice/negotiation workflow
// (negotiation.Transaction.Copy, the accept-or-reject shape of response.go) but with the
// bitcoin transaction construction stripped out, since building transactions is a module concern
// the engine never touches.
package memsettle

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/tokenized/remittance"

	"github.com/pkg/errors"
)

const defaultID = remittance.ModuleID("memsettle")

var (
	ErrMalformedTerms   = errors.New("Malformed Terms")
	ErrMalformedArtifact = errors.New("Malformed Artifact")
)

// Terms is the option-specific data a Module attaches to an invoice (spec section 4.5,
// "createOption"). It carries nothing but an identifying label; a real settlement module would
// put payment instructions here.
type Terms struct {
	Label string `json:"label"`
}

// Artifact is the settlement proof a Module exchanges (spec section 9, "SettlementArtifact").
type Artifact struct {
	Token string `json:"token"`
}

// Receipt is the receipt data a Module may hand back to the payer (spec section 9,
// "ReceiptData").
type Receipt struct {
	Token string `json:"token"`
}

// Module is a reference RemittanceModule implementation that accepts any settlement carrying a
// well-formed Artifact, useful for demos and tests (spec section 6, "RemittanceModule").
type Module struct {
	id    remittance.ModuleID
	label string

	allowUnsolicited bool

	lock            sync.Mutex
	received        map[remittance.ThreadID]Artifact
	receiptsApplied map[remittance.ThreadID]int
}

// New creates a memsettle module. label is echoed into every option's Terms so a counterparty
// can tell which instance issued it.
func New(label string, allowUnsolicited bool) *Module {
	return &Module{
		id:               defaultID,
		label:            label,
		allowUnsolicited: allowUnsolicited,
		received:         make(map[remittance.ThreadID]Artifact),
		receiptsApplied:  make(map[remittance.ThreadID]int),
	}
}

func (m *Module) ID() remittance.ModuleID { return m.id }

func (m *Module) Name() string { return "In-Memory Settlement Token" }

func (m *Module) AllowUnsolicitedSettlements() bool { return m.allowUnsolicited }

func (m *Module) CreateOption(ctx context.Context, threadID remittance.ThreadID,
	invoice remittance.InvoicePayload) (remittance.OptionTerms, error) {

	terms := Terms{Label: m.label}
	data, err := json.Marshal(terms)
	if err != nil {
		return nil, errors.Wrap(err, "marshal")
	}

	return remittance.OptionTerms(data), nil
}

func (m *Module) BuildSettlement(ctx context.Context,
	input remittance.BuildSettlementInput) (remittance.SettlementOutcome, error) {

	if len(input.Option) > 0 {
		var terms Terms
		if err := json.Unmarshal(input.Option, &terms); err != nil {
			return remittance.SettlementOutcome{}, errors.Wrap(ErrMalformedTerms, err.Error())
		}
	}

	artifact := Artifact{Token: uuid.New().String()}
	data, err := json.Marshal(artifact)
	if err != nil {
		return remittance.SettlementOutcome{}, errors.Wrap(err, "marshal")
	}

	return remittance.SettlementOutcome{
		Settle:   true,
		Artifact: remittance.SettlementArtifact(data),
	}, nil
}

func (m *Module) AcceptSettlement(ctx context.Context,
	input remittance.AcceptSettlementInput) (remittance.AcceptanceOutcome, error) {

	var artifact Artifact
	if err := json.Unmarshal(input.Settlement.Artifact, &artifact); err != nil {
		return remittance.AcceptanceOutcome{}, errors.Wrap(ErrMalformedArtifact, err.Error())
	}
	if len(artifact.Token) == 0 {
		return remittance.AcceptanceOutcome{
			Terminate:   true,
			Termination: remittance.NewTermination("settlement token is empty"),
		}, nil
	}

	m.lock.Lock()
	m.received[input.ThreadID] = artifact
	m.lock.Unlock()

	receipt := Receipt{Token: artifact.Token}
	data, err := json.Marshal(receipt)
	if err != nil {
		return remittance.AcceptanceOutcome{}, errors.Wrap(err, "marshal")
	}

	return remittance.AcceptanceOutcome{
		Accept:      true,
		ReceiptData: remittance.ReceiptData(data),
	}, nil
}

func (m *Module) ProcessReceipt(ctx context.Context, threadID remittance.ThreadID,
	invoice *remittance.InvoicePayload, receiptData remittance.ReceiptData,
	sender remittance.IdentityKey) error {
	m.lock.Lock()
	m.receiptsApplied[threadID]++
	m.lock.Unlock()
	return nil
}

func (m *Module) ProcessTermination(ctx context.Context, threadID remittance.ThreadID,
	invoice *remittance.InvoicePayload, settlement *remittance.SettlementPayload,
	termination remittance.TerminationPayload, sender remittance.IdentityKey) error {
	return nil
}

// ReceivedToken returns the settlement token recorded for threadID, if any. Exposed for tests.
func (m *Module) ReceivedToken(threadID remittance.ThreadID) (string, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	artifact, exists := m.received[threadID]
	return artifact.Token, exists
}

// ReceiptProcessedCount returns how many times ProcessReceipt has been called for threadID.
// Exposed for tests.
func (m *Module) ReceiptProcessedCount(threadID remittance.ThreadID) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.receiptsApplied[threadID]
}

package remittance

import "context"

// PeerMessage is one message as seen through a CommsLayer (spec section 6).
type PeerMessage struct {
	MessageID   string
	Sender      IdentityKey
	Recipient   IdentityKey
	MessageBox  string
	Body        []byte
}

// SendMessageRequest describes an outbound transport send (spec section 6).
type SendMessageRequest struct {
	Recipient  IdentityKey
	MessageBox string
	Body       []byte
}

// ListMessagesRequest describes a poll for inbound messages (spec section 6).
type ListMessagesRequest struct {
	MessageBox string
	Host       string
}

// CommsLayer is the generic message transport the engine is built on top of (spec section 6).
// The engine never interprets transport-level addressing beyond what these methods expose.
//
// SendLiveMessage and ListenForLiveMessages are optional; a CommsLayer that does not support a
// live push channel can leave them unimplemented by returning an error. When SendLiveMessage
// fails the manager falls back to SendMessage, and inbound messages are still picked up by
// polling ListMessages (Run, SyncThreads).
type CommsLayer interface {
	SendMessage(ctx context.Context, req SendMessageRequest, hostOverride string) (transportMessageID string, err error)
	SendLiveMessage(ctx context.Context, req SendMessageRequest, hostOverride string) (transportMessageID string, err error)
	ListMessages(ctx context.Context, req ListMessagesRequest) ([]PeerMessage, error)
	AcknowledgeMessage(ctx context.Context, messageIDs []string) error
	ListenForLiveMessages(ctx context.Context, messageBox string, overrideHost string, onMessage func(PeerMessage)) error
}

// IdentityDecision is the result of IdentityLayer.RespondToRequest: either a response to send,
// or a termination to send instead (spec section 6).
type IdentityDecision struct {
	Respond     bool
	Response    IdentityVerificationResponsePayload
	Terminate   bool
	Termination TerminationPayload
}

// SufficiencyDecision is the result of IdentityLayer.AssessReceivedCertificateSufficiency: either
// an acknowledgment to send, or a termination (spec section 6).
type SufficiencyDecision struct {
	Acknowledge bool
	Terminate   bool
	Termination TerminationPayload
}

// IdentityLayer decides what certificates to request, how to respond to a counterparty's
// request, and whether a counterparty's response is sufficient to proceed (spec section 6).
type IdentityLayer interface {
	DetermineCertificatesToRequest(ctx context.Context, counterparty IdentityKey, threadID ThreadID) (IdentityVerificationRequestPayload, error)
	RespondToRequest(ctx context.Context, counterparty IdentityKey, threadID ThreadID, request IdentityVerificationRequestPayload) (IdentityDecision, error)
	AssessReceivedCertificateSufficiency(ctx context.Context, counterparty IdentityKey, response IdentityVerificationResponsePayload, threadID ThreadID) (SufficiencyDecision, error)
}

// SettlementOutcome is the result of RemittanceModule.BuildSettlement: either a settlement
// artifact to send, or a termination (spec section 6).
type SettlementOutcome struct {
	Settle      bool
	Artifact    SettlementArtifact
	Terminate   bool
	Termination TerminationPayload
}

// AcceptanceOutcome is the result of RemittanceModule.AcceptSettlement: either acceptance
// (optionally carrying receipt data), or a termination (spec section 6).
type AcceptanceOutcome struct {
	Accept      bool
	ReceiptData ReceiptData
	Terminate   bool
	Termination TerminationPayload
}

// BuildSettlementInput carries everything a module needs to construct a settlement (spec
// section 6). Invoice is nil for unsolicited settlements (spec section 4.5).
type BuildSettlementInput struct {
	ThreadID ThreadID
	Invoice  *InvoicePayload
	Option   OptionTerms
	Note     *string
}

// AcceptSettlementInput carries everything a module needs to judge a received settlement (spec
// section 6).
type AcceptSettlementInput struct {
	ThreadID   ThreadID
	Invoice    *InvoicePayload
	Settlement SettlementPayload
	Sender     IdentityKey
}

// RemittanceModule implements one settlement mechanism pluggable into the engine (spec section
// 6). ID and Name identify it in Invoice.Options; AllowUnsolicitedSettlements governs whether
// the module accepts a settlement on a thread with no invoice (spec section 4.5).
type RemittanceModule interface {
	ID() ModuleID
	Name() string
	AllowUnsolicitedSettlements() bool

	CreateOption(ctx context.Context, threadID ThreadID, invoice InvoicePayload) (OptionTerms, error)
	BuildSettlement(ctx context.Context, input BuildSettlementInput) (SettlementOutcome, error)
	AcceptSettlement(ctx context.Context, input AcceptSettlementInput) (AcceptanceOutcome, error)
	ProcessReceipt(ctx context.Context, threadID ThreadID, invoice *InvoicePayload, receiptData ReceiptData, sender IdentityKey) error
	ProcessTermination(ctx context.Context, threadID ThreadID, invoice *InvoicePayload, settlement *SettlementPayload, termination TerminationPayload, sender IdentityKey) error
}

// Wallet produces the local identity public key and performs any settlement-time key
// derivation or transaction building a module needs. It is opaque to the engine, which never
// inspects what a module does with it (spec section 6).
type Wallet interface {
	IdentityKey(ctx context.Context) (IdentityKey, error)
}

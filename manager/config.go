package manager

import "github.com/tokenized/remittance"

// Config governs a RemittanceManager's runtime behavior (spec section 6, "Runtime
// configuration"). The zero value is not valid; use DefaultConfig and override fields.
type Config struct {
	// MessageBox is the CommsLayer message-box name the manager listens on and sends to.
	MessageBox string `json:"message_box"`

	IdentityOptions remittance.IdentityOptions `json:"identity_options"`

	// ReceiptProvided, if false, means Pay returns as soon as the settlement envelope is sent
	// instead of waiting for a receipt.
	ReceiptProvided bool `json:"receipt_provided"`

	// AutoIssueReceipt, if true, makes the manager send a receipt envelope automatically after
	// accepting a settlement, without the caller needing to call IssueReceipt. It only takes
	// effect when ReceiptProvided is also true.
	AutoIssueReceipt bool `json:"auto_issue_receipt"`

	// InvoiceExpirySeconds, if negative, means invoices never expire. Otherwise it is added to
	// the invoice's creation time to compute ExpiresAt.
	InvoiceExpirySeconds int `json:"invoice_expiry_seconds"`

	// IdentityTimeoutMs bounds how long the manager waits for an identity acknowledgment.
	IdentityTimeoutMs int `json:"identity_timeout_ms"`

	// IdentityPollIntervalMs is how often the manager polls CommsLayer.ListMessages while waiting
	// for an identity acknowledgment or a receipt, and between polls in Run. It polls at this
	// interval whether or not the transport has a live push channel.
	IdentityPollIntervalMs int `json:"identity_poll_interval_ms"`
}

// DefaultConfig returns the configuration defaults named in spec section 6.
func DefaultConfig() Config {
	return Config{
		MessageBox: "remittance_inbox",
		IdentityOptions: remittance.IdentityOptions{
			MakerRequestIdentity: remittance.RequestPhaseNever,
			TakerRequestIdentity: remittance.RequestPhaseNever,
		},
		ReceiptProvided:        true,
		AutoIssueReceipt:       false,
		InvoiceExpirySeconds:   -1,
		IdentityTimeoutMs:      30000,
		IdentityPollIntervalMs: 500,
	}
}

package remittance

import "fmt"

// RequestPhase controls when (if ever) a role requests identity verification from its
// counterparty (spec section 6, runtime configuration table).
type RequestPhase uint8

const (
	RequestPhaseNever             = RequestPhase(0)
	RequestPhaseBeforeInvoicing   = RequestPhase(1)
	RequestPhaseBeforeSettlement  = RequestPhase(2)
)

func (v RequestPhase) String() string {
	switch v {
	case RequestPhaseNever:
		return "never"
	case RequestPhaseBeforeInvoicing:
		return "beforeInvoicing"
	case RequestPhaseBeforeSettlement:
		return "beforeSettlement"
	default:
		return ""
	}
}

func (v RequestPhase) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", v.String())), nil
}

// CertificateField is one field of a requested or presented certificate.
type CertificateField struct {
	Name           string `json:"name"`
	EncryptedValue string `json:"encryptedValue,omitempty"`
}

// CertificateRequest names one certificate type and the fields required of it.
type CertificateRequest struct {
	Type           string   `json:"type"`
	RequiredFields []string `json:"requiredFields"`
}

// IdentityVerificationRequestPayload lists the certificates being requested and which certifier
// keys are acceptable (spec section 3, "Identity payloads").
type IdentityVerificationRequestPayload struct {
	ThreadID         ThreadID              `json:"threadId"`
	Certificates     []CertificateRequest  `json:"certificates"`
	AcceptCertifiers []IdentityKey         `json:"acceptCertifiers"`
}

// Certificate is one certificate presented in an IdentityVerificationResponsePayload.
type Certificate struct {
	Type               string             `json:"type"`
	Certifier          IdentityKey        `json:"certifier"`
	Subject            IdentityKey        `json:"subject"`
	Fields             []CertificateField `json:"fields"`
	Signature          string             `json:"signature"`
	SerialNumber       string             `json:"serialNumber"`
	RevocationOutpoint string             `json:"revocationOutpoint,omitempty"`
	VerifierKeys       map[string]string  `json:"verifierKeys,omitempty"`
}

// IdentityVerificationResponsePayload carries the certificates presented in answer to a request.
type IdentityVerificationResponsePayload struct {
	ThreadID     ThreadID      `json:"threadId"`
	Certificates []Certificate `json:"certificates"`
}

// IdentityVerificationAcknowledgmentPayload closes out an identity exchange. It carries nothing
// beyond the thread id.
type IdentityVerificationAcknowledgmentPayload struct {
	ThreadID ThreadID `json:"threadId"`
}

// IdentityRecord is the thread's identity sub-record (spec section 3).
type IdentityRecord struct {
	Sent     []Certificate `json:"sent,omitempty"`
	Received []Certificate `json:"received,omitempty"`

	RequestSent            bool `json:"requestSent"`
	ResponseSent           bool `json:"responseSent"`
	AcknowledgmentSent     bool `json:"acknowledgmentSent"`
	AcknowledgmentReceived bool `json:"acknowledgmentReceived"`
}

// Copy returns a copy with its own Sent and Received slices. Each Certificate's Fields slice and
// VerifierKeys map are still shared with r.
func (r IdentityRecord) Copy() IdentityRecord {
	result := r
	if r.Sent != nil {
		result.Sent = make([]Certificate, len(r.Sent))
		copy(result.Sent, r.Sent)
	}
	if r.Received != nil {
		result.Received = make([]Certificate, len(r.Received))
		copy(result.Received, r.Received)
	}
	return result
}

// IdentityOptions is the runtime configuration of when each role requests identity verification.
type IdentityOptions struct {
	MakerRequestIdentity RequestPhase
	TakerRequestIdentity RequestPhase
}

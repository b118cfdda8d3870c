package remittance

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// EnvelopeVersion is the only protocol version this engine understands. Any other value makes
// an envelope fail to parse (spec section 3).
const EnvelopeVersion = uint8(1)

// Kind identifies the payload shape carried by an Envelope.
type Kind uint8

const (
	KindInvalid = Kind(0)

	KindIdentityVerificationRequest        = Kind(1)
	KindIdentityVerificationResponse       = Kind(2)
	KindIdentityVerificationAcknowledgment = Kind(3)
	KindInvoice                            = Kind(4)
	KindSettlement                         = Kind(5)
	KindReceipt                            = Kind(6)
	KindTermination                        = Kind(7)
)

// Envelope is the wire unit exchanged between engines (spec section 3).
type Envelope struct {
	V         uint8           `json:"v"`
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	ThreadID  ThreadID        `json:"threadId"`
	CreatedAt UnixMillis      `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

// ParseEnvelope attempts to decode body as an Envelope. It returns (nil, false) on any of the
// failure cases spec section 4.2 lists: decode failure, non-object, v != 1, missing/empty
// kind/threadId/id. Unrecognized payload shapes (i.e. well-formed envelope, unknown payload
// contents) pass parsing and are rejected later by the dispatcher.
func ParseEnvelope(body []byte) (*Envelope, bool) {
	var raw struct {
		V         uint8           `json:"v"`
		ID        string          `json:"id"`
		Kind      string          `json:"kind"`
		ThreadID  string          `json:"threadId"`
		CreatedAt UnixMillis      `json:"createdAt"`
		Payload   json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}

	if raw.V != EnvelopeVersion {
		return nil, false
	}

	if len(raw.Kind) == 0 || len(raw.ThreadID) == 0 || len(raw.ID) == 0 {
		return nil, false
	}

	var kind Kind
	if err := kind.SetString(raw.Kind); err != nil {
		// Unrecognized kind still parses as a well-formed envelope; the dispatcher rejects it.
		kind = KindInvalid
	}

	return &Envelope{
		V:         raw.V,
		ID:        raw.ID,
		Kind:      kind,
		ThreadID:  ThreadID(raw.ThreadID),
		CreatedAt: raw.CreatedAt,
		Payload:   raw.Payload,
	}, true
}

// Serialize produces the canonical body sent to the CommsLayer.
func (e Envelope) Serialize() ([]byte, error) {
	wire := struct {
		V         uint8           `json:"v"`
		ID        string          `json:"id"`
		Kind      Kind            `json:"kind"`
		ThreadID  ThreadID        `json:"threadId"`
		CreatedAt UnixMillis      `json:"createdAt"`
		Payload   json.RawMessage `json:"payload"`
	}{
		V:         EnvelopeVersion,
		ID:        e.ID,
		Kind:      e.Kind,
		ThreadID:  e.ThreadID,
		CreatedAt: e.CreatedAt,
		Payload:   e.Payload,
	}

	b, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}

	return b, nil
}

// NewEnvelope marshals payload and wraps it with envelope framing.
func NewEnvelope(id string, kind Kind, threadID ThreadID, createdAt UnixMillis,
	payload interface{}) (Envelope, error) {

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "marshal payload")
	}

	return Envelope{
		V:         EnvelopeVersion,
		ID:        id,
		Kind:      kind,
		ThreadID:  threadID,
		CreatedAt: createdAt,
		Payload:   raw,
	}, nil
}

func (v *Kind) SetString(s string) error {
	switch s {
	case "identityVerificationRequest":
		*v = KindIdentityVerificationRequest
	case "identityVerificationResponse":
		*v = KindIdentityVerificationResponse
	case "identityVerificationAcknowledgment":
		*v = KindIdentityVerificationAcknowledgment
	case "invoice":
		*v = KindInvoice
	case "settlement":
		*v = KindSettlement
	case "receipt":
		*v = KindReceipt
	case "termination":
		*v = KindTermination
	default:
		*v = KindInvalid
		return errors.Wrap(ErrUnknownEnvelopeKind, s)
	}

	return nil
}

func (v Kind) String() string {
	switch v {
	case KindIdentityVerificationRequest:
		return "identityVerificationRequest"
	case KindIdentityVerificationResponse:
		return "identityVerificationResponse"
	case KindIdentityVerificationAcknowledgment:
		return "identityVerificationAcknowledgment"
	case KindInvoice:
		return "invoice"
	case KindSettlement:
		return "settlement"
	case KindReceipt:
		return "receipt"
	case KindTermination:
		return "termination"
	default:
		return ""
	}
}

func (v Kind) MarshalJSON() ([]byte, error) {
	s := v.String()
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%q", s)), nil
}

func (v *Kind) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return errors.Errorf("too short for Kind: %d", len(data))
	}
	if string(data) == "null" {
		*v = KindInvalid
		return nil
	}
	return v.SetString(string(data[1 : len(data)-1]))
}

package remittance

import (
	"encoding/json"
	"testing"

	"github.com/go-test/deep"
)

func Test_ParseEnvelope(t *testing.T) {
	valid := `{"v":1,"id":"env-1","kind":"invoice","threadId":"t-1","createdAt":1000,"payload":{"total":"100"}}`

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"valid envelope", valid, true},
		{"not json", "not json at all", false},
		{"wrong version", `{"v":2,"id":"env-1","kind":"invoice","threadId":"t-1"}`, false},
		{"missing id", `{"v":1,"kind":"invoice","threadId":"t-1"}`, false},
		{"missing threadId", `{"v":1,"id":"env-1","kind":"invoice"}`, false},
		{"missing kind", `{"v":1,"id":"env-1","threadId":"t-1"}`, false},
		{"unrecognized kind still parses", `{"v":1,"id":"env-1","kind":"bogus","threadId":"t-1"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, ok := ParseEnvelope([]byte(tt.body))
			if ok != tt.want {
				t.Fatalf("ParseEnvelope() ok = %v, want %v", ok, tt.want)
			}
			if ok && env == nil {
				t.Fatalf("ParseEnvelope() returned ok=true with a nil envelope")
			}
		})
	}
}

func Test_ParseEnvelope_UnrecognizedKindIsInvalid(t *testing.T) {
	env, ok := ParseEnvelope([]byte(`{"v":1,"id":"env-1","kind":"bogus","threadId":"t-1"}`))
	if !ok {
		t.Fatalf("expected a well-formed envelope")
	}
	if env.Kind != KindInvalid {
		t.Errorf("Kind = %s, want invalid", env.Kind)
	}
}

func Test_Envelope_SerializeRoundTrip(t *testing.T) {
	payload := InvoicePayload{
		Payee:         "payee-key",
		Payer:         "payer-key",
		InvoiceNumber: "INV-1",
		Total:         Amount{Value: "1000", Unit: Unit{Namespace: "bsv", Code: "sat"}},
	}

	env, err := NewEnvelope("env-1", KindInvoice, ThreadID("t-1"), UnixMillis(1234), payload)
	if err != nil {
		t.Fatalf("NewEnvelope failed : %s", err)
	}

	body, err := env.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed : %s", err)
	}

	parsed, ok := ParseEnvelope(body)
	if !ok {
		t.Fatalf("ParseEnvelope failed to parse a serialized envelope")
	}

	if parsed.Kind != KindInvoice {
		t.Errorf("Kind = %s, want invoice", parsed.Kind)
	}
	if parsed.ThreadID != "t-1" {
		t.Errorf("ThreadID = %s, want t-1", parsed.ThreadID)
	}

	var gotPayload InvoicePayload
	if err := json.Unmarshal(parsed.Payload, &gotPayload); err != nil {
		t.Fatalf("Unmarshal payload failed : %s", err)
	}

	if diff := deep.Equal(payload, gotPayload); diff != nil {
		t.Errorf("Payload round-trip mismatch : %v", diff)
	}
}

func Test_Kind_StringRoundTrip(t *testing.T) {
	kinds := []Kind{
		KindIdentityVerificationRequest,
		KindIdentityVerificationResponse,
		KindIdentityVerificationAcknowledgment,
		KindInvoice,
		KindSettlement,
		KindReceipt,
		KindTermination,
	}

	for _, k := range kinds {
		var got Kind
		if err := got.SetString(k.String()); err != nil {
			t.Fatalf("SetString(%s) failed : %s", k.String(), err)
		}
		if got != k {
			t.Errorf("SetString(%s) = %d, want %d", k.String(), got, k)
		}
	}
}

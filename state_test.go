package remittance

import "testing"

func Test_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"new to identityRequested", StateNew, StateIdentityRequested, true},
		{"new to invoiced", StateNew, StateInvoiced, true},
		{"new to settled (unsolicited)", StateNew, StateSettled, true},
		{"new to identityResponded directly", StateNew, StateIdentityResponded, true},
		{"invoiced to settled", StateInvoiced, StateSettled, true},
		{"settled to receipted", StateSettled, StateReceipted, true},
		{"receipted to terminated", StateReceipted, StateTerminated, true},
		{"new to receipted directly is invalid", StateNew, StateReceipted, false},
		{"invoiced back to new is invalid", StateInvoiced, StateNew, false},
		{"terminated has no outgoing edges", StateTerminated, StateNew, false},
		{"terminated to terminated is invalid", StateTerminated, StateTerminated, false},
		{"errored has no outgoing edges", StateErrored, StateInvoiced, false},
		{"settled back to invoiced is invalid", StateSettled, StateInvoiced, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanTransition(tt.from, tt.to)
			if got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func Test_Transition_InvalidReturnsProtocolError(t *testing.T) {
	err := Transition(StateTerminated, StateInvoiced)
	if err == nil {
		t.Fatalf("Transition from a terminal state should fail")
	}
	if ErrorKind(err) != KindProtocol {
		t.Errorf("ErrorKind = %s, want %s", ErrorKind(err), KindProtocol)
	}
}

func Test_DeriveState(t *testing.T) {
	tests := []struct {
		name         string
		flags        Flags
		identity     IdentityRecord
		hasInvoice   bool
		hasSettle    bool
		hasReceipt   bool
		hasTerminate bool
		want         State
	}{
		{"fresh thread", Flags{}, IdentityRecord{}, false, false, false, false, StateNew},
		{"request sent", Flags{}, IdentityRecord{RequestSent: true}, false, false, false, false,
			StateIdentityRequested},
		{"response sent", Flags{}, IdentityRecord{RequestSent: true, ResponseSent: true}, false, false,
			false, false, StateIdentityResponded},
		{"ack received", Flags{HasIdentified: true}, IdentityRecord{AcknowledgmentReceived: true},
			false, false, false, false, StateIdentityAcknowledged},
		{"invoiced", Flags{HasInvoiced: true}, IdentityRecord{}, true, false, false, false, StateInvoiced},
		{"settled overrides invoiced", Flags{HasInvoiced: true, HasPaid: true}, IdentityRecord{}, true,
			true, false, false, StateSettled},
		{"receipted overrides settled", Flags{HasInvoiced: true, HasPaid: true, HasReceipted: true},
			IdentityRecord{}, true, true, true, false, StateReceipted},
		{"terminated overrides everything but error", Flags{HasInvoiced: true, HasPaid: true}, IdentityRecord{},
			true, true, false, true, StateTerminated},
		{"error wins regardless of progress", Flags{Error: true, HasReceipted: true}, IdentityRecord{},
			true, true, true, true, StateErrored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveState(tt.flags, tt.identity, tt.hasInvoice, tt.hasSettle, tt.hasReceipt, tt.hasTerminate)
			if got != tt.want {
				t.Errorf("DeriveState() = %s, want %s", got, tt.want)
			}
		})
	}
}

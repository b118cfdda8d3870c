// Package identity provides a reference IdentityLayer that requests no certificates and accepts
// whatever a counterparty sends, grounded on the teacher's relationships.Identity concept (a
// named, certified party) with certificate issuance and verification stripped out since that is
// out of the engine's scope (spec section 6, "IdentityLayer").
package identity

import (
	"context"

	"github.com/tokenized/remittance"
)

// AcceptAny is an IdentityLayer that never requests certificates, acknowledges any response it
// receives, and always finds a response sufficient. Useful for demos and tests where identity
// verification is not the thing under test.
type AcceptAny struct{}

// New returns an AcceptAny identity layer.
func New() *AcceptAny {
	return &AcceptAny{}
}

func (a *AcceptAny) DetermineCertificatesToRequest(ctx context.Context,
	counterparty remittance.IdentityKey,
	threadID remittance.ThreadID) (remittance.IdentityVerificationRequestPayload, error) {

	return remittance.IdentityVerificationRequestPayload{
		ThreadID: threadID,
	}, nil
}

func (a *AcceptAny) RespondToRequest(ctx context.Context, counterparty remittance.IdentityKey,
	threadID remittance.ThreadID,
	request remittance.IdentityVerificationRequestPayload) (remittance.IdentityDecision, error) {

	return remittance.IdentityDecision{
		Respond: true,
		Response: remittance.IdentityVerificationResponsePayload{
			ThreadID: threadID,
		},
	}, nil
}

func (a *AcceptAny) AssessReceivedCertificateSufficiency(ctx context.Context,
	counterparty remittance.IdentityKey, response remittance.IdentityVerificationResponsePayload,
	threadID remittance.ThreadID) (remittance.SufficiencyDecision, error) {

	return remittance.SufficiencyDecision{Acknowledge: true}, nil
}

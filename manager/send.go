package manager

import (
	"context"

	"github.com/tokenized/logger"
	"github.com/tokenized/remittance"

	"github.com/pkg/errors"
)

// sendEnvelope serializes env, tries a live send first when the transport supports it, falls
// back to store-and-forward, appends to the thread's protocol log, and emits envelopeSent (spec
// section 4.5, "Every outbound envelope is wrapped by sendEnvelope").
func (m *Manager) sendEnvelope(ctx context.Context, thread *remittance.Thread,
	recipient remittance.IdentityKey, env remittance.Envelope) error {

	body, err := env.Serialize()
	if err != nil {
		return errors.Wrap(err, "serialize envelope")
	}

	req := remittance.SendMessageRequest{
		Recipient:  recipient,
		MessageBox: m.config.MessageBox,
		Body:       body,
	}

	transportMessageID, err := m.comms.SendLiveMessage(ctx, req, "")
	if err != nil {
		logger.VerboseWithFields(ctx, []logger.Field{
			logger.String("thread_id", string(thread.ThreadID)),
			logger.String("kind", env.Kind.String()),
		}, "Live send unavailable, falling back to store-and-forward : %s", err)

		transportMessageID, err = m.comms.SendMessage(ctx, req, "")
		if err != nil {
			return remittance.NewTransportError(string(recipient), "", "", err)
		}
	}

	thread.ProtocolLog = append(thread.ProtocolLog, remittance.ProtocolLogEntry{
		Direction:          remittance.DirectionOut,
		Envelope:           env,
		TransportMessageID: transportMessageID,
	})

	m.listeners.emit(ctx, remittance.Event{
		Type:   remittance.EventEnvelopeSent,
		Thread: thread.Copy(),
	})

	return nil
}

// newEnvelope builds and frames an envelope for threadID, stamping a fresh ID and the current
// time.
func (m *Manager) newEnvelope(threadID remittance.ThreadID, kind remittance.Kind,
	payload interface{}) (remittance.Envelope, error) {

	return remittance.NewEnvelope(m.idGen.NewEnvelopeID(), kind, threadID, m.clock.Now(), payload)
}

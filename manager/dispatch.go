package manager

import (
	"context"
	"encoding/json"

	"github.com/tokenized/logger"
	"github.com/tokenized/remittance"

	"github.com/pkg/errors"
)

// HandleIncoming applies one inbound PeerMessage through the dispatcher (spec section 4.4). A
// failure while applying the envelope is recorded onto the thread (Thread.LastError, the errored
// state and the error event) and is also returned. A returned error means the message should be
// retried, i.e. left unacknowledged, either because it could not be parsed or because applying it
// failed.
func (m *Manager) HandleIncoming(ctx context.Context, msg remittance.PeerMessage) error {
	env, ok := remittance.ParseEnvelope(msg.Body)
	if !ok {
		logger.WarnWithFields(ctx, []logger.Field{
			logger.String("message_id", msg.MessageID),
		}, "Leaving unparsable message unacknowledged")
		return errors.Wrap(remittance.ErrMalformedEnvelope, msg.MessageID)
	}

	// The whole apply sequence below is one get/mutate/put critical section; applyEnvelope and
	// terminate() never block or re-enter HandleIncoming, so holding the lock across all of it is
	// safe and is what actually serializes a thread's mutations (spec section 5).
	m.mutationLock.Lock()
	defer m.mutationLock.Unlock()

	thread := m.store.get(env.ThreadID)
	if thread == nil {
		role := m.inferRole(*env)
		thread = remittance.NewThread(env.ThreadID, msg.Sender, role, m.clock.Now())
		m.store.put(thread)

		m.listeners.emit(ctx, remittance.Event{
			Type:   remittance.EventThreadCreated,
			Thread: thread.Copy(),
		})
	}

	if thread.HasProcessed(msg.MessageID) {
		return nil
	}

	m.listeners.emit(ctx, remittance.Event{
		Type:   remittance.EventEnvelopeReceived,
		Thread: thread.Copy(),
	})
	thread.ProtocolLog = append(thread.ProtocolLog, remittance.ProtocolLogEntry{
		Direction:          remittance.DirectionIn,
		Envelope:           *env,
		TransportMessageID: msg.MessageID,
	})

	fromState := thread.State

	if err := m.applyEnvelope(ctx, thread, msg.Sender, *env); err != nil {
		errMsg := err.Error()
		thread.LastError = &errMsg
		thread.Flags.Error = true
		// Transition fails if the thread is already terminal; the thread then keeps its terminal
		// state and only LastError and Flags.Error change.
		_ = thread.Transition(remittance.StateErrored, errMsg, m.clock.Now())
		m.store.put(thread)

		if persistErr := m.persist(ctx); persistErr != nil {
			logger.Warn(ctx, "Persist after apply error : %s", persistErr)
		}

		m.listeners.emit(ctx, remittance.Event{
			Type:   remittance.EventError,
			Thread: thread.Copy(),
			Err:    err,
		})

		return errors.Wrap(err, "apply envelope")
	}

	thread.MarkProcessed(msg.MessageID)
	thread.UpdatedAt = m.clock.Now()
	m.store.put(thread)

	if thread.State != fromState {
		m.listeners.emit(ctx, remittance.Event{
			Type:   remittance.EventStateChanged,
			Thread: thread.Copy(),
			From:   fromState,
			To:     thread.State,
		})
	}

	if err := m.persist(ctx); err != nil {
		logger.Warn(ctx, "Persist after apply : %s", err)
	}

	return nil
}

// inferRole decides which role we play on a thread discovered from an inbound envelope (spec
// section 4.4, "Role inference").
func (m *Manager) inferRole(env remittance.Envelope) remittance.Role {
	switch env.Kind {
	case remittance.KindInvoice:
		return remittance.RoleTaker
	case remittance.KindSettlement:
		return remittance.RoleMaker
	case remittance.KindReceipt:
		return remittance.RoleTaker
	case remittance.KindTermination:
		return remittance.RoleTaker
	case remittance.KindIdentityVerificationRequest, remittance.KindIdentityVerificationResponse,
		remittance.KindIdentityVerificationAcknowledgment:
		return m.inferIdentityRole(env.Kind)
	default:
		return remittance.RoleTaker
	}
}

func (m *Manager) inferIdentityRole(kind remittance.Kind) remittance.Role {
	maker := m.config.IdentityOptions.MakerRequestIdentity
	taker := m.config.IdentityOptions.TakerRequestIdentity

	makerRequests := maker != remittance.RequestPhaseNever
	takerRequests := taker != remittance.RequestPhaseNever

	var requester remittance.Role
	switch {
	case makerRequests && !takerRequests:
		requester = remittance.RoleMaker
	case takerRequests && !makerRequests:
		requester = remittance.RoleTaker
	case makerRequests && takerRequests:
		if maker == remittance.RequestPhaseBeforeInvoicing && taker != remittance.RequestPhaseBeforeInvoicing {
			requester = remittance.RoleMaker
		} else if taker == remittance.RequestPhaseBeforeInvoicing && maker != remittance.RequestPhaseBeforeInvoicing {
			requester = remittance.RoleTaker
		} else {
			requester = remittance.RoleTaker
		}
	default:
		requester = remittance.RoleTaker
	}

	if kind == remittance.KindIdentityVerificationResponse {
		return requester
	}
	// Request or Acknowledgment: we are the responder, the opposite of the requester.
	return requester.Opposite()
}

// applyEnvelope is the case analysis of spec section 4.4, "Apply by kind."
func (m *Manager) applyEnvelope(ctx context.Context, thread *remittance.Thread,
	sender remittance.IdentityKey, env remittance.Envelope) error {

	switch env.Kind {
	case remittance.KindIdentityVerificationRequest:
		return m.applyIdentityVerificationRequest(ctx, thread, sender, env)
	case remittance.KindIdentityVerificationResponse:
		return m.applyIdentityVerificationResponse(ctx, thread, sender, env)
	case remittance.KindIdentityVerificationAcknowledgment:
		return m.applyIdentityVerificationAcknowledgment(ctx, thread, env)
	case remittance.KindInvoice:
		return m.applyInvoice(ctx, thread, env)
	case remittance.KindSettlement:
		return m.applySettlement(ctx, thread, sender, env)
	case remittance.KindReceipt:
		return m.applyReceipt(ctx, thread, sender, env)
	case remittance.KindTermination:
		return m.applyTermination(ctx, thread, sender, env)
	default:
		return errors.Wrap(remittance.ErrUnknownEnvelopeKind, env.Kind.String())
	}
}

func (m *Manager) applyIdentityVerificationRequest(ctx context.Context, thread *remittance.Thread,
	sender remittance.IdentityKey, env remittance.Envelope) error {

	var request remittance.IdentityVerificationRequestPayload
	if err := unmarshalPayload(env, &request); err != nil {
		return err
	}

	if m.identity == nil {
		return m.terminate(ctx, thread, sender,
			remittance.NewTermination("Identity verification requested but no identity layer is configured"))
	}

	if err := thread.Transition(remittance.StateIdentityRequested, "identityVerificationRequest received",
		m.clock.Now()); err != nil {
		return err
	}
	m.listeners.emit(ctx, remittance.Event{
		Type: remittance.EventIdentityRequested, Thread: thread.Copy(), Direction: remittance.DirectionIn,
	})

	decision, err := m.identity.RespondToRequest(ctx, sender, thread.ThreadID, request)
	if err != nil {
		return errors.Wrap(err, "respond to request")
	}

	if decision.Terminate {
		return m.terminate(ctx, thread, sender, decision.Termination)
	}
	if !decision.Respond {
		return nil
	}

	env2, err := m.newEnvelope(thread.ThreadID, remittance.KindIdentityVerificationResponse,
		decision.Response)
	if err != nil {
		return err
	}
	if err := m.sendEnvelope(ctx, thread, sender, env2); err != nil {
		return err
	}

	thread.Identity.Sent = decision.Response.Certificates
	thread.Identity.ResponseSent = true
	if err := thread.Transition(remittance.StateIdentityResponded, "identityVerificationResponse sent",
		m.clock.Now()); err != nil {
		return err
	}
	m.listeners.emit(ctx, remittance.Event{
		Type: remittance.EventIdentityResponded, Thread: thread.Copy(), Direction: remittance.DirectionOut,
	})
	return nil
}

func (m *Manager) applyIdentityVerificationResponse(ctx context.Context, thread *remittance.Thread,
	sender remittance.IdentityKey, env remittance.Envelope) error {

	var response remittance.IdentityVerificationResponsePayload
	if err := unmarshalPayload(env, &response); err != nil {
		return err
	}

	thread.Identity.Received = response.Certificates
	if err := thread.Transition(remittance.StateIdentityResponded, "identityVerificationResponse received",
		m.clock.Now()); err != nil {
		return err
	}
	m.listeners.emit(ctx, remittance.Event{
		Type: remittance.EventIdentityResponded, Thread: thread.Copy(), Direction: remittance.DirectionIn,
	})

	decision, err := m.identity.AssessReceivedCertificateSufficiency(ctx, sender, response, thread.ThreadID)
	if err != nil {
		return errors.Wrap(err, "assess sufficiency")
	}

	if decision.Terminate {
		return m.terminate(ctx, thread, sender, decision.Termination)
	}
	if !decision.Acknowledge {
		return nil
	}

	ackEnv, err := m.newEnvelope(thread.ThreadID, remittance.KindIdentityVerificationAcknowledgment,
		remittance.IdentityVerificationAcknowledgmentPayload{ThreadID: thread.ThreadID})
	if err != nil {
		return err
	}
	if err := m.sendEnvelope(ctx, thread, sender, ackEnv); err != nil {
		return err
	}

	thread.Identity.AcknowledgmentSent = true
	thread.Flags.HasIdentified = true
	if err := thread.Transition(remittance.StateIdentityAcknowledged, "identityVerificationAcknowledgment sent",
		m.clock.Now()); err != nil {
		return err
	}
	m.listeners.emit(ctx, remittance.Event{
		Type: remittance.EventIdentityAcknowledged, Thread: thread.Copy(), Direction: remittance.DirectionOut,
	})
	return nil
}

func (m *Manager) applyIdentityVerificationAcknowledgment(ctx context.Context,
	thread *remittance.Thread, env remittance.Envelope) error {

	thread.Identity.AcknowledgmentReceived = true
	thread.Flags.HasIdentified = true
	if err := thread.Transition(remittance.StateIdentityAcknowledged,
		"identityVerificationAcknowledgment received", m.clock.Now()); err != nil {
		return err
	}

	event := remittance.Event{
		Type: remittance.EventIdentityAcknowledged, Thread: thread.Copy(), Direction: remittance.DirectionIn,
	}
	m.listeners.emit(ctx, event)
	m.waiters.notify(event)
	return nil
}

func (m *Manager) applyInvoice(ctx context.Context, thread *remittance.Thread,
	env remittance.Envelope) error {

	var invoice remittance.InvoicePayload
	if err := unmarshalPayload(env, &invoice); err != nil {
		return err
	}

	thread.Invoice = &invoice
	thread.Flags.HasInvoiced = true
	if err := thread.Transition(remittance.StateInvoiced, "invoice received", m.clock.Now()); err != nil {
		return err
	}
	m.listeners.emit(ctx, remittance.Event{Type: remittance.EventInvoiceReceived, Thread: thread.Copy()})
	return nil
}

func (m *Manager) applySettlement(ctx context.Context, thread *remittance.Thread,
	sender remittance.IdentityKey, env remittance.Envelope) error {

	var settlement remittance.SettlementPayload
	if err := unmarshalPayload(env, &settlement); err != nil {
		return err
	}

	if thread.MyRole == remittance.RoleMaker &&
		m.config.IdentityOptions.MakerRequestIdentity == remittance.RequestPhaseBeforeSettlement &&
		!thread.Flags.HasIdentified {
		return m.terminate(ctx, thread, sender,
			remittance.NewTermination("Identity verification required before settlement"))
	}

	module, exists := m.modules[settlement.ModuleID]
	if !exists {
		return m.terminate(ctx, thread, sender,
			remittance.NewTermination("Unknown settlement module: "+string(settlement.ModuleID)))
	}

	if thread.Invoice == nil && !module.AllowUnsolicitedSettlements() {
		return m.terminate(ctx, thread, sender,
			remittance.NewTermination("Unsolicited settlement not supported"))
	}

	thread.Settlement = &settlement
	thread.Flags.HasPaid = true
	if err := thread.Transition(remittance.StateSettled, "settlement received", m.clock.Now()); err != nil {
		return err
	}
	m.listeners.emit(ctx, remittance.Event{Type: remittance.EventSettlementReceived, Thread: thread.Copy()})

	outcome, err := module.AcceptSettlement(ctx, remittance.AcceptSettlementInput{
		ThreadID:   thread.ThreadID,
		Invoice:    thread.Invoice,
		Settlement: settlement,
		Sender:     sender,
	})
	if err != nil {
		return m.terminate(ctx, thread, sender, remittance.NewTermination(err.Error()))
	}

	if outcome.Terminate {
		return m.terminate(ctx, thread, sender, outcome.Termination)
	}
	if !outcome.Accept {
		return nil
	}

	myKey, err := m.myIdentityKey(ctx)
	if err != nil {
		return err
	}

	receipt := remittance.ReceiptPayload{
		ThreadID:    thread.ThreadID,
		ModuleID:    settlement.ModuleID,
		OptionID:    settlement.OptionID,
		Payee:       myKey,
		Payer:       sender,
		CreatedAt:   m.clock.Now(),
		ReceiptData: outcome.ReceiptData,
	}
	thread.Receipt = &receipt
	thread.Flags.HasReceipted = true
	if err := thread.Transition(remittance.StateReceipted, "settlement accepted", m.clock.Now()); err != nil {
		return err
	}

	if m.config.ReceiptProvided && m.config.AutoIssueReceipt {
		receiptEnv, err := m.newEnvelope(thread.ThreadID, remittance.KindReceipt, receipt)
		if err != nil {
			return err
		}
		if err := m.sendEnvelope(ctx, thread, sender, receiptEnv); err != nil {
			return err
		}
		m.listeners.emit(ctx, remittance.Event{Type: remittance.EventReceiptSent, Thread: thread.Copy()})
	}

	return nil
}

func (m *Manager) applyReceipt(ctx context.Context, thread *remittance.Thread,
	sender remittance.IdentityKey, env remittance.Envelope) error {

	var receipt remittance.ReceiptPayload
	if err := unmarshalPayload(env, &receipt); err != nil {
		return err
	}

	thread.Receipt = &receipt
	thread.Flags.HasReceipted = true
	if err := thread.Transition(remittance.StateReceipted, "receipt received", m.clock.Now()); err != nil {
		return err
	}

	if module, exists := m.modules[receipt.ModuleID]; exists {
		if err := module.ProcessReceipt(ctx, thread.ThreadID, thread.Invoice, receipt.ReceiptData,
			sender); err != nil {
			logger.WarnWithFields(ctx, []logger.Field{
				logger.String("thread_id", string(thread.ThreadID)),
			}, "Module processReceipt : %s", err)
		}
	}

	event := remittance.Event{Type: remittance.EventReceiptReceived, Thread: thread.Copy()}
	m.listeners.emit(ctx, event)
	m.waiters.notify(event)
	return nil
}

func (m *Manager) applyTermination(ctx context.Context, thread *remittance.Thread,
	sender remittance.IdentityKey, env remittance.Envelope) error {

	var termination remittance.TerminationPayload
	if err := unmarshalPayload(env, &termination); err != nil {
		return err
	}

	thread.Termination = &termination
	errMsg := termination.Message
	thread.LastError = &errMsg
	thread.Flags.Error = true
	if err := thread.Transition(remittance.StateTerminated, "termination received", m.clock.Now()); err != nil {
		return err
	}

	if thread.Settlement != nil {
		if module, exists := m.modules[thread.Settlement.ModuleID]; exists {
			if err := module.ProcessTermination(ctx, thread.ThreadID, thread.Invoice, thread.Settlement,
				termination, sender); err != nil {
				logger.WarnWithFields(ctx, []logger.Field{
					logger.String("thread_id", string(thread.ThreadID)),
				}, "Module processTermination : %s", err)
			}
		}
	}

	event := remittance.Event{Type: remittance.EventTerminationReceived, Thread: thread.Copy()}
	m.listeners.emit(ctx, event)
	m.waiters.notify(event)
	return nil
}

// terminate sends a termination envelope to recipient and records it on thread.
func (m *Manager) terminate(ctx context.Context, thread *remittance.Thread,
	recipient remittance.IdentityKey, termination remittance.TerminationPayload) error {

	env, err := m.newEnvelope(thread.ThreadID, remittance.KindTermination, termination)
	if err != nil {
		return err
	}
	if err := m.sendEnvelope(ctx, thread, recipient, env); err != nil {
		return err
	}

	thread.Termination = &termination
	errMsg := "Sent termination: " + termination.Message
	thread.LastError = &errMsg
	thread.Flags.Error = true
	if err := thread.Transition(remittance.StateTerminated, "termination sent", m.clock.Now()); err != nil {
		return err
	}
	m.listeners.emit(ctx, remittance.Event{Type: remittance.EventTerminationSent, Thread: thread.Copy()})
	return nil
}

func unmarshalPayload(env remittance.Envelope, out interface{}) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return errors.Wrap(remittance.ErrMalformedEnvelope, err.Error())
	}
	return nil
}

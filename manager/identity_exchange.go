package manager

import (
	"context"
	"time"

	"github.com/tokenized/remittance"

	"github.com/pkg/errors"
)

// myRequestPhase returns the configured RequestPhase for role.
func (m *Manager) myRequestPhase(role remittance.Role) remittance.RequestPhase {
	if role == remittance.RoleMaker {
		return m.config.IdentityOptions.MakerRequestIdentity
	}
	return m.config.IdentityOptions.TakerRequestIdentity
}

// shouldRequestIdentity reports whether our configured phase for thread's role matches phase
// (spec section 4.6). It returns a configuration error immediately if it would have to request
// but no identity layer is configured.
func (m *Manager) shouldRequestIdentity(thread *remittance.Thread,
	phase remittance.RequestPhase) (bool, error) {

	if m.myRequestPhase(thread.MyRole) != phase {
		return false, nil
	}
	if m.identity == nil {
		return false, errors.Wrap(remittance.ErrNoIdentityLayer, phase.String())
	}
	return true, nil
}

// ensureIdentityExchange drives a thread's identity verification to completion, sending the
// initial request if needed and then waiting for acknowledgment (spec section 4.6).
func (m *Manager) ensureIdentityExchange(ctx context.Context, thread *remittance.Thread) error {
	if thread.Flags.HasIdentified {
		return nil
	}

	if !thread.Identity.RequestSent {
		request, err := m.identity.DetermineCertificatesToRequest(ctx, thread.Counterparty, thread.ThreadID)
		if err != nil {
			return errors.Wrap(err, "determine certificates")
		}

		env, err := m.newEnvelope(thread.ThreadID, remittance.KindIdentityVerificationRequest, request)
		if err != nil {
			return err
		}
		if err := m.sendEnvelope(ctx, thread, thread.Counterparty, env); err != nil {
			return err
		}

		m.mutationLock.Lock()
		thread.Identity.RequestSent = true
		if err := thread.Transition(remittance.StateIdentityRequested, "identityVerificationRequest sent",
			m.clock.Now()); err != nil {
			m.mutationLock.Unlock()
			return err
		}
		m.store.put(thread)
		m.mutationLock.Unlock()

		m.listeners.emit(ctx, remittance.Event{
			Type: remittance.EventIdentityRequested, Thread: thread.Copy(), Direction: remittance.DirectionOut,
		})
		if err := m.persist(ctx); err != nil {
			return err
		}
	}

	return m.waitForIdentityAcknowledged(ctx, thread)
}

// waitForIdentityAcknowledged blocks until thread reaches identityAcknowledged, a terminal
// state, or the configured timeout elapses, resolving either via an inbound-event waiter or by
// polling through syncThreads (spec section 4.6).
func (m *Manager) waitForIdentityAcknowledged(ctx context.Context, thread *remittance.Thread) error {
	timeout := time.Duration(m.config.IdentityTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := time.Duration(m.config.IdentityPollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	waitCh := m.waiters.register(thread.ThreadID, remittance.EventIdentityAcknowledged)
	deadline := time.Now().Add(timeout)

	for {
		m.mutationLock.Lock()
		current := m.store.get(thread.ThreadID)
		var identified, terminal bool
		var state remittance.State
		if current != nil {
			identified = current.Flags.HasIdentified
			terminal = current.State.IsTerminal()
			state = current.State
		}
		m.mutationLock.Unlock()

		if identified {
			return nil
		}
		if terminal {
			return errors.Wrap(remittance.ErrThreadTerminal, state.String())
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.Wrap(remittance.ErrWaitTimeout, "identity acknowledgment")
		}
		if remaining > interval {
			remaining = interval
		}

		select {
		case <-waitCh:
			continue
		case <-time.After(remaining):
			if err := m.pollOnce(ctx); err != nil {
				return errors.Wrap(err, "poll")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

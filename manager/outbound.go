package manager

import (
	"context"
	"time"

	"github.com/tokenized/logger"
	"github.com/tokenized/remittance"

	"github.com/pkg/errors"
)

// SendInvoice composes and sends an invoice on a new thread, as the maker (spec section 4.5,
// "sendInvoice").
func (m *Manager) SendInvoice(ctx context.Context, counterparty remittance.IdentityKey,
	input remittance.InvoiceInput) (InvoiceHandle, error) {

	if _, err := m.myIdentityKey(ctx); err != nil {
		return InvoiceHandle{}, err
	}

	thread, err := m.newThread(counterparty, remittance.RoleMaker)
	if err != nil {
		return InvoiceHandle{}, err
	}
	m.listeners.emit(ctx, remittance.Event{Type: remittance.EventThreadCreated, Thread: thread.Copy()})

	if err := m.runIdentityExchangeIfConfigured(ctx, thread, remittance.RequestPhaseBeforeInvoicing); err != nil {
		return InvoiceHandle{}, err
	}

	if err := m.sendInvoiceOnThread(ctx, thread, input); err != nil {
		return InvoiceHandle{}, err
	}

	return InvoiceHandle{ThreadHandle{manager: m, ThreadID: thread.ThreadID}}, nil
}

// newThread generates a fresh ThreadID and registers a new Thread under it, guarding against the
// generator handing back an id already in use (spec section 3, "threadId is unique within the
// engine; reuse is a protocol error").
func (m *Manager) newThread(counterparty remittance.IdentityKey, role remittance.Role) (*remittance.Thread, error) {
	id := m.idGen.NewThreadID()

	m.mutationLock.Lock()
	defer m.mutationLock.Unlock()

	if m.store.get(id) != nil {
		return nil, errors.Wrap(remittance.ErrThreadIDReused, string(id))
	}

	thread := remittance.NewThread(id, counterparty, role, m.clock.Now())
	m.store.put(thread)
	return thread, nil
}

// SendInvoiceForThread reuses an existing thread to send an invoice, as the maker (spec section
// 4.5, "sendInvoiceForThread").
func (m *Manager) SendInvoiceForThread(ctx context.Context, threadID remittance.ThreadID,
	input remittance.InvoiceInput) (InvoiceHandle, error) {

	thread := m.store.get(threadID)
	if thread == nil {
		return InvoiceHandle{}, errors.Wrap(remittance.ErrUnknownThread, string(threadID))
	}
	if thread.MyRole != remittance.RoleMaker {
		return InvoiceHandle{}, remittance.ErrWrongRole
	}
	if thread.Invoice != nil {
		return InvoiceHandle{}, remittance.ErrInvoiceAlreadySet
	}
	if thread.State.IsTerminal() {
		return InvoiceHandle{}, errors.Wrap(remittance.ErrThreadErrored, thread.State.String())
	}

	if _, err := m.myIdentityKey(ctx); err != nil {
		return InvoiceHandle{}, err
	}

	if thread.Identity.ResponseSent && !thread.Flags.HasIdentified {
		if err := m.waitForIdentityAcknowledged(ctx, thread); err != nil {
			return InvoiceHandle{}, err
		}
	} else if err := m.runIdentityExchangeIfConfigured(ctx, thread, remittance.RequestPhaseBeforeInvoicing); err != nil {
		return InvoiceHandle{}, err
	}

	if err := m.sendInvoiceOnThread(ctx, thread, input); err != nil {
		return InvoiceHandle{}, err
	}

	return InvoiceHandle{ThreadHandle{manager: m, ThreadID: thread.ThreadID}}, nil
}

func (m *Manager) runIdentityExchangeIfConfigured(ctx context.Context, thread *remittance.Thread,
	phase remittance.RequestPhase) error {

	should, err := m.shouldRequestIdentity(thread, phase)
	if err != nil {
		return err
	}
	if !should {
		return nil
	}
	return m.ensureIdentityExchange(ctx, thread)
}

// sendInvoiceOnThread composes and sends the invoice envelope (spec section 4.5, "Invoice
// composition").
func (m *Manager) sendInvoiceOnThread(ctx context.Context, thread *remittance.Thread,
	input remittance.InvoiceInput) error {

	myKey, err := m.myIdentityKey(ctx)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	invoice := remittance.InvoicePayload{
		Payee:         myKey,
		Payer:         thread.Counterparty,
		LineItems:     input.LineItems,
		Total:         input.Total,
		InvoiceNumber: input.InvoiceNumber,
		CreatedAt:     now,
		Options:       make(map[remittance.ModuleID]remittance.OptionTerms),
	}
	if len(invoice.InvoiceNumber) == 0 {
		invoice.InvoiceNumber = string(thread.ThreadID)
	}
	if m.config.InvoiceExpirySeconds >= 0 {
		expiresAt := remittance.UnixMillis(int64(now) + int64(m.config.InvoiceExpirySeconds)*1000)
		invoice.ExpiresAt = &expiresAt
	}

	for id, module := range m.modules {
		terms, err := module.CreateOption(ctx, thread.ThreadID, invoice)
		if err != nil {
			logger.WarnWithFields(ctx, []logger.Field{
				logger.String("thread_id", string(thread.ThreadID)),
				logger.String("module_id", string(id)),
			}, "Module createOption : %s", err)
			continue
		}
		if terms != nil {
			invoice.Options[id] = terms
		}
	}

	env, err := m.newEnvelope(thread.ThreadID, remittance.KindInvoice, invoice)
	if err != nil {
		return err
	}
	if err := m.sendEnvelope(ctx, thread, thread.Counterparty, env); err != nil {
		return err
	}

	m.mutationLock.Lock()
	fromState := thread.State
	thread.Invoice = &invoice
	thread.Flags.HasInvoiced = true
	if err := thread.Transition(remittance.StateInvoiced, "invoice sent", m.clock.Now()); err != nil {
		m.mutationLock.Unlock()
		return err
	}
	m.store.put(thread)
	m.mutationLock.Unlock()

	m.listeners.emit(ctx, remittance.Event{
		Type: remittance.EventStateChanged, Thread: thread.Copy(), From: fromState, To: thread.State,
	})
	m.listeners.emit(ctx, remittance.Event{Type: remittance.EventInvoiceSent, Thread: thread.Copy()})
	return m.persist(ctx)
}

// Pay settles an invoiced thread as the taker (spec section 4.5, "pay").
func (m *Manager) Pay(ctx context.Context, threadID remittance.ThreadID,
	optionID *remittance.OptionID) (*remittance.Thread, error) {

	thread := m.store.get(threadID)
	if thread == nil {
		return nil, errors.Wrap(remittance.ErrUnknownThread, string(threadID))
	}
	if thread.Invoice == nil {
		return nil, remittance.ErrNoInvoiceOptions
	}
	if thread.Settlement != nil {
		return nil, remittance.ErrSettlementAlreadySet
	}

	if _, err := m.myIdentityKey(ctx); err != nil {
		return nil, err
	}

	if thread.Identity.ResponseSent && !thread.Flags.HasIdentified {
		if err := m.waitForIdentityAcknowledged(ctx, thread); err != nil {
			return nil, err
		}
	} else if err := m.runIdentityExchangeIfConfigured(ctx, thread, remittance.RequestPhaseBeforeSettlement); err != nil {
		return nil, err
	}

	if thread.Invoice.ExpiresAt != nil && thread.Invoice.ExpiresAt.Time().Before(m.clock.Now().Time()) {
		return nil, remittance.ErrInvoiceExpired
	}

	chosenModule, err := m.chooseModuleID(thread, optionID)
	if err != nil {
		return nil, err
	}

	module, exists := m.modules[chosenModule]
	if !exists {
		return nil, errors.Wrap(remittance.ErrNoModuleForOption, string(chosenModule))
	}

	outcome, err := module.BuildSettlement(ctx, remittance.BuildSettlementInput{
		ThreadID: thread.ThreadID,
		Invoice:  thread.Invoice,
		Option:   thread.Invoice.Options[chosenModule],
	})
	if err != nil {
		return nil, errors.Wrap(err, "build settlement")
	}

	if outcome.Terminate {
		m.mutationLock.Lock()
		err := m.terminate(ctx, thread, thread.Invoice.Payee, outcome.Termination)
		if err == nil {
			m.store.put(thread)
		}
		m.mutationLock.Unlock()
		if err != nil {
			return nil, err
		}
		return thread.Copy(), m.persist(ctx)
	}
	if !outcome.Settle {
		return thread.Copy(), nil
	}

	myKey, err := m.myIdentityKey(ctx)
	if err != nil {
		return nil, err
	}

	settlement := remittance.SettlementPayload{
		ThreadID:  thread.ThreadID,
		ModuleID:  module.ID(),
		OptionID:  remittance.OptionID(chosenModule),
		Sender:    myKey,
		CreatedAt: m.clock.Now(),
		Artifact:  outcome.Artifact,
	}

	env, err := m.newEnvelope(thread.ThreadID, remittance.KindSettlement, settlement)
	if err != nil {
		return nil, err
	}
	if err := m.sendEnvelope(ctx, thread, thread.Invoice.Payee, env); err != nil {
		return nil, err
	}

	m.mutationLock.Lock()
	fromState := thread.State
	thread.Settlement = &settlement
	thread.Flags.HasPaid = true
	if err := thread.Transition(remittance.StateSettled, "settlement sent", m.clock.Now()); err != nil {
		m.mutationLock.Unlock()
		return nil, err
	}
	m.store.put(thread)
	m.mutationLock.Unlock()

	m.listeners.emit(ctx, remittance.Event{
		Type: remittance.EventStateChanged, Thread: thread.Copy(), From: fromState, To: thread.State,
	})
	m.listeners.emit(ctx, remittance.Event{Type: remittance.EventSettlementSent, Thread: thread.Copy()})
	if err := m.persist(ctx); err != nil {
		return nil, err
	}

	if !m.config.ReceiptProvided {
		return thread.Copy(), nil
	}

	return m.waitForReceiptOrTermination(ctx, thread)
}

// chooseModuleID picks argument, falling back to the store's default payment option, falling
// back to a key of invoice.options (spec section 4.5, "pay"). That key comes from Go map
// iteration, so when the invoice has several options which one is picked is not defined. The
// chosen id doubles as the ModuleID used to resolve the settling module (spec section 9, open
// question (b)).
func (m *Manager) chooseModuleID(thread *remittance.Thread,
	argument *remittance.OptionID) (remittance.ModuleID, error) {

	if argument != nil {
		return remittance.ModuleID(*argument), nil
	}

	m.store.lock.RLock()
	defaultID := m.store.defaultPaymentOptionID
	m.store.lock.RUnlock()
	if defaultID != nil {
		return remittance.ModuleID(*defaultID), nil
	}

	if len(thread.Invoice.Options) == 0 {
		return "", remittance.ErrNoInvoiceOptions
	}
	for id := range thread.Invoice.Options {
		return id, nil
	}

	return "", remittance.ErrNoInvoiceOptions
}

func (m *Manager) waitForReceiptOrTermination(ctx context.Context,
	thread *remittance.Thread) (*remittance.Thread, error) {

	timeout := 30 * time.Second
	interval := time.Duration(m.config.IdentityPollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	receiptCh := m.waiters.register(thread.ThreadID, remittance.EventReceiptReceived)
	terminationCh := m.waiters.register(thread.ThreadID, remittance.EventTerminationReceived)
	deadline := time.Now().Add(timeout)

	for {
		m.mutationLock.Lock()
		current := m.store.get(thread.ThreadID)
		var resolved *remittance.Thread
		if current != nil && (current.Receipt != nil || current.Termination != nil) {
			resolved = current.Copy()
		}
		m.mutationLock.Unlock()
		if resolved != nil {
			return resolved, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.Wrap(remittance.ErrWaitTimeout, "receipt")
		}
		if remaining > interval {
			remaining = interval
		}

		select {
		case <-receiptCh:
			continue
		case <-terminationCh:
			continue
		case <-time.After(remaining):
			if err := m.pollOnce(ctx); err != nil {
				return nil, errors.Wrap(err, "poll")
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// IssueReceipt sends the receipt envelope for an already-accepted settlement, for callers running
// with autoIssueReceipt disabled (spec section 6, "autoIssueReceipt").
func (m *Manager) IssueReceipt(ctx context.Context, threadID remittance.ThreadID) error {
	thread := m.store.get(threadID)
	if thread == nil {
		return errors.Wrap(remittance.ErrUnknownThread, string(threadID))
	}
	if thread.Receipt == nil {
		return errors.New("no receipt recorded for thread")
	}

	env, err := m.newEnvelope(thread.ThreadID, remittance.KindReceipt, *thread.Receipt)
	if err != nil {
		return err
	}
	if err := m.sendEnvelope(ctx, thread, thread.Settlement.Sender, env); err != nil {
		return err
	}
	m.listeners.emit(ctx, remittance.Event{Type: remittance.EventReceiptSent, Thread: thread.Copy()})

	return nil
}

// SendUnsolicitedSettlement sends a settlement with no preceding invoice, as the taker (spec
// section 4.5, "sendUnsolicitedSettlement").
func (m *Manager) SendUnsolicitedSettlement(ctx context.Context, counterparty remittance.IdentityKey,
	moduleID remittance.ModuleID, option remittance.OptionTerms, optionID *remittance.OptionID,
	note *string) (ThreadHandle, error) {

	module, exists := m.modules[moduleID]
	if !exists {
		return ThreadHandle{}, errors.Wrap(remittance.ErrNoModuleForOption, string(moduleID))
	}
	if !module.AllowUnsolicitedSettlements() {
		return ThreadHandle{}, errors.Wrap(remittance.ErrWrongRole, "module disallows unsolicited settlements")
	}

	if _, err := m.myIdentityKey(ctx); err != nil {
		return ThreadHandle{}, err
	}

	thread, err := m.newThread(counterparty, remittance.RoleTaker)
	if err != nil {
		return ThreadHandle{}, err
	}
	m.listeners.emit(ctx, remittance.Event{Type: remittance.EventThreadCreated, Thread: thread.Copy()})

	if err := m.runIdentityExchangeIfConfigured(ctx, thread, remittance.RequestPhaseBeforeSettlement); err != nil {
		return ThreadHandle{}, err
	}

	outcome, err := module.BuildSettlement(ctx, remittance.BuildSettlementInput{
		ThreadID: thread.ThreadID,
		Option:   option,
		Note:     note,
	})
	if err != nil {
		return ThreadHandle{}, errors.Wrap(err, "build settlement")
	}

	if outcome.Terminate {
		m.mutationLock.Lock()
		termErr := m.terminate(ctx, thread, counterparty, outcome.Termination)
		m.mutationLock.Unlock()
		if termErr != nil {
			return ThreadHandle{}, termErr
		}
		return ThreadHandle{manager: m, ThreadID: thread.ThreadID}, m.persist(ctx)
	}
	if !outcome.Settle {
		return ThreadHandle{manager: m, ThreadID: thread.ThreadID}, nil
	}

	myKey, err := m.myIdentityKey(ctx)
	if err != nil {
		return ThreadHandle{}, err
	}

	chosenOption := remittance.OptionID(moduleID)
	if optionID != nil {
		chosenOption = *optionID
	}

	settlement := remittance.SettlementPayload{
		ThreadID:  thread.ThreadID,
		ModuleID:  moduleID,
		OptionID:  chosenOption,
		Sender:    myKey,
		CreatedAt: m.clock.Now(),
		Artifact:  outcome.Artifact,
		Note:      note,
	}

	env, err := m.newEnvelope(thread.ThreadID, remittance.KindSettlement, settlement)
	if err != nil {
		return ThreadHandle{}, err
	}
	if err := m.sendEnvelope(ctx, thread, counterparty, env); err != nil {
		return ThreadHandle{}, err
	}

	m.mutationLock.Lock()
	fromState := thread.State
	thread.Settlement = &settlement
	thread.Flags.HasPaid = true
	if err := thread.Transition(remittance.StateSettled, "unsolicited settlement sent", m.clock.Now()); err != nil {
		m.mutationLock.Unlock()
		return ThreadHandle{}, err
	}
	m.store.put(thread)
	m.mutationLock.Unlock()

	m.listeners.emit(ctx, remittance.Event{
		Type: remittance.EventStateChanged, Thread: thread.Copy(), From: fromState, To: thread.State,
	})
	m.listeners.emit(ctx, remittance.Event{Type: remittance.EventSettlementSent, Thread: thread.Copy()})

	return ThreadHandle{manager: m, ThreadID: thread.ThreadID}, m.persist(ctx)
}

// SyncThreads fetches and applies any pending messages (spec section 4.5, "syncThreads"). It is
// exported so a caller polling manually (instead of using Run) can drive the dispatcher itself.
func (m *Manager) SyncThreads(ctx context.Context) error {
	return m.pollOnce(ctx)
}

// StartListening subscribes to the CommsLayer's live push channel, if it supports one, routing
// every delivered message through the same dispatcher as polling (spec section 4.5,
// "startListening").
func (m *Manager) StartListening(ctx context.Context) error {
	return m.comms.ListenForLiveMessages(ctx, m.config.MessageBox, "", func(msg remittance.PeerMessage) {
		if err := m.HandleIncoming(ctx, msg); err != nil {
			logger.WarnWithFields(ctx, []logger.Field{
				logger.String("message_id", msg.MessageID),
			}, "Handle live message : %s", err)
			return
		}

		if err := m.comms.AcknowledgeMessage(ctx, []string{msg.MessageID}); err != nil {
			logger.Warn(ctx, "Acknowledge live message : %s", err)
		}
	})
}

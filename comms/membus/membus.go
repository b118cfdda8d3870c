// Package membus provides an in-memory CommsLayer for running two or more RemittanceManagers
// in a single process, grounded on the teacher's peer_channels_listener Run loop (channel
// fan-in, update channel, interruptable listen thread) but backed by a shared map instead of
// an HTTP peer channels service.
package membus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tokenized/logger"
	"github.com/tokenized/remittance"

	"github.com/pkg/errors"
)

var (
	ErrUnknownRecipient = errors.New("Unknown Recipient")
)

type storedMessage struct {
	message      remittance.PeerMessage
	acknowledged bool
}

// Bus is a shared, in-process message board. It holds every message ever sent, keyed by
// recipient and message box, and fans live deliveries out to any listener currently registered
// for that recipient/box pair.
type Bus struct {
	lock sync.Mutex

	messages map[remittance.IdentityKey]map[string][]*storedMessage
	live     map[remittance.IdentityKey]map[string][]chan remittance.PeerMessage
}

// NewBus creates an empty message board.
func NewBus() *Bus {
	return &Bus{
		messages: make(map[remittance.IdentityKey]map[string][]*storedMessage),
		live:     make(map[remittance.IdentityKey]map[string][]chan remittance.PeerMessage),
	}
}

// Endpoint is one party's view of a Bus : the CommsLayer a RemittanceManager is built against.
// Self is the identity key messages addressed to this endpoint are filed under.
type Endpoint struct {
	bus  *Bus
	self remittance.IdentityKey
}

// NewEndpoint returns a CommsLayer for self backed by bus.
func NewEndpoint(bus *Bus, self remittance.IdentityKey) *Endpoint {
	return &Endpoint{bus: bus, self: self}
}

func (e *Endpoint) SendMessage(ctx context.Context, req remittance.SendMessageRequest,
	hostOverride string) (string, error) {
	return e.send(ctx, req)
}

func (e *Endpoint) SendLiveMessage(ctx context.Context, req remittance.SendMessageRequest,
	hostOverride string) (string, error) {
	return e.send(ctx, req)
}

func (e *Endpoint) send(ctx context.Context, req remittance.SendMessageRequest) (string, error) {
	if len(req.Recipient) == 0 {
		return "", errors.Wrap(ErrUnknownRecipient, "empty")
	}

	id := uuid.New().String()
	msg := remittance.PeerMessage{
		MessageID:  id,
		Sender:     e.self,
		Recipient:  req.Recipient,
		MessageBox: req.MessageBox,
		Body:       append([]byte(nil), req.Body...),
	}

	e.bus.lock.Lock()
	boxes, exists := e.bus.messages[req.Recipient]
	if !exists {
		boxes = make(map[string][]*storedMessage)
		e.bus.messages[req.Recipient] = boxes
	}
	boxes[req.MessageBox] = append(boxes[req.MessageBox], &storedMessage{message: msg})

	listeners := e.bus.live[req.Recipient][req.MessageBox]
	e.bus.lock.Unlock()

	logger.InfoWithFields(ctx, []logger.Field{
		logger.String("message_id", id),
		logger.String("recipient", string(req.Recipient)),
		logger.String("message_box", req.MessageBox),
	}, "Sent message")

	for _, ch := range listeners {
		select {
		case ch <- msg:
		default:
		}
	}

	return id, nil
}

func (e *Endpoint) ListMessages(ctx context.Context,
	req remittance.ListMessagesRequest) ([]remittance.PeerMessage, error) {
	e.bus.lock.Lock()
	defer e.bus.lock.Unlock()

	boxes, exists := e.bus.messages[e.self]
	if !exists {
		return nil, nil
	}

	var result []remittance.PeerMessage
	for _, stored := range boxes[req.MessageBox] {
		if stored.acknowledged {
			continue
		}
		result = append(result, stored.message)
	}

	return result, nil
}

func (e *Endpoint) AcknowledgeMessage(ctx context.Context, messageIDs []string) error {
	ids := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = true
	}

	e.bus.lock.Lock()
	defer e.bus.lock.Unlock()

	boxes, exists := e.bus.messages[e.self]
	if !exists {
		return nil
	}

	for _, stored := range boxes {
		for _, msg := range stored {
			if ids[msg.message.MessageID] {
				msg.acknowledged = true
			}
		}
	}

	return nil
}

// ListenForLiveMessages registers onMessage to be called for every future message addressed to
// this endpoint's messageBox, until ctx is cancelled. It runs in the caller's goroutine, blocking
// until the context is done, mirroring the listen-loop shape of the teacher's
// PeerChannelsListener.Run. A live delivery is dropped when 16 earlier ones are still queued for
// this listener; the message itself stays on the bus for ListMessages.
func (e *Endpoint) ListenForLiveMessages(ctx context.Context, messageBox string,
	overrideHost string, onMessage func(remittance.PeerMessage)) error {

	ch := make(chan remittance.PeerMessage, 16)

	e.bus.lock.Lock()
	boxes, exists := e.bus.live[e.self]
	if !exists {
		boxes = make(map[string][]chan remittance.PeerMessage)
		e.bus.live[e.self] = boxes
	}
	boxes[messageBox] = append(boxes[messageBox], ch)
	e.bus.lock.Unlock()

	defer func() {
		e.bus.lock.Lock()
		defer e.bus.lock.Unlock()
		chans := e.bus.live[e.self][messageBox]
		for i, c := range chans {
			if c == ch {
				e.bus.live[e.self][messageBox] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
	}()

	for {
		select {
		case msg := <-ch:
			onMessage(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

package manager

import (
	"sync"

	"github.com/tokenized/remittance"
)

// waiters registers per-thread channels that are resolved once when a matching event arrives,
// grounded on the teacher's uuid_response_handler.Handler (register-by-ID, buffered channel,
// WaitWithTimeout), generalized from peer-channel UUID replies to remittance events.
type waiters struct {
	lock     sync.Mutex
	byThread map[remittance.ThreadID]map[remittance.EventType][]chan remittance.Event
}

func newWaiters() *waiters {
	return &waiters{
		byThread: make(map[remittance.ThreadID]map[remittance.EventType][]chan remittance.Event),
	}
}

// register returns a channel that will receive the first matching event for threadID. The
// channel is buffered so a notify never blocks.
func (w *waiters) register(threadID remittance.ThreadID, eventType remittance.EventType) <-chan remittance.Event {
	ch := make(chan remittance.Event, 1)

	w.lock.Lock()
	defer w.lock.Unlock()

	byType, exists := w.byThread[threadID]
	if !exists {
		byType = make(map[remittance.EventType][]chan remittance.Event)
		w.byThread[threadID] = byType
	}
	byType[eventType] = append(byType[eventType], ch)

	return ch
}

// notify delivers event to every waiter registered for its thread and type, then clears them.
func (w *waiters) notify(event remittance.Event) {
	if event.Thread == nil {
		return
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	byType, exists := w.byThread[event.Thread.ThreadID]
	if !exists {
		return
	}

	for _, ch := range byType[event.Type] {
		ch <- event
	}
	delete(byType, event.Type)

	if len(byType) == 0 {
		delete(w.byThread, event.Thread.ThreadID)
	}
}

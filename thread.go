package remittance

import "fmt"

// Role identifies which side of an exchange a thread's owner plays.
type Role uint8

const (
	RoleInvalid = Role(0)
	RoleMaker   = Role(1)
	RoleTaker   = Role(2)
)

func (r Role) String() string {
	switch r {
	case RoleMaker:
		return "maker"
	case RoleTaker:
		return "taker"
	default:
		return ""
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", r.String())), nil
}

// Opposite returns the other role, used to fill Thread.TheirRole (spec section 3 invariant,
// "myRole and theirRole are opposites").
func (r Role) Opposite() Role {
	switch r {
	case RoleMaker:
		return RoleTaker
	case RoleTaker:
		return RoleMaker
	default:
		return RoleInvalid
	}
}

// Direction marks whether a logged envelope was sent or received (grounded on the teacher's
// direction.go Direction enum).
type Direction uint8

const (
	DirectionInvalid = Direction(0)
	DirectionOut     = Direction(1)
	DirectionIn      = Direction(2)
)

func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "out"
	case DirectionIn:
		return "in"
	default:
		return ""
	}
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

// StateLogEntry records one transition in a thread's history (spec section 3).
type StateLogEntry struct {
	At     UnixMillis `json:"at"`
	From   State      `json:"from"`
	To     State      `json:"to"`
	Reason string     `json:"reason"`
}

// ProtocolLogEntry records one envelope sent or received on a thread (spec section 3).
type ProtocolLogEntry struct {
	Direction          Direction `json:"direction"`
	Envelope           Envelope  `json:"envelope"`
	TransportMessageID string    `json:"transportMessageId"`
}

func (e ProtocolLogEntry) Copy() ProtocolLogEntry {
	result := e
	result.TransportMessageID = CopyString(e.TransportMessageID)
	payload := make([]byte, len(e.Envelope.Payload))
	copy(payload, e.Envelope.Payload)
	result.Envelope.Payload = payload
	result.Envelope.ID = CopyString(e.Envelope.ID)
	result.Envelope.ThreadID = ThreadID(CopyString(string(e.Envelope.ThreadID)))
	return result
}

// Flags tracks, per thread, whether each settlement milestone has occurred and whether the
// thread has recorded a processing error (spec section 3).
type Flags struct {
	HasIdentified bool `json:"hasIdentified"`
	HasInvoiced   bool `json:"hasInvoiced"`
	HasPaid       bool `json:"hasPaid"`
	HasReceipted  bool `json:"hasReceipted"`
	Error         bool `json:"error"`
}

// Thread is the engine's per-exchange record (spec section 3).
type Thread struct {
	ThreadID     ThreadID    `json:"threadId"`
	Counterparty IdentityKey `json:"counterparty"`
	MyRole       Role        `json:"myRole"`
	TheirRole    Role        `json:"theirRole"`

	State    State           `json:"state"`
	StateLog []StateLogEntry `json:"stateLog"`

	CreatedAt UnixMillis `json:"createdAt"`
	UpdatedAt UnixMillis `json:"updatedAt"`

	ProcessedMessageIDs map[string]bool    `json:"processedMessageIds"`
	ProtocolLog         []ProtocolLogEntry `json:"protocolLog"`

	Identity IdentityRecord `json:"identity"`

	Invoice     *InvoicePayload     `json:"invoice,omitempty"`
	Settlement  *SettlementPayload  `json:"settlement,omitempty"`
	Receipt     *ReceiptPayload     `json:"receipt,omitempty"`
	Termination *TerminationPayload `json:"termination,omitempty"`

	Flags     Flags   `json:"flags"`
	LastError *string `json:"lastError,omitempty"`
}

// NewThread creates a fresh thread in state StateNew. role is the caller's own role; the
// counterparty's role is its opposite (spec section 3 invariant).
func NewThread(id ThreadID, counterparty IdentityKey, role Role, now UnixMillis) *Thread {
	return &Thread{
		ThreadID:            id,
		Counterparty:        counterparty,
		MyRole:              role,
		TheirRole:           role.Opposite(),
		State:               StateNew,
		CreatedAt:           now,
		UpdatedAt:           now,
		ProcessedMessageIDs: make(map[string]bool),
	}
}

// HasProcessed reports whether messageID has already been applied to this thread (spec section
// 3, "processedMessageIds grows monotonically").
func (t *Thread) HasProcessed(messageID string) bool {
	if t.ProcessedMessageIDs == nil {
		return false
	}
	return t.ProcessedMessageIDs[messageID]
}

// MarkProcessed records messageID as applied. It is a no-op if already recorded.
func (t *Thread) MarkProcessed(messageID string) {
	if t.ProcessedMessageIDs == nil {
		t.ProcessedMessageIDs = make(map[string]bool)
	}
	t.ProcessedMessageIDs[messageID] = true
}

// Transition validates and applies a state change, appending to StateLog (spec section 4.3).
func (t *Thread) Transition(to State, reason string, now UnixMillis) error {
	if err := Transition(t.State, to); err != nil {
		return err
	}

	t.StateLog = append(t.StateLog, StateLogEntry{
		At:     now,
		From:   t.State,
		To:     to,
		Reason: reason,
	})
	t.State = to
	t.UpdatedAt = now
	return nil
}

// DerivedState recomputes State from the thread's other fields per the monotone-ordering
// fallback (spec section 4.3). Restoring persisted threads does not call it: a thread is loaded
// with its stored State, which is neither recomputed nor checked against this value.
func (t *Thread) DerivedState() State {
	return DeriveState(t.Flags, t.Identity, t.Invoice != nil, t.Settlement != nil,
		t.Receipt != nil, t.Termination != nil)
}

// Copy returns a deep copy of the thread, isolated from subsequent mutation (spec section 9,
// "Deep-copy persistence"; section 5, "no thread object is handed to external code for
// mutation"). Identity certificates are copied as IdentityRecord.Copy describes.
func (t *Thread) Copy() *Thread {
	if t == nil {
		return nil
	}

	result := &Thread{
		ThreadID:     ThreadID(CopyString(string(t.ThreadID))),
		Counterparty: IdentityKey(CopyString(string(t.Counterparty))),
		MyRole:       t.MyRole,
		TheirRole:    t.TheirRole,
		State:        t.State,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		Identity:     t.Identity.Copy(),
		Flags:        t.Flags,
	}

	if len(t.StateLog) > 0 {
		result.StateLog = make([]StateLogEntry, len(t.StateLog))
		copy(result.StateLog, t.StateLog)
	}

	if len(t.ProcessedMessageIDs) > 0 {
		result.ProcessedMessageIDs = make(map[string]bool, len(t.ProcessedMessageIDs))
		for k, v := range t.ProcessedMessageIDs {
			result.ProcessedMessageIDs[k] = v
		}
	} else {
		result.ProcessedMessageIDs = make(map[string]bool)
	}

	if len(t.ProtocolLog) > 0 {
		result.ProtocolLog = make([]ProtocolLogEntry, len(t.ProtocolLog))
		for i, entry := range t.ProtocolLog {
			result.ProtocolLog[i] = entry.Copy()
		}
	}

	if t.Invoice != nil {
		v := t.Invoice.Copy()
		result.Invoice = &v
	}
	if t.Settlement != nil {
		v := t.Settlement.Copy()
		result.Settlement = &v
	}
	if t.Receipt != nil {
		v := t.Receipt.Copy()
		result.Receipt = &v
	}
	if t.Termination != nil {
		v := t.Termination.Copy()
		result.Termination = &v
	}
	if t.LastError != nil {
		e := CopyString(*t.LastError)
		result.LastError = &e
	}

	return result
}

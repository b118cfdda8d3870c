package remittance

// StateSnapshot is the full persisted state of a RemittanceManager (spec section 4.1,
// "Thread store & persistence"). It is what gets written to and read back from storage as a single unit.
type StateSnapshot struct {
	V                      int       `json:"v"`
	Threads                []*Thread `json:"threads"`
	DefaultPaymentOptionID *string   `json:"defaultPaymentOptionId,omitempty"`
}

// SnapshotVersion is the current on-disk snapshot format version.
const SnapshotVersion = 1

// Copy returns a deep copy of the snapshot.
func (s *StateSnapshot) Copy() *StateSnapshot {
	if s == nil {
		return nil
	}

	result := &StateSnapshot{
		V: s.V,
	}

	if len(s.Threads) > 0 {
		result.Threads = make([]*Thread, len(s.Threads))
		for i, t := range s.Threads {
			result.Threads[i] = t.Copy()
		}
	}

	if s.DefaultPaymentOptionID != nil {
		id := CopyString(*s.DefaultPaymentOptionID)
		result.DefaultPaymentOptionID = &id
	}

	return result
}

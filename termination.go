package remittance

// TerminationPayload ends a thread's exchange, in either direction (spec section 3). It is
// shaped after the teacher's Response/Reject status-code-and-note pattern
// (response.go/reject.go), generalized to a free-form code string since the engine does not
// define a fixed status enumeration of its own.
type TerminationPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (p TerminationPayload) Copy() TerminationPayload {
	result := TerminationPayload{
		Code:    CopyString(p.Code),
		Message: CopyString(p.Message),
	}

	if p.Details != nil {
		result.Details = make(map[string]interface{}, len(p.Details))
		for k, v := range p.Details {
			result.Details[k] = v
		}
	}

	return result
}

// NewTermination builds a TerminationPayload carrying just a human-readable message, the common
// case throughout the dispatcher (spec section 4.4).
func NewTermination(message string) TerminationPayload {
	return TerminationPayload{Code: "terminated", Message: message}
}

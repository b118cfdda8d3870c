package remittance

// SettlementArtifact is the opaque, module-defined proof of payment (spec section 9).
type SettlementArtifact []byte

func (a SettlementArtifact) Copy() SettlementArtifact {
	if a == nil {
		return nil
	}
	out := make(SettlementArtifact, len(a))
	copy(out, a)
	return out
}

// SettlementPayload is the wire payload of a `settlement` envelope (spec section 3).
type SettlementPayload struct {
	ThreadID  ThreadID            `json:"threadId"`
	ModuleID  ModuleID            `json:"moduleId"`
	OptionID  OptionID            `json:"optionId"`
	Sender    IdentityKey         `json:"sender"`
	CreatedAt UnixMillis          `json:"createdAt"`
	Artifact  SettlementArtifact  `json:"artifact"`
	Note      *string             `json:"note,omitempty"`
}

func (p SettlementPayload) Copy() SettlementPayload {
	result := p
	result.Sender = IdentityKey(CopyString(string(p.Sender)))
	result.Artifact = p.Artifact.Copy()
	if p.Note != nil {
		n := CopyString(*p.Note)
		result.Note = &n
	}
	return result
}

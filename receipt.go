package remittance

// ReceiptData is the opaque, module-defined proof of settlement acceptance (spec section 9).
type ReceiptData []byte

func (d ReceiptData) Copy() ReceiptData {
	if d == nil {
		return nil
	}
	out := make(ReceiptData, len(d))
	copy(out, d)
	return out
}

// ReceiptPayload is the wire payload of a `receipt` envelope (spec section 3).
type ReceiptPayload struct {
	ThreadID    ThreadID    `json:"threadId"`
	ModuleID    ModuleID    `json:"moduleId"`
	OptionID    OptionID    `json:"optionId"`
	Payee       IdentityKey `json:"payee"`
	Payer       IdentityKey `json:"payer"`
	CreatedAt   UnixMillis  `json:"createdAt"`
	ReceiptData ReceiptData `json:"receiptData"`
}

func (p ReceiptPayload) Copy() ReceiptPayload {
	result := p
	result.Payee = IdentityKey(CopyString(string(p.Payee)))
	result.Payer = IdentityKey(CopyString(string(p.Payer)))
	result.ReceiptData = p.ReceiptData.Copy()
	return result
}

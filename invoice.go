package remittance

// LineItem is one priced item on an invoice.
type LineItem struct {
	Description string `json:"description"`
	Quantity    uint64 `json:"quantity"`
	UnitPrice   Amount `json:"unitPrice"`
}

func (i LineItem) Copy() LineItem {
	return LineItem{
		Description: CopyString(i.Description),
		Quantity:    i.Quantity,
		UnitPrice:   i.UnitPrice.Copy(),
	}
}

// InvoicePayload is the wire payload of an `invoice` envelope (spec section 3). Options maps a
// ModuleID to opaque module-defined terms; the engine never interprets its contents.
type InvoicePayload struct {
	Payee         IdentityKey                `json:"payee"`
	Payer         IdentityKey                `json:"payer"`
	LineItems     []LineItem                 `json:"lineItems"`
	Total         Amount                     `json:"total"`
	InvoiceNumber string                     `json:"invoiceNumber"`
	CreatedAt     UnixMillis                 `json:"createdAt"`
	ExpiresAt     *UnixMillis                `json:"expiresAt,omitempty"`
	Options       map[ModuleID]OptionTerms   `json:"options"`
}

// OptionTerms is opaque module-defined data describing how to settle using one module. The
// engine only ever passes it through (spec section 9, "Dynamic payload typing").
type OptionTerms []byte

func (t OptionTerms) Copy() OptionTerms {
	if t == nil {
		return nil
	}
	out := make(OptionTerms, len(t))
	copy(out, t)
	return out
}

func (p InvoicePayload) Copy() InvoicePayload {
	result := p
	result.Payee = IdentityKey(CopyString(string(p.Payee)))
	result.Payer = IdentityKey(CopyString(string(p.Payer)))
	result.InvoiceNumber = CopyString(p.InvoiceNumber)
	result.Total = p.Total.Copy()

	if p.LineItems != nil {
		result.LineItems = make([]LineItem, len(p.LineItems))
		for i, item := range p.LineItems {
			result.LineItems[i] = item.Copy()
		}
	}

	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		result.ExpiresAt = &t
	}

	if p.Options != nil {
		result.Options = make(map[ModuleID]OptionTerms, len(p.Options))
		for id, terms := range p.Options {
			result.Options[id] = terms.Copy()
		}
	}

	return result
}

// InvoiceInput is the caller-supplied description of a new invoice (spec section 4.5,
// "Invoice composition").
type InvoiceInput struct {
	LineItems     []LineItem
	Total         Amount
	InvoiceNumber string
}

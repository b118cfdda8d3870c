package manager

import "github.com/tokenized/remittance"

// ThreadHandle references a thread without holding the thread record itself, so it stays valid
// across restarts and never goes stale (spec section 9, "Cyclic references").
type ThreadHandle struct {
	manager  *Manager
	ThreadID remittance.ThreadID
}

// Thread returns a current deep copy of the referenced thread, or nil if it no longer exists.
func (h ThreadHandle) Thread() *remittance.Thread {
	return h.manager.Thread(h.ThreadID)
}

// InvoiceHandle references the thread created by SendInvoice.
type InvoiceHandle struct {
	ThreadHandle
}

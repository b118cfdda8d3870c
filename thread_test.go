package remittance

import (
	"testing"

	"github.com/go-test/deep"
)

func Test_NewThread_RolesAreOpposite(t *testing.T) {
	thread := NewThread(ThreadID("t-1"), IdentityKey("counterparty"), RoleMaker, UnixMillis(100))

	if thread.MyRole != RoleMaker {
		t.Errorf("MyRole = %s, want maker", thread.MyRole)
	}
	if thread.TheirRole != RoleTaker {
		t.Errorf("TheirRole = %s, want taker", thread.TheirRole)
	}
	if thread.State != StateNew {
		t.Errorf("State = %s, want new", thread.State)
	}
}

func Test_Thread_HasProcessed_MarkProcessed(t *testing.T) {
	thread := NewThread(ThreadID("t-1"), IdentityKey("cp"), RoleMaker, UnixMillis(0))

	if thread.HasProcessed("m-1") {
		t.Fatalf("a fresh thread should not have processed anything")
	}

	thread.MarkProcessed("m-1")
	if !thread.HasProcessed("m-1") {
		t.Fatalf("MarkProcessed should make HasProcessed return true")
	}

	// Marking twice is a no-op, not an error.
	thread.MarkProcessed("m-1")
	if len(thread.ProcessedMessageIDs) != 1 {
		t.Errorf("ProcessedMessageIDs len = %d, want 1", len(thread.ProcessedMessageIDs))
	}
}

func Test_Thread_Transition_RejectsInvalidEdge(t *testing.T) {
	thread := NewThread(ThreadID("t-1"), IdentityKey("cp"), RoleMaker, UnixMillis(0))

	if err := thread.Transition(StateInvoiced, "invoice sent", UnixMillis(10)); err != nil {
		t.Fatalf("new -> invoiced should be legal : %s", err)
	}
	if len(thread.StateLog) != 1 {
		t.Fatalf("StateLog len = %d, want 1", len(thread.StateLog))
	}
	if thread.StateLog[0].From != StateNew || thread.StateLog[0].To != StateInvoiced {
		t.Errorf("StateLog entry = %+v, want from=new to=invoiced", thread.StateLog[0])
	}

	if err := thread.Transition(StateNew, "back to new", UnixMillis(20)); err == nil {
		t.Fatalf("invoiced -> new should be rejected")
	}
	if thread.State != StateInvoiced {
		t.Errorf("a rejected transition must not mutate State, got %s", thread.State)
	}
	if len(thread.StateLog) != 1 {
		t.Errorf("a rejected transition must not grow StateLog, len = %d", len(thread.StateLog))
	}
}

func Test_Thread_Copy_IsIsolated(t *testing.T) {
	original := NewThread(ThreadID("t-1"), IdentityKey("cp"), RoleMaker, UnixMillis(0))
	original.MarkProcessed("m-1")
	original.Invoice = &InvoicePayload{
		InvoiceNumber: "INV-1",
		Options:       map[ModuleID]OptionTerms{"mod": OptionTerms("terms")},
	}
	note := "a note"
	original.Settlement = &SettlementPayload{Note: &note}

	clone := original.Copy()

	if diff := deep.Equal(original, clone); diff != nil {
		t.Fatalf("Copy() should be value-equal to the original : %v", diff)
	}

	clone.MarkProcessed("m-2")
	clone.Invoice.InvoiceNumber = "mutated"
	clone.Invoice.Options["mod"][0] = 'X'
	*clone.Settlement.Note = "mutated"

	if original.HasProcessed("m-2") {
		t.Errorf("mutating the clone's ProcessedMessageIDs leaked into the original")
	}
	if original.Invoice.InvoiceNumber != "INV-1" {
		t.Errorf("mutating the clone's Invoice leaked into the original : %s", original.Invoice.InvoiceNumber)
	}
	if string(original.Invoice.Options["mod"]) != "terms" {
		t.Errorf("mutating the clone's Options leaked into the original : %s", original.Invoice.Options["mod"])
	}
	if *original.Settlement.Note != "a note" {
		t.Errorf("mutating the clone's Settlement leaked into the original : %s", *original.Settlement.Note)
	}
}

func Test_Thread_Copy_Nil(t *testing.T) {
	var thread *Thread
	if thread.Copy() != nil {
		t.Errorf("Copy() of a nil thread should return nil")
	}
}

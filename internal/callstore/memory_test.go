package callstore

import (
	"context"
	"testing"
)

func TestStartAssignsStableCallerID(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	ctx := context.Background()

	call1, caller1, err := m.Start(ctx, "uuid-1", "+15551234567")
	if err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	call2, caller2, err := m.Start(ctx, "uuid-2", "+15551234567")
	if err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}

	if caller1 != caller2 {
		t.Errorf("same phone produced caller IDs %q and %q", caller1, caller2)
	}
	if call1 == call2 {
		t.Errorf("different calls share call ID %q", call1)
	}

	_, caller3, err := m.Start(ctx, "uuid-3", "+15559876543")
	if err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	if caller3 == caller1 {
		t.Error("different phones share a caller ID")
	}
}

func TestEndIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	ctx := context.Background()

	callID, _, err := m.Start(ctx, "uuid-1", "+15551234567")
	if err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}

	if err := m.End(ctx, callID); err != nil {
		t.Fatalf("End: unexpected error: %v", err)
	}
	if !m.Ended(callID) {
		t.Fatal("call not marked ended")
	}
	if err := m.End(ctx, callID); err != nil {
		t.Errorf("second End: unexpected error: %v", err)
	}
	if err := m.End(ctx, "call-never-started"); err != nil {
		t.Errorf("End of unknown call: unexpected error: %v", err)
	}
}

func TestHashPhoneIsDeterministicAndOpaque(t *testing.T) {
	t.Parallel()

	a := HashPhone("+15551234567")
	b := HashPhone("+15551234567")
	c := HashPhone("+15551234568")

	if a != b {
		t.Error("same phone produced different hashes")
	}
	if a == c {
		t.Error("different phones produced the same hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

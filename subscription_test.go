package lsprpc

import "testing"

func TestSubscriptionClose(t *testing.T) {
	removed := 0
	sub := newSubscription(func() { removed++ })

	sub.Close()
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	// Close is idempotent.
	sub.Close()
	if removed != 1 {
		t.Errorf("removed after second Close = %d, want 1", removed)
	}
}

func TestSubscriptionDetach(t *testing.T) {
	removed := 0
	sub := newSubscription(func() { removed++ })

	sub.Detach()
	sub.Close()
	if removed != 0 {
		t.Errorf("removed = %d, want 0 after Detach", removed)
	}
}

package relay

import (
	"sync"
	"testing"
)

func TestRegisterLastWriteWins(t *testing.T) {
	r := NewPendingRegistry()
	r.Register(1, PendingSave{MessageID: 100})
	r.Register(1, PendingSave{MessageID: 200})

	got, ok := r.Consume(1)
	if !ok {
		t.Fatalf("expected pending entry")
	}
	if got.MessageID != 200 {
		t.Errorf("MessageID = %d, want 200 (last register wins)", got.MessageID)
	}
	if _, ok := r.Consume(1); ok {
		t.Errorf("second consume should find nothing")
	}
}

func TestConsumeAbsent(t *testing.T) {
	r := NewPendingRegistry()
	if _, ok := r.Consume(99); ok {
		t.Errorf("consume on empty registry should report absent")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestConcurrentDistinctUsers(t *testing.T) {
	r := NewPendingRegistry()
	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r.Register(id, PendingSave{MessageID: id})
			got, ok := r.Consume(id)
			if !ok || got.MessageID != id {
				t.Errorf("user %d: got %v ok=%v", id, got.MessageID, ok)
			}
		}(i)
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("registry not drained: %d left", r.Len())
	}
}

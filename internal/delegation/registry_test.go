package delegation

import (
	"testing"
	"time"

	"github.com/tenex-chat/tenex/pkg/models"
)

func resp(id, author string) *models.Event {
	return &models.Event{ID: id, Pubkey: author, Content: "response from " + author}
}

func TestRegisterRequiresTargets(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.Register("c1", "delegator", nil, "do it", time.Minute); err != ErrNoTargets {
		t.Errorf("expected ErrNoTargets, got %v", err)
	}
	if _, err := reg.Register("c1", "delegator", []string{""}, "do it", time.Minute); err != ErrNoTargets {
		t.Errorf("blank targets should be rejected, got %v", err)
	}
}

func TestSingleTargetCompletion(t *testing.T) {
	reg := NewRegistry(nil)
	handle, err := reg.Register("c1", "delegator", []string{"worker"}, "summarize", time.Minute)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	outcome := reg.RecordResponse("c1", "delegator", "worker", resp("e1", "worker"))
	if outcome != ResponseCompleted {
		t.Errorf("outcome = %q, want completed", outcome)
	}

	select {
	case result := <-handle.Done:
		if result.Status != StatusComplete {
			t.Errorf("status = %q, want complete", result.Status)
		}
		if result.Responses["worker"] == nil {
			t.Error("worker response missing from result")
		}
		if result.OriginalRequest != "summarize" {
			t.Errorf("original request = %q", result.OriginalRequest)
		}
	case <-time.After(time.Second):
		t.Fatal("resume hook did not fire")
	}
}

func TestMultiTargetAggregation(t *testing.T) {
	reg := NewRegistry(nil)
	handle, err := reg.Register("c1", "delegator", []string{"w1", "w2", "w3"}, "review", time.Minute)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if outcome := reg.RecordResponse("c1", "delegator", "w1", resp("e1", "w1")); outcome != ResponseStored {
		t.Errorf("first response outcome = %q, want stored", outcome)
	}
	if outcome := reg.RecordResponse("c1", "delegator", "w2", resp("e2", "w2")); outcome != ResponseStored {
		t.Errorf("second response outcome = %q, want stored", outcome)
	}

	select {
	case <-handle.Done:
		t.Fatal("resume fired before all targets responded")
	case <-time.After(20 * time.Millisecond):
	}

	if outcome := reg.RecordResponse("c1", "delegator", "w3", resp("e3", "w3")); outcome != ResponseCompleted {
		t.Errorf("final response outcome = %q, want completed", outcome)
	}
	select {
	case result := <-handle.Done:
		if len(result.Responses) != 3 {
			t.Errorf("responses = %d, want 3", len(result.Responses))
		}
	case <-time.After(time.Second):
		t.Fatal("resume hook did not fire after final response")
	}
}

func TestDuplicateAndNonTargetResponsesIgnored(t *testing.T) {
	reg := NewRegistry(nil)
	handle, _ := reg.Register("c1", "delegator", []string{"w1", "w2"}, "task", time.Minute)

	first := resp("e1", "w1")
	if outcome := reg.RecordResponse("c1", "delegator", "w1", first); outcome != ResponseStored {
		t.Fatalf("outcome = %q", outcome)
	}
	// Second response from the same target is ignored; first wins.
	if outcome := reg.RecordResponse("c1", "delegator", "w1", resp("e9", "w1")); outcome != ResponseIgnored {
		t.Errorf("duplicate outcome = %q, want ignored", outcome)
	}
	// A response from an agent that was never targeted is ignored.
	if outcome := reg.RecordResponse("c1", "delegator", "stranger", resp("e8", "stranger")); outcome != ResponseIgnored {
		t.Errorf("non-target outcome = %q, want ignored", outcome)
	}

	reg.RecordResponse("c1", "delegator", "w2", resp("e2", "w2"))
	result := <-handle.Done
	if result.Responses["w1"].ID != "e1" {
		t.Errorf("first response should win, got %s", result.Responses["w1"].ID)
	}
}

func TestTimeoutResolvesWithPartialResponses(t *testing.T) {
	reg := NewRegistry(nil)
	handle, _ := reg.Register("c1", "delegator", []string{"w1", "w2"}, "slow task", 30*time.Millisecond)

	reg.RecordResponse("c1", "delegator", "w1", resp("e1", "w1"))

	select {
	case result := <-handle.Done:
		if result.Status != StatusTimedOut {
			t.Errorf("status = %q, want timed-out", result.Status)
		}
		if len(result.Responses) != 1 {
			t.Errorf("partial responses = %d, want 1", len(result.Responses))
		}
	case <-time.After(time.Second):
		t.Fatal("timeout did not resolve the delegation")
	}

	// Late responses after timeout are ignored.
	if outcome := reg.RecordResponse("c1", "delegator", "w2", resp("e2", "w2")); outcome != ResponseIgnored {
		t.Errorf("late outcome = %q, want ignored", outcome)
	}
}

func TestCancelNeverFiresResume(t *testing.T) {
	reg := NewRegistry(nil)
	handle, _ := reg.Register("c1", "delegator", []string{"w1"}, "task", 30*time.Millisecond)
	reg.Cancel(handle.ID)

	select {
	case <-handle.Done:
		t.Fatal("resume fired for a cancelled delegation")
	case <-time.After(80 * time.Millisecond):
		// Past the original timeout; nothing fired.
	}
	if reg.Pending() != 0 {
		t.Errorf("cancelled record should be removed, %d pending", reg.Pending())
	}
}

func TestHasPending(t *testing.T) {
	reg := NewRegistry(nil)
	handle, _ := reg.Register("c1", "delegator", []string{"w1"}, "task", time.Minute)

	if !reg.HasPending("c1", "delegator", "w1") {
		t.Error("expected pending delegation for target")
	}
	if reg.HasPending("c1", "delegator", "w2") {
		t.Error("no delegation should exist for w2")
	}
	if reg.HasPending("c2", "delegator", "w1") {
		t.Error("index must be scoped by conversation")
	}

	reg.RecordResponse("c1", "delegator", "w1", resp("e1", "w1"))
	<-handle.Done
	if reg.HasPending("c1", "delegator", "w1") {
		t.Error("completed delegation should no longer be pending")
	}
}

func TestResumeFiresAtMostOnce(t *testing.T) {
	reg := NewRegistry(nil)
	handle, _ := reg.Register("c1", "delegator", []string{"w1"}, "task", 20*time.Millisecond)

	reg.RecordResponse("c1", "delegator", "w1", resp("e1", "w1"))
	<-handle.Done

	// Let the timeout timer (if it survived) fire.
	time.Sleep(60 * time.Millisecond)
	select {
	case <-handle.Done:
		t.Fatal("resume fired twice")
	default:
	}
}

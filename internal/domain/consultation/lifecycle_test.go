package consultation

import (
	"testing"
	"time"

	"github.com/clinic/clinic/internal/platform/apperr"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusWaiting, StatusInProgress, true},
		{StatusWaiting, StatusCancelled, true},
		{StatusWaiting, StatusCompleted, false},
		{StatusWaiting, StatusPendingBilling, false},
		{StatusInProgress, StatusPendingBilling, true},
		{StatusInProgress, StatusCompleted, false},
		{StatusInProgress, StatusCancelled, true},
		{StatusPendingBilling, StatusInProgress, true},
		{StatusPendingBilling, StatusCompleted, true},
		{StatusPendingBilling, StatusCancelled, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCancelled, StatusInProgress, false},
		{StatusCancelled, StatusCancelled, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransition_StampsTimes(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	c := &Consultation{Status: StatusWaiting}

	if err := transition(c, StatusInProgress, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.StartedAt == nil || !c.StartedAt.Equal(now) {
		t.Errorf("expected started_at %v, got %v", now, c.StartedAt)
	}

	later := now.Add(time.Hour)
	_ = transition(c, StatusPendingBilling, later)
	_ = transition(c, StatusInProgress, later)
	if !c.StartedAt.Equal(now) {
		t.Error("resuming must not move started_at")
	}

	_ = transition(c, StatusPendingBilling, later)
	if err := transition(c, StatusCompleted, later); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.FinalizedAt == nil || !c.FinalizedAt.Equal(later) {
		t.Errorf("expected finalized_at %v, got %v", later, c.FinalizedAt)
	}
}

func TestTransition_RejectsWithInvalidState(t *testing.T) {
	c := &Consultation{Status: StatusCompleted}
	err := transition(c, StatusCancelled, time.Now())
	if !apperr.Is(err, apperr.InvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	if c.Status != StatusCompleted {
		t.Error("status must not change on rejection")
	}
}

func TestRequireActive(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusWaiting:        false,
		StatusInProgress:     true,
		StatusPendingBilling: true,
		StatusCompleted:      false,
		StatusCancelled:      false,
	} {
		err := requireActive(&Consultation{Status: s})
		if (err == nil) != want {
			t.Errorf("requireActive(%s) = %v", s, err)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() || StatusPendingBilling.Terminal() {
		t.Error("only completed and cancelled are terminal")
	}
	if Status("archived").Valid() {
		t.Error("unexpected valid status")
	}
}

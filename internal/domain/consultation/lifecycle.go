package consultation

import (
	"time"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// Allowed lifecycle transitions. completed and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusWaiting:        {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusPendingBilling, StatusCancelled},
	StatusPendingBilling: {StatusInProgress, StatusCompleted, StatusCancelled},
}

var validStatuses = map[Status]bool{
	StatusWaiting:        true,
	StatusInProgress:     true,
	StatusPendingBilling: true,
	StatusCompleted:      true,
	StatusCancelled:      true,
}

func (s Status) Valid() bool { return validStatuses[s] }

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition moves c to the target status and stamps the matching timestamp.
func transition(c *Consultation, to Status, now time.Time) error {
	if !CanTransition(c.Status, to) {
		return apperr.New(apperr.InvalidState, "consultation %s cannot move from %s to %s", c.ID, c.Status, to)
	}
	c.Status = to
	switch to {
	case StatusInProgress:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case StatusCompleted:
		c.FinalizedAt = &now
	case StatusCancelled:
		c.CancelledAt = &now
	}
	return nil
}

// requireActive guards line item, extra charge and fee mutations.
func requireActive(c *Consultation) error {
	if c.Status == StatusInProgress || c.Status == StatusPendingBilling {
		return nil
	}
	return apperr.New(apperr.InvalidState, "consultation %s is %s; charges can only change while in-progress or pending-billing", c.ID, c.Status)
}

package booking

import "clubhall/internal/models"

// FSM holds the allowed booking status transitions.
type FSM struct {
	transitions map[models.Status][]models.Status
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.Status][]models.Status{
			models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled, models.StatusCompleted},
			models.StatusConfirmed: {models.StatusCancelled, models.StatusCompleted},
			models.StatusCancelled: {},
			models.StatusCompleted: {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to models.Status) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves b to status to, or returns an invalid-state error naming action.
func (f *FSM) Transition(b *models.Booking, to models.Status, action string) error {
	if !f.CanTransition(b.Status, to) {
		e := invalidState(string(b.Status), action)
		e.HallID = b.HallID
		e.Date = b.BookingDate.String()
		e.Slot = b.SlotKey()
		return e
	}
	b.Status = to
	return nil
}

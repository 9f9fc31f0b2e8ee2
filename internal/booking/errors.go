package booking

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies booking failures.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindPolicyViolation Kind = "policy_violation"
	KindConflict        Kind = "conflict"
	KindInvalidState    Kind = "invalid_state"
	KindNotFound        Kind = "not_found"
)

// Error is a booking failure scoped to a single request, with enough context to
// render a message to the user.
type Error struct {
	Kind          Kind
	Msg           string
	HallID        int64
	Date          string
	Slot          string
	ConflictingID string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)

	var ctx []string
	if e.HallID != 0 {
		ctx = append(ctx, fmt.Sprintf("hall=%d", e.HallID))
	}
	if e.Date != "" {
		ctx = append(ctx, "date="+e.Date)
	}
	if e.Slot != "" {
		ctx = append(ctx, "slot="+e.Slot)
	}
	if e.ConflictingID != "" {
		ctx = append(ctx, "conflicting_booking="+e.ConflictingID)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works
// regardless of message and context.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Details returns the context fields that are set.
func (e *Error) Details() map[string]any {
	d := map[string]any{}
	if e.HallID != 0 {
		d["hall_id"] = e.HallID
	}
	if e.Date != "" {
		d["booking_date"] = e.Date
	}
	if e.Slot != "" {
		d["slot"] = e.Slot
	}
	if e.ConflictingID != "" {
		d["conflicting_booking_id"] = e.ConflictingID
	}
	return d
}

var (
	ErrValidation      = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrPolicyViolation = &Error{Kind: KindPolicyViolation, Msg: "policy violation"}
	ErrConflict        = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Msg: "invalid state"}
	ErrNotFound        = &Error{Kind: KindNotFound, Msg: "not found"}
)

// NewError builds an error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the kind of err, or "" for errors that are not booking errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func invalidState(from, action string) *Error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf("cannot %s a booking in status %s", action, from)}
}

// Package booking decides which hall dates and slots can be offered and admits,
// cancels, refunds and completes hall bookings.
//
// The engine is synchronous and holds no mutable state; reading existing
// bookings and persisting results is the caller's job. Callers must commit a
// created booking under a transaction or unique constraint that repeats the
// conflict check, and report a storage-level duplicate as ErrConflict.
package booking

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"clubhall/internal/models"
	"clubhall/internal/slots"
)

const (
	DefaultAdvanceDays = 90
	DefaultHorizon     = 52
	MaxPurposeLength   = 1000
)

// Policy holds the club-wide booking rules.
type Policy struct {
	// Weekday is the only day of the week halls can be booked on.
	Weekday time.Weekday
	// DefaultAdvanceDays applies to halls without their own advance period.
	DefaultAdvanceDays int
	// Horizon is how many candidate dates a new booking may pick from.
	Horizon     int
	AutoConfirm bool
	Location    *time.Location
}

// DefaultPolicy books Sundays, 90 days ahead, confirmed on creation.
func DefaultPolicy() Policy {
	return Policy{
		Weekday:            time.Sunday,
		DefaultAdvanceDays: DefaultAdvanceDays,
		Horizon:            DefaultHorizon,
		AutoConfirm:        true,
		Location:           time.UTC,
	}
}

// Request is a booking request as received from a member or an admin.
type Request struct {
	HallID        int64
	MemberID      *int64
	BookingDate   models.Date
	Slot          models.TimeSlot
	Purpose       string
	IsFullPayment bool
}

// Engine is the single authority on slot availability and booking lifecycle.
type Engine struct {
	policy Policy
	now    func() time.Time
	newID  func() string
	fsm    *FSM
}

// NewEngine creates an engine. A nil clock means time.Now.
func NewEngine(policy Policy, now func() time.Time) *Engine {
	if policy.DefaultAdvanceDays <= 0 {
		policy.DefaultAdvanceDays = DefaultAdvanceDays
	}
	if policy.Horizon <= 0 {
		policy.Horizon = DefaultHorizon
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		policy: policy,
		now:    now,
		newID:  uuid.NewString,
		fsm:    NewFSM(),
	}
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Now returns the engine clock in the club location.
func (e *Engine) Now() time.Time {
	return e.now().In(e.policy.Location)
}

// Today returns the current date in the club location.
func (e *Engine) Today() models.Date {
	return models.NewDate(e.Now())
}

// Anchor re-expresses a calendar date at midnight in the club location.
func (e *Engine) Anchor(d models.Date) models.Date {
	return models.Date{Time: time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, e.policy.Location)}
}

// AdvanceDays returns the hall's lead time, falling back to the policy default.
func (e *Engine) AdvanceDays(h *models.Hall) int {
	if h == nil || h.AdvanceBookingPeriodDays <= 0 {
		return e.policy.DefaultAdvanceDays
	}
	return h.AdvanceBookingPeriodDays
}

// ListAvailableDates returns the first count dates on the policy weekday that
// lie strictly after from plus the hall's advance period.
func (e *Engine) ListAvailableDates(h *models.Hall, from time.Time, count int) []models.Date {
	day := models.NewDate(from.In(e.policy.Location))
	earliest := day.AddDays(e.AdvanceDays(h) + 1)
	return slots.CandidateDates(earliest, e.policy.Weekday, count)
}

// IsBookableDate reports whether d is among the dates offered as of now.
func (e *Engine) IsBookableDate(h *models.Hall, d models.Date) bool {
	for _, c := range e.ListAvailableDates(h, e.Now(), e.policy.Horizon) {
		if c.Equal(d) {
			return true
		}
	}
	return false
}

// ListAvailableSlots places the hall's slots on date and marks those held by an
// active booking in existing as unavailable. existing is not modified.
func (e *Engine) ListAvailableSlots(h *models.Hall, date models.Date, existing []*models.Booking) ([]slots.Slot, error) {
	if h == nil {
		return nil, ErrNotFound
	}
	date = e.Anchor(date)
	all, err := slots.Materialize(date, h.TimeSlots)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Msg: err.Error(), HallID: h.ID}
	}
	return slots.MarkBooked(h.ID, date, all, existing), nil
}

// CreateBooking validates req against hall and existing bookings and returns a
// new booking. Nothing is persisted.
func (e *Engine) CreateBooking(req Request, h *models.Hall, existing []*models.Booking) (*models.Booking, error) {
	if h == nil {
		return nil, &Error{Kind: KindNotFound, Msg: "hall not found", HallID: req.HallID}
	}
	if req.HallID != 0 && req.HallID != h.ID {
		return nil, &Error{Kind: KindValidation, Msg: "hall_id does not match hall", HallID: req.HallID}
	}

	purpose := strings.TrimSpace(req.Purpose)
	if purpose == "" {
		return nil, &Error{Kind: KindValidation, Msg: "purpose required", HallID: h.ID}
	}
	if utf8.RuneCountInString(purpose) > MaxPurposeLength {
		return nil, &Error{Kind: KindValidation, Msg: "purpose must be at most 1000 characters", HallID: h.ID}
	}
	if req.BookingDate.IsZero() {
		return nil, &Error{Kind: KindValidation, Msg: "booking_date required", HallID: h.ID}
	}
	if !h.IsActive {
		return nil, &Error{Kind: KindPolicyViolation, Msg: "hall not active", HallID: h.ID}
	}

	date := e.Anchor(req.BookingDate)
	if !e.IsBookableDate(h, date) {
		return nil, &Error{Kind: KindPolicyViolation, Msg: "date not bookable", HallID: h.ID, Date: date.String()}
	}

	start, end, ok := matchSlot(h, req.Slot)
	if !ok {
		return nil, &Error{Kind: KindValidation, Msg: "unknown slot", HallID: h.ID, Date: date.String(), Slot: req.Slot.Label()}
	}
	slotFrom, slotTo := date.At(start), date.At(end)
	slotKey := slots.FormatClock(start) + "-" + slots.FormatClock(end)

	for _, b := range existing {
		if b == nil || b.HallID != h.ID || !b.Status.IsActive() || !b.BookingDate.Equal(date) {
			continue
		}
		if slots.ClockOf(b.SlotFrom) == start && slots.ClockOf(b.SlotTo) == end {
			return nil, &Error{
				Kind:          KindConflict,
				Msg:           "slot already booked",
				HallID:        h.ID,
				Date:          date.String(),
				Slot:          slotKey,
				ConflictingID: b.ID,
			}
		}
	}

	status := models.StatusPending
	if e.policy.AutoConfirm {
		status = models.StatusConfirmed
	}

	now := e.Now()
	var member *int64
	if req.MemberID != nil {
		v := *req.MemberID
		member = &v
	}

	return &models.Booking{
		ID:            e.newID(),
		HallID:        h.ID,
		MemberID:      member,
		BookingDate:   date,
		SlotFrom:      slotFrom,
		SlotTo:        slotTo,
		Purpose:       purpose,
		IsFullPayment: req.IsFullPayment,
		Status:        status,
		TotalAmount:   h.AmountDue(req.IsFullPayment),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}, nil
}

// CancelBooking cancels an active booking, retaining charges.
func (e *Engine) CancelBooking(b *models.Booking, reason string, charges decimal.Decimal) error {
	if b == nil {
		return ErrNotFound
	}
	c := b.Clone()
	if err := e.fsm.Transition(c, models.StatusCancelled, "cancel"); err != nil {
		return err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return contextual(validationError("cancellation_reason required"), b)
	}
	if charges.IsNegative() {
		return contextual(validationError("cancellation_charges must not be negative"), b)
	}
	if charges.GreaterThan(b.TotalAmount) {
		return contextual(validationError("cancellation_charges exceed total_amount"), b)
	}

	now := e.Now()
	c.CancellationReason = &reason
	c.CancellationDate = &now
	c.CancellationCharges = &charges
	c.UpdatedAt = now

	*b = *c
	return nil
}

// RefundBooking records a refund against a cancelled booking. Status stays Cancelled.
func (e *Engine) RefundBooking(b *models.Booking, amount decimal.Decimal, remarks string) error {
	if b == nil {
		return ErrNotFound
	}
	if b.Status != models.StatusCancelled {
		return contextual(invalidState(string(b.Status), "refund"), b)
	}
	if b.IsRefunded {
		return contextual(NewError(KindInvalidState, "booking already refunded"), b)
	}
	if amount.IsNegative() {
		return contextual(validationError("refund_amount must not be negative"), b)
	}
	if amount.GreaterThan(b.RefundEntitlement()) {
		return contextual(validationError("refund exceeds entitlement"), b)
	}

	c := b.Clone()
	now := e.Now()
	remarks = strings.TrimSpace(remarks)
	c.IsRefunded = true
	c.RefundAmount = &amount
	c.RefundRemarks = &remarks
	c.RefundedAt = &now
	c.UpdatedAt = now

	*b = *c
	return nil
}

// ConfirmBooking moves a pending booking to Confirmed.
func (e *Engine) ConfirmBooking(b *models.Booking) error {
	if b == nil {
		return ErrNotFound
	}
	c := b.Clone()
	if err := e.fsm.Transition(c, models.StatusConfirmed, "confirm"); err != nil {
		return err
	}
	c.UpdatedAt = e.Now()
	*b = *c
	return nil
}

// CompleteBooking marks an active booking whose slot is over as Completed.
func (e *Engine) CompleteBooking(b *models.Booking) error {
	if b == nil {
		return ErrNotFound
	}
	now := e.Now()
	if b.Status.IsActive() && !b.HasEnded(now) {
		return contextual(NewError(KindInvalidState, "booking slot has not ended yet"), b)
	}
	c := b.Clone()
	if err := e.fsm.Transition(c, models.StatusCompleted, "complete"); err != nil {
		return err
	}
	c.UpdatedAt = now
	*b = *c
	return nil
}

// matchSlot finds the hall slot with the same bounds as want, comparing parsed
// times so "9:00" matches "09:00".
func matchSlot(h *models.Hall, want models.TimeSlot) (start, end int, ok bool) {
	ws, we, err := slots.Bounds(want)
	if err != nil {
		return 0, 0, false
	}
	for _, ts := range h.TimeSlots {
		s, e, err := slots.Bounds(ts)
		if err != nil {
			continue
		}
		if s == ws && e == we {
			return s, e, true
		}
	}
	return 0, 0, false
}

func contextual(e *Error, b *models.Booking) *Error {
	e.HallID = b.HallID
	e.Date = b.BookingDate.String()
	e.Slot = b.SlotKey()
	return e
}

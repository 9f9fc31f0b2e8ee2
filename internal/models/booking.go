package models

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a hall booking.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
	StatusCompleted Status = "Completed"
)

// ActiveStatuses hold a slot; at most one booking per hall/date/slot may be in one of them.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

// IsActive reports whether the status still occupies its slot.
func (s Status) IsActive() bool {
	return slices.Contains(ActiveStatuses, s)
}

// ParseStatus accepts the wire value case-insensitively ("cancelled" and "Cancelled" are the same).
func ParseStatus(v string) (Status, bool) {
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted} {
		if strings.EqualFold(string(s), strings.TrimSpace(v)) {
			return s, true
		}
	}
	return "", false
}

// Booking represents a hall booking record.
type Booking struct {
	ID            string          `json:"id"`
	HallID        int64           `json:"hall_id"`
	MemberID      *int64          `json:"member_id"`             // nil for guest bookings
	BookingDate   Date            `json:"booking_date"`          // midnight in the club location
	SlotFrom      time.Time       `json:"slot_from"`             // booking_date + slot start time
	SlotTo        time.Time       `json:"slot_to"`               // booking_date + slot end time
	Purpose       string          `json:"purpose"`
	IsFullPayment bool            `json:"is_full_payment"`
	Status        Status          `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`

	CancellationReason  *string          `json:"cancellation_reason,omitempty"`
	CancellationDate    *time.Time       `json:"cancellation_date,omitempty"`
	CancellationCharges *decimal.Decimal `json:"cancellation_charges,omitempty"`

	IsRefunded    bool             `json:"is_refunded"`
	RefundAmount  *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundRemarks *string          `json:"refund_remarks,omitempty"`
	RefundedAt    *time.Time       `json:"refunded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.MemberID != nil {
		v := *b.MemberID
		c.MemberID = &v
	}
	c.CancellationReason = cloneString(b.CancellationReason)
	c.CancellationDate = cloneTime(b.CancellationDate)
	c.CancellationCharges = cloneDecimal(b.CancellationCharges)
	c.RefundAmount = cloneDecimal(b.RefundAmount)
	c.RefundRemarks = cloneString(b.RefundRemarks)
	c.RefundedAt = cloneTime(b.RefundedAt)
	return &c
}

// SlotKey returns "HH:MM-HH:MM" for the booked slot, in the slot's own location.
func (b *Booking) SlotKey() string {
	return b.SlotFrom.Format("15:04") + "-" + b.SlotTo.Format("15:04")
}

// RetainedCharges returns the cancellation charges kept by the club, zero if none.
func (b *Booking) RetainedCharges() decimal.Decimal {
	if b.CancellationCharges == nil {
		return decimal.Zero
	}
	return *b.CancellationCharges
}

// RefundEntitlement is the most that can be refunded: total minus retained charges.
func (b *Booking) RefundEntitlement() decimal.Decimal {
	return b.TotalAmount.Sub(b.RetainedCharges())
}

// HasEnded reports whether the booked slot is over at now.
func (b *Booking) HasEnded(now time.Time) bool {
	return !now.Before(b.SlotTo)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

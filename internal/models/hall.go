package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeSlot is a fixed time-of-day interval configured per hall, independent of the calendar date.
type TimeSlot struct {
	StartTime string          `json:"start_time"` // "09:00"
	EndTime   string          `json:"end_time"`   // "12:00"
	Price     decimal.Decimal `json:"price"`
}

// Label returns "HH:MM-HH:MM".
func (s TimeSlot) Label() string {
	return s.StartTime + "-" + s.EndTime
}

// Hall represents a bookable club hall.
type Hall struct {
	ID                       int64           `json:"id"`
	Name                     string          `json:"name"`
	Description              string          `json:"description,omitempty"`
	Capacity                 int             `json:"capacity,omitempty"`
	IsActive                 bool            `json:"is_active"`
	TimeSlots                []TimeSlot      `json:"time_slots"`
	AdvanceBookingPeriodDays int             `json:"advance_booking_period_days"`
	BookingAmount            decimal.Decimal `json:"booking_amount"`
	CleaningCharges          decimal.Decimal `json:"cleaning_charges"`
	RefundableDeposit        decimal.Decimal `json:"refundable_deposit"`
	AdditionalCharges        decimal.Decimal `json:"additional_charges"`
	AdvancePaymentAmount     decimal.Decimal `json:"advance_payment_amount"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// FullAmount is the charge total of the full-payment track.
func (h *Hall) FullAmount() decimal.Decimal {
	return h.BookingAmount.
		Add(h.CleaningCharges).
		Add(h.RefundableDeposit).
		Add(h.AdditionalCharges)
}

// AmountDue returns the total for the chosen payment track.
func (h *Hall) AmountDue(fullPayment bool) decimal.Decimal {
	if fullPayment {
		return h.FullAmount()
	}
	return h.AdvancePaymentAmount
}

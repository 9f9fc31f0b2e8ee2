package booking

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubhall/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func testHall() *models.Hall {
	return &models.Hall{
		ID:       1,
		Name:     "Banquet Hall",
		IsActive: true,
		TimeSlots: []models.TimeSlot{
			{StartTime: "09:00", EndTime: "12:00", Price: decimal.NewFromInt(5000)},
			{StartTime: "14:00", EndTime: "18:00", Price: decimal.NewFromInt(6000)},
		},
		AdvanceBookingPeriodDays: 90,
		BookingAmount:            decimal.NewFromInt(5000),
		CleaningCharges:          decimal.NewFromInt(500),
		RefundableDeposit:        decimal.NewFromInt(2000),
		AdditionalCharges:        decimal.NewFromInt(250),
		AdvancePaymentAmount:     decimal.NewFromInt(1500),
	}
}

func date(t *testing.T, s string) models.Date {
	t.Helper()
	d, err := models.ParseDate(s, time.UTC)
	require.NoError(t, err)
	return d
}

func newTestEngine(policy Policy) (*Engine, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	return NewEngine(policy, clock.Now), clock
}

func morningRequest(t *testing.T) Request {
	return Request{
		HallID:        1,
		BookingDate:   date(t, "2024-04-07"),
		Slot:          models.TimeSlot{StartTime: "09:00", EndTime: "12:00"},
		Purpose:       "Annual general meeting",
		IsFullPayment: true,
	}
}

func TestListAvailableDates_FirstSundayAfterAdvancePeriod(t *testing.T) {
	e, clock := newTestEngine(DefaultPolicy())

	dates := e.ListAvailableDates(testHall(), clock.Now(), 3)
	require.Len(t, dates, 3)
	assert.Equal(t, "2024-04-07", dates[0].String())
	assert.Equal(t, "2024-04-14", dates[1].String())
	assert.Equal(t, "2024-04-21", dates[2].String())
}

func TestListAvailableDates_RespectsAdvanceAndWeekday(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())

	for _, advance := range []int{0, 1, 6, 7, 30, 90, 365} {
		h := testHall()
		h.AdvanceBookingPeriodDays = advance
		effective := e.AdvanceDays(h)

		for offset := 0; offset < 14; offset++ {
			from := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC).AddDate(0, 0, offset)
			minDate := models.NewDate(from).AddDays(effective)

			for _, d := range e.ListAvailableDates(h, from, 5) {
				assert.Equal(t, time.Sunday, d.Weekday(), "advance=%d from=%s", advance, from)
				assert.False(t, d.Before(minDate.Time), "advance=%d from=%s date=%s", advance, from, d)
			}
		}
	}
}

func TestListAvailableDates_DefaultsAdvancePeriod(t *testing.T) {
	e, clock := newTestEngine(DefaultPolicy())
	h := testHall()
	h.AdvanceBookingPeriodDays = 0

	assert.Equal(t, DefaultAdvanceDays, e.AdvanceDays(h))
	assert.Equal(t, "2024-04-07", e.ListAvailableDates(h, clock.Now(), 1)[0].String())
}

func TestListAvailableDates_Deterministic(t *testing.T) {
	e, clock := newTestEngine(DefaultPolicy())
	assert.Equal(t, e.ListAvailableDates(testHall(), clock.Now(), 10), e.ListAvailableDates(testHall(), clock.Now(), 10))
	assert.Empty(t, e.ListAvailableDates(testHall(), clock.Now(), 0))
}

func TestListAvailableSlots(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	h := testHall()
	d := date(t, "2024-04-07")

	existing := []*models.Booking{
		{ID: "a", HallID: 1, BookingDate: d, SlotFrom: d.At(9 * 60), SlotTo: d.At(12 * 60), Status: models.StatusConfirmed},
		{ID: "b", HallID: 1, BookingDate: d, SlotFrom: d.At(14 * 60), SlotTo: d.At(18 * 60), Status: models.StatusCancelled},
	}

	got, err := e.ListAvailableSlots(h, d, existing)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].Available)
	assert.True(t, got[1].Available)
	assert.True(t, decimal.NewFromInt(6000).Equal(got[1].Price))

	assert.Equal(t, models.StatusConfirmed, existing[0].Status)
	assert.Equal(t, models.StatusCancelled, existing[1].Status)
}

func TestCreateBooking_Success(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	member := int64(42)
	req := morningRequest(t)
	req.MemberID = &member

	b, err := e.CreateBooking(req, testHall(), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, "2024-04-07", b.BookingDate.String())
	assert.Equal(t, time.Date(2024, 4, 7, 9, 0, 0, 0, time.UTC), b.SlotFrom)
	assert.Equal(t, time.Date(2024, 4, 7, 12, 0, 0, 0, time.UTC), b.SlotTo)
	assert.Equal(t, int64(42), *b.MemberID)
	assert.Equal(t, "Annual general meeting", b.Purpose)
	assert.Nil(t, b.CancellationReason)
	assert.False(t, b.IsRefunded)
}

func TestCreateBooking_TotalAmount(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	h := testHall()

	req := morningRequest(t)
	req.IsFullPayment = true
	full, err := e.CreateBooking(req, h, nil)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7750).Equal(full.TotalAmount), full.TotalAmount.String())

	req.IsFullPayment = false
	advance, err := e.CreateBooking(req, h, nil)
	require.NoError(t, err)
	assert.True(t, h.AdvancePaymentAmount.Equal(advance.TotalAmount), advance.TotalAmount.String())
}

func TestCreateBooking_PendingWhenNotAutoConfirmed(t *testing.T) {
	policy := DefaultPolicy()
	policy.AutoConfirm = false
	e, _ := newTestEngine(policy)

	b, err := e.CreateBooking(morningRequest(t), testHall(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, b.Status)
}

func TestCreateBooking_Rejections(t *testing.T) {
	d := date(t, "2024-04-07")
	taken := &models.Booking{ID: "taken-1", HallID: 1, BookingDate: d, SlotFrom: d.At(9 * 60), SlotTo: d.At(12 * 60), Status: models.StatusPending}

	tests := []struct {
		name     string
		mutate   func(r *Request, h *models.Hall)
		existing []*models.Booking
		want     error
		msg      string
	}{
		{"blank purpose", func(r *Request, _ *models.Hall) { r.Purpose = "   " }, nil, ErrValidation, "purpose required"},
		{"purpose too long", func(r *Request, _ *models.Hall) { r.Purpose = strings.Repeat("x", 1001) }, nil, ErrValidation, "purpose"},
		{"missing date", func(r *Request, _ *models.Hall) { r.BookingDate = models.Date{} }, nil, ErrValidation, "booking_date required"},
		{"inactive hall", func(_ *Request, h *models.Hall) { h.IsActive = false }, nil, ErrPolicyViolation, "hall not active"},
		{"inside advance period", func(r *Request, _ *models.Hall) { r.BookingDate = date(t, "2024-03-31") }, nil, ErrPolicyViolation, "date not bookable"},
		{"wrong weekday", func(r *Request, _ *models.Hall) { r.BookingDate = date(t, "2024-04-08") }, nil, ErrPolicyViolation, "date not bookable"},
		{"beyond horizon", func(r *Request, _ *models.Hall) { r.BookingDate = date(t, "2026-04-05") }, nil, ErrPolicyViolation, "date not bookable"},
		{"unknown slot", func(r *Request, _ *models.Hall) { r.Slot = models.TimeSlot{StartTime: "10:00", EndTime: "12:00"} }, nil, ErrValidation, "unknown slot"},
		{"malformed slot", func(r *Request, _ *models.Hall) { r.Slot = models.TimeSlot{StartTime: "morning"} }, nil, ErrValidation, "unknown slot"},
		{"hall mismatch", func(r *Request, _ *models.Hall) { r.HallID = 2 }, nil, ErrValidation, "hall_id"},
		{"slot taken", func(*Request, *models.Hall) {}, []*models.Booking{taken}, ErrConflict, "slot already booked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(DefaultPolicy())
			req := morningRequest(t)
			h := testHall()
			tt.mutate(&req, h)

			b, err := e.CreateBooking(req, h, tt.existing)
			require.Error(t, err)
			assert.Nil(t, b)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCreateBooking_PurposeValidatedBeforeDate(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	req := morningRequest(t)
	req.Purpose = ""
	req.BookingDate = date(t, "2024-01-02")

	_, err := e.CreateBooking(req, testHall(), nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateBooking_ConflictCarriesContext(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	h := testHall()

	first, err := e.CreateBooking(morningRequest(t), h, nil)
	require.NoError(t, err)

	_, err = e.CreateBooking(morningRequest(t), h, []*models.Booking{first})
	require.ErrorIs(t, err, ErrConflict)

	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, first.ID, be.ConflictingID)
	assert.Equal(t, int64(1), be.HallID)
	assert.Equal(t, "2024-04-07", be.Date)
	assert.Equal(t, "09:00-12:00", be.Slot)
}

func TestCreateBooking_CancelledSlotCanBeRebooked(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	h := testHall()

	first, err := e.CreateBooking(morningRequest(t), h, nil)
	require.NoError(t, err)
	require.NoError(t, e.CancelBooking(first, "changed plans", decimal.Zero))

	second, err := e.CreateBooking(morningRequest(t), h, []*models.Booking{first})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateBooking_AcceptsUnpaddedSlotTimes(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	req := morningRequest(t)
	req.Slot = models.TimeSlot{StartTime: "9:00", EndTime: "12:00"}

	b, err := e.CreateBooking(req, testHall(), nil)
	require.NoError(t, err)
	assert.Equal(t, "09:00-12:00", b.SlotKey())
}

func TestCancelBooking(t *testing.T) {
	e, clock := newTestEngine(DefaultPolicy())
	b, err := e.CreateBooking(morningRequest(t), testHall(), nil)
	require.NoError(t, err)

	clock.t = clock.t.Add(48 * time.Hour)
	require.NoError(t, e.CancelBooking(b, "  family emergency ", decimal.NewFromInt(750)))

	assert.Equal(t, models.StatusCancelled, b.Status)
	assert.Equal(t, "family emergency", *b.CancellationReason)
	assert.Equal(t, clock.t, *b.CancellationDate)
	assert.True(t, decimal.NewFromInt(750).Equal(*b.CancellationCharges))
	assert.False(t, b.IsRefunded)

	err = e.CancelBooking(b, "again", decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelBooking_InvalidInputLeavesBookingUntouched(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	b, err := e.CreateBooking(morningRequest(t), testHall(), nil)
	require.NoError(t, err)
	before := b.Clone()

	assert.ErrorIs(t, e.CancelBooking(b, "", decimal.Zero), ErrValidation)
	assert.ErrorIs(t, e.CancelBooking(b, "reason", decimal.NewFromInt(-1)), ErrValidation)
	assert.ErrorIs(t, e.CancelBooking(b, "reason", decimal.NewFromInt(100000)), ErrValidation)

	assert.Equal(t, before, b)
}

func TestCancelBooking_CompletedIsInvalidState(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	b := &models.Booking{Status: models.StatusCompleted, TotalAmount: decimal.NewFromInt(10)}
	assert.ErrorIs(t, e.CancelBooking(b, "late", decimal.Zero), ErrInvalidState)
}

func TestRefundBooking(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	b, err := e.CreateBooking(morningRequest(t), testHall(), nil)
	require.NoError(t, err)

	err = e.RefundBooking(b, decimal.NewFromInt(100), "too early")
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, e.CancelBooking(b, "venue change", decimal.NewFromInt(750)))

	err = e.RefundBooking(b, decimal.NewFromInt(7001), "too much")
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "refund exceeds entitlement")
	assert.False(t, b.IsRefunded)

	require.NoError(t, e.RefundBooking(b, decimal.NewFromInt(7000), "refunded by cheque"))
	assert.Equal(t, models.StatusCancelled, b.Status)
	assert.True(t, b.IsRefunded)
	assert.True(t, decimal.NewFromInt(7000).Equal(*b.RefundAmount))
	assert.Equal(t, "refunded by cheque", *b.RefundRemarks)
	assert.NotNil(t, b.RefundedAt)

	assert.ErrorIs(t, e.RefundBooking(b, decimal.NewFromInt(1), "twice"), ErrInvalidState)
}

func TestRefundBooking_NegativeAmount(t *testing.T) {
	e, _ := newTestEngine(DefaultPolicy())
	b, err := e.CreateBooking(morningRequest(t), testHall(), nil)
	require.NoError(t, err)
	require.NoError(t, e.CancelBooking(b, "venue change", decimal.Zero))

	assert.ErrorIs(t, e.RefundBooking(b, decimal.NewFromInt(-5), ""), ErrValidation)
}

func TestConfirmBooking(t *testing.T) {
	policy := DefaultPolicy()
	policy.AutoConfirm = false
	e, _ := newTestEngine(policy)

	b, err := e.CreateBooking(morningRequest(t), testHall(), nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, b.Status)

	require.NoError(t, e.ConfirmBooking(b))
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.ErrorIs(t, e.ConfirmBooking(b), ErrInvalidState)
}

func TestCompleteBooking(t *testing.T) {
	e, clock := newTestEngine(DefaultPolicy())
	b, err := e.CreateBooking(morningRequest(t), testHall(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, e.CompleteBooking(b), ErrInvalidState)
	assert.Equal(t, models.StatusConfirmed, b.Status)

	clock.t = time.Date(2024, 4, 7, 12, 0, 0, 0, time.UTC)
	require.NoError(t, e.CompleteBooking(b))
	assert.Equal(t, models.StatusCompleted, b.Status)

	assert.ErrorIs(t, e.CompleteBooking(b), ErrInvalidState)
	assert.ErrorIs(t, e.CancelBooking(b, "too late", decimal.Zero), ErrInvalidState)
}

func TestEngine_UsesPolicyLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	policy := DefaultPolicy()
	policy.Location = loc
	clock := &fakeClock{t: time.Date(2023, 12, 31, 20, 0, 0, 0, time.UTC)}
	e := NewEngine(policy, clock.Now)

	assert.Equal(t, "2024-01-01", e.Today().String())
	assert.Equal(t, "2024-04-07", e.ListAvailableDates(testHall(), clock.Now(), 1)[0].String())

	b, err := e.CreateBooking(morningRequest(t), testHall(), nil)
	require.NoError(t, err)
	assert.Equal(t, loc, b.SlotFrom.Location())
	assert.Equal(t, 9, b.SlotFrom.Hour())
}

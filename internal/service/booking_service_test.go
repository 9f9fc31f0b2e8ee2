package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clubhall/internal/booking"
	"clubhall/internal/database"
	"clubhall/internal/events"
	"clubhall/internal/models"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetHall(ctx context.Context, id int64) (*models.Hall, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Hall), args.Error(1)
}

func (m *mockRepo) ListHalls(ctx context.Context, activeOnly bool) ([]models.Hall, error) {
	args := m.Called(ctx, activeOnly)
	return args.Get(0).([]models.Hall), args.Error(1)
}

func (m *mockRepo) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockRepo) ListBookingsByHallDate(ctx context.Context, hallID int64, date models.Date) ([]*models.Booking, error) {
	args := m.Called(ctx, hallID, date)
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockRepo) ListActiveBookingsFrom(ctx context.Context, hallID int64, from models.Date) ([]*models.Booking, error) {
	args := m.Called(ctx, hallID, from)
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockRepo) ListActiveBookingsUntil(ctx context.Context, day models.Date, limit int) ([]*models.Booking, error) {
	args := m.Called(ctx, day, limit)
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockRepo) ListBookings(ctx context.Context, f database.BookingFilter) ([]*models.Booking, int, error) {
	args := m.Called(ctx, f)
	return args.Get(0).([]*models.Booking), args.Int(1), args.Error(2)
}

func (m *mockRepo) SaveNewBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockRepo) UpdateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) Publish(e events.Event) { m.Called(e) }

func eventOfType(t string) any {
	return mock.MatchedBy(func(e events.Event) bool { return e.Type == t })
}

var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

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

func mustDate(t *testing.T, s string) models.Date {
	t.Helper()
	d, err := models.ParseDate(s, time.UTC)
	require.NoError(t, err)
	return d
}

func confirmedBooking(t *testing.T, id, day string, fromMin, toMin int) *models.Booking {
	t.Helper()
	d := mustDate(t, day)
	return &models.Booking{
		ID:            id,
		HallID:        1,
		BookingDate:   d,
		SlotFrom:      d.At(fromMin),
		SlotTo:        d.At(toMin),
		Purpose:       "Member dinner",
		IsFullPayment: true,
		Status:        models.StatusConfirmed,
		TotalAmount:   decimal.NewFromInt(7750),
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
		Version:       1,
	}
}

func newTestService(repo Repository, bus EventPublisher) *BookingService {
	logger := zerolog.New(io.Discard)
	engine := booking.NewEngine(booking.DefaultPolicy(), func() time.Time { return testNow })
	return NewBookingService(repo, engine, nil, bus, &logger)
}

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestBookingService_CreateBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and publishes", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		svc := newTestService(repo, bus)

		repo.On("GetHall", ctx, int64(1)).Return(testHall(), nil).Once()
		repo.On("ListBookingsByHallDate", ctx, int64(1), mock.Anything).Return([]*models.Booking{}, nil).Once()
		repo.On("SaveNewBooking", ctx, mock.AnythingOfType("*models.Booking")).Return(nil).Once()
		bus.On("Publish", eventOfType(events.BookingCreated)).Once()

		b, err := svc.CreateBooking(ctx, booking.Request{
			HallID:        1,
			BookingDate:   mustDate(t, "2024-04-07"),
			Slot:          models.TimeSlot{StartTime: "09:00", EndTime: "12:00"},
			Purpose:       "Annual general meeting",
			IsFullPayment: false,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, b.Status)
		assert.True(t, b.TotalAmount.Equal(decimal.NewFromInt(1500)))
		repo.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("storage conflict is reported and not published", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		svc := newTestService(repo, bus)

		repo.On("GetHall", ctx, int64(1)).Return(testHall(), nil).Once()
		repo.On("ListBookingsByHallDate", ctx, int64(1), mock.Anything).Return([]*models.Booking{}, nil).Once()
		repo.On("SaveNewBooking", ctx, mock.Anything).
			Return(&booking.Error{Kind: booking.KindConflict, Msg: "slot already booked", ConflictingID: "other"}).Once()

		_, err := svc.CreateBooking(ctx, booking.Request{
			HallID:      1,
			BookingDate: mustDate(t, "2024-04-07"),
			Slot:        models.TimeSlot{StartTime: "14:00", EndTime: "18:00"},
			Purpose:     "Wedding reception",
		})
		assert.ErrorIs(t, err, booking.ErrConflict)
		bus.AssertNotCalled(t, "Publish", mock.Anything)
	})

	t.Run("engine rejection skips storage", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)

		repo.On("GetHall", ctx, int64(1)).Return(testHall(), nil).Once()
		repo.On("ListBookingsByHallDate", ctx, int64(1), mock.Anything).Return([]*models.Booking{}, nil).Once()

		_, err := svc.CreateBooking(ctx, booking.Request{
			HallID:      1,
			BookingDate: mustDate(t, "2024-01-07"),
			Slot:        models.TimeSlot{StartTime: "09:00", EndTime: "12:00"},
			Purpose:     "Too early",
		})
		assert.ErrorIs(t, err, booking.ErrPolicyViolation)
		repo.AssertNotCalled(t, "SaveNewBooking", mock.Anything, mock.Anything)
	})

	t.Run("unknown hall", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		repo.On("GetHall", ctx, int64(9)).Return(nil, database.ErrHallNotFound).Once()

		_, err := svc.CreateBooking(ctx, booking.Request{HallID: 9, Purpose: "x"})
		assert.ErrorIs(t, err, booking.ErrNotFound)
	})
}

func TestBookingService_UpdateBooking(t *testing.T) {
	ctx := context.Background()
	cancelled := models.StatusCancelled
	yes := true

	t.Run("cancel and refund together", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockEventBus)
		svc := newTestService(repo, bus)

		repo.On("GetBooking", ctx, "b1").Return(confirmedBooking(t, "b1", "2024-04-07", 540, 720), nil).Once()
		repo.On("UpdateBooking", ctx, mock.AnythingOfType("*models.Booking")).Return(nil).Once()
		bus.On("Publish", eventOfType(events.BookingCancelled)).Once()
		bus.On("Publish", eventOfType(events.BookingRefunded)).Once()

		b, err := svc.UpdateBooking(ctx, UpdateRequest{
			ID:                  "b1",
			Status:              &cancelled,
			CancellationReason:  "Event postponed",
			CancellationCharges: decimalPtr(750),
			IsRefunded:          &yes,
			RefundAmount:        decimalPtr(7000),
			RefundRemarks:       "Bank transfer",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, b.Status)
		assert.True(t, b.IsRefunded)
		assert.True(t, b.RefundAmount.Equal(decimal.NewFromInt(7000)))
		repo.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("refund later on a cancelled booking", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)

		b := confirmedBooking(t, "b2", "2024-04-07", 540, 720)
		b.Status = models.StatusCancelled
		b.CancellationCharges = decimalPtr(750)
		repo.On("GetBooking", ctx, "b2").Return(b, nil).Once()
		repo.On("UpdateBooking", ctx, mock.Anything).Return(nil).Once()

		got, err := svc.UpdateBooking(ctx, UpdateRequest{
			ID:           "b2",
			Status:       &cancelled,
			IsRefunded:   &yes,
			RefundAmount: decimalPtr(7000),
		})
		require.NoError(t, err)
		assert.True(t, got.IsRefunded)
	})

	t.Run("refund above entitlement is not stored", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)

		repo.On("GetBooking", ctx, "b3").Return(confirmedBooking(t, "b3", "2024-04-07", 540, 720), nil).Once()

		_, err := svc.UpdateBooking(ctx, UpdateRequest{
			ID:                  "b3",
			Status:              &cancelled,
			CancellationReason:  "Changed plans",
			CancellationCharges: decimalPtr(750),
			IsRefunded:          &yes,
			RefundAmount:        decimalPtr(7001),
		})
		assert.ErrorIs(t, err, booking.ErrValidation)
		repo.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything)
	})

	t.Run("refund without cancellation", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		repo.On("GetBooking", ctx, "b4").Return(confirmedBooking(t, "b4", "2024-04-07", 540, 720), nil).Once()

		_, err := svc.UpdateBooking(ctx, UpdateRequest{ID: "b4", IsRefunded: &yes, RefundAmount: decimalPtr(10)})
		assert.ErrorIs(t, err, booking.ErrInvalidState)
	})

	t.Run("back to pending", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		pending := models.StatusPending
		repo.On("GetBooking", ctx, "b5").Return(confirmedBooking(t, "b5", "2024-04-07", 540, 720), nil).Once()

		_, err := svc.UpdateBooking(ctx, UpdateRequest{ID: "b5", Status: &pending})
		assert.ErrorIs(t, err, booking.ErrInvalidState)
	})

	t.Run("nothing to update", func(t *testing.T) {
		svc := newTestService(new(mockRepo), nil)
		_, err := svc.UpdateBooking(ctx, UpdateRequest{ID: "b6"})
		assert.ErrorIs(t, err, booking.ErrValidation)
	})

	t.Run("lost update", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		completed := models.StatusCompleted
		repo.On("GetBooking", ctx, "b7").Return(confirmedBooking(t, "b7", "2023-12-31", 540, 720), nil).Once()
		repo.On("UpdateBooking", ctx, mock.Anything).Return(database.ErrConcurrentModification).Once()

		_, err := svc.UpdateBooking(ctx, UpdateRequest{ID: "b7", Status: &completed})
		assert.ErrorIs(t, err, booking.ErrConflict)
	})
}

func TestBookingService_ListBookings(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	svc := newTestService(repo, nil)

	repo.On("ListBookings", ctx, database.BookingFilter{HallID: 1, Page: 1, Limit: 100}).
		Return([]*models.Booking{}, 250, nil).Once()

	page, err := svc.ListBookings(ctx, database.BookingFilter{HallID: 1, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, page.Limit)
	assert.Equal(t, 3, page.TotalPages)
	assert.NotNil(t, page.Items)
}

func TestBookingService_AvailableDates(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	svc := newTestService(repo, nil)
	repo.On("GetHall", ctx, int64(1)).Return(testHall(), nil)

	dates, err := svc.AvailableDates(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, dates, booking.DefaultHorizon)
	assert.Equal(t, "2024-04-07", dates[0].String())

	dates, err = svc.AvailableDates(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "2024-04-14", dates[1].String())
}

func TestBookingService_CompleteEnded(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	bus := new(mockEventBus)
	svc := newTestService(repo, bus)

	ended := confirmedBooking(t, "old", "2023-12-31", 540, 720)
	running := confirmedBooking(t, "today", "2024-01-01", 840, 1080)
	raced := confirmedBooking(t, "raced", "2023-12-31", 840, 1080)

	repo.On("ListActiveBookingsUntil", ctx, mock.Anything, 50).
		Return([]*models.Booking{ended, running, raced}, nil).Once()
	repo.On("UpdateBooking", ctx, mock.MatchedBy(func(b *models.Booking) bool { return b.ID == "old" })).Return(nil).Once()
	repo.On("UpdateBooking", ctx, mock.MatchedBy(func(b *models.Booking) bool { return b.ID == "raced" })).
		Return(database.ErrConcurrentModification).Once()
	bus.On("Publish", eventOfType(events.BookingCompleted)).Once()

	n, err := svc.CompleteEnded(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusCompleted, ended.Status)
	assert.Equal(t, models.StatusConfirmed, running.Status)
	repo.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestBookingService_CompleteEndedStorageError(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	svc := newTestService(repo, nil)

	repo.On("ListActiveBookingsUntil", ctx, mock.Anything, 10).
		Return([]*models.Booking{confirmedBooking(t, "old", "2023-12-31", 540, 720)}, nil).Once()
	repo.On("UpdateBooking", ctx, mock.Anything).Return(errors.New("disk I/O error")).Once()

	n, err := svc.CompleteEnded(ctx, 10)
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"clubhall/internal/booking"
	"clubhall/internal/cache"
	"clubhall/internal/database"
	"clubhall/internal/events"
	"clubhall/internal/metrics"
	"clubhall/internal/models"
	"clubhall/internal/slots"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Repository is the storage the service needs; *database.DB implements it.
type Repository interface {
	GetHall(ctx context.Context, id int64) (*models.Hall, error)
	ListHalls(ctx context.Context, activeOnly bool) ([]models.Hall, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookingsByHallDate(ctx context.Context, hallID int64, date models.Date) ([]*models.Booking, error)
	ListActiveBookingsFrom(ctx context.Context, hallID int64, from models.Date) ([]*models.Booking, error)
	ListActiveBookingsUntil(ctx context.Context, day models.Date, limit int) ([]*models.Booking, error)
	ListBookings(ctx context.Context, f database.BookingFilter) ([]*models.Booking, int, error)
	SaveNewBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, b *models.Booking) error
}

// Cache stores derived read views; *cache.Cache implements it.
type Cache interface {
	Get(ctx context.Context, key string, out any) bool
	Set(ctx context.Context, key string, val any)
	Generation(ctx context.Context, key string) (int64, bool)
	Bump(ctx context.Context, key string) error
}

type EventPublisher interface {
	Publish(event events.Event)
}

// UpdateRequest carries the changes of a PUT/PATCH on a booking. A nil field is
// left untouched.
type UpdateRequest struct {
	ID                  string
	Status              *models.Status
	CancellationReason  string
	CancellationCharges *decimal.Decimal
	IsRefunded          *bool
	RefundAmount        *decimal.Decimal
	RefundRemarks       string
}

// Page is one page of a booking listing.
type Page struct {
	Items      []*models.Booking `json:"items"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	Total      int               `json:"total"`
	TotalPages int               `json:"total_pages"`
}

// BookedSlot is a held slot in the booked-dates view.
type BookedSlot struct {
	SlotFrom  time.Time `json:"slot_from"`
	SlotTo    time.Time `json:"slot_to"`
	BookingID string    `json:"booking_id"`
}

type BookedDate struct {
	BookingDate models.Date  `json:"booking_date"`
	FullyBooked bool         `json:"fully_booked"`
	Slots       []BookedSlot `json:"slots"`
}

// BookedDates lists upcoming dates on which a hall has active bookings.
type BookedDates struct {
	HallID int64        `json:"hall_id"`
	AsOf   string       `json:"as_of"`
	Dates  []BookedDate `json:"dates"`
}

// BookingService orchestrates hall lookup, the booking engine and persistence.
type BookingService struct {
	repo   Repository
	engine *booking.Engine
	cache  Cache
	events EventPublisher
	logger *zerolog.Logger
}

func NewBookingService(repo Repository, engine *booking.Engine, c Cache, bus EventPublisher, logger *zerolog.Logger) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if c == nil {
		c = (*cache.Cache)(nil)
	}
	return &BookingService{
		repo:   repo,
		engine: engine,
		cache:  c,
		events: bus,
		logger: logger,
	}
}

// Engine exposes the engine for callers that need the policy or clock.
func (s *BookingService) Engine() *booking.Engine {
	return s.engine
}

func (s *BookingService) ListHalls(ctx context.Context) ([]models.Hall, error) {
	return s.repo.ListHalls(ctx, true)
}

func (s *BookingService) GetHall(ctx context.Context, id int64) (*models.Hall, error) {
	return s.repo.GetHall(ctx, id)
}

// AvailableDates returns the next count bookable dates of a hall. count <= 0
// means the policy horizon.
func (s *BookingService) AvailableDates(ctx context.Context, hallID int64, count int) ([]models.Date, error) {
	hall, err := s.repo.GetHall(ctx, hallID)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = s.engine.Policy().Horizon
	}
	return s.engine.ListAvailableDates(hall, s.engine.Now(), count), nil
}

func (s *BookingService) AvailableSlots(ctx context.Context, hallID int64, date models.Date) ([]slots.SlotInfo, error) {
	hall, err := s.repo.GetHall(ctx, hallID)
	if err != nil {
		return nil, err
	}
	date = s.engine.Anchor(date)
	existing, err := s.repo.ListBookingsByHallDate(ctx, hall.ID, date)
	if err != nil {
		return nil, err
	}
	list, err := s.engine.ListAvailableSlots(hall, date, existing)
	if err != nil {
		return nil, err
	}
	return slots.ToSlotInfo(list), nil
}

// CreateBooking validates req with the engine and stores the result.
func (s *BookingService) CreateBooking(ctx context.Context, req booking.Request) (*models.Booking, error) {
	start := time.Now()
	defer metrics.ObserveEngine("create", start)

	hall, err := s.repo.GetHall(ctx, req.HallID)
	if err != nil {
		return nil, s.reject(err, "create", req.HallID)
	}

	date := s.engine.Anchor(req.BookingDate)
	var existing []*models.Booking
	if !req.BookingDate.IsZero() {
		existing, err = s.repo.ListBookingsByHallDate(ctx, hall.ID, date)
		if err != nil {
			return nil, err
		}
	}

	b, err := s.engine.CreateBooking(req, hall, existing)
	if err != nil {
		return nil, s.reject(err, "create", hall.ID)
	}

	if err := s.repo.SaveNewBooking(ctx, b); err != nil {
		return nil, s.reject(err, "create", hall.ID)
	}

	s.invalidate(ctx, b.HallID)
	metrics.IncBookingCreated(string(b.Status))
	s.publish(events.BookingCreated, b)

	s.logger.Info().
		Str("booking_id", b.ID).
		Int64("hall_id", b.HallID).
		Str("date", b.BookingDate.String()).
		Str("slot", b.SlotKey()).
		Str("status", string(b.Status)).
		Msg("booking created")
	return b, nil
}

// UpdateBooking applies the requested status change, cancellation and refund.
// A cancellation in the same request is applied before the refund.
func (s *BookingService) UpdateBooking(ctx context.Context, req UpdateRequest) (*models.Booking, error) {
	start := time.Now()
	defer metrics.ObserveEngine("update", start)

	if strings.TrimSpace(req.ID) == "" {
		return nil, booking.NewError(booking.KindValidation, "id required")
	}
	refund := req.IsRefunded != nil && *req.IsRefunded
	if req.Status == nil && !refund {
		return nil, booking.NewError(booking.KindValidation, "nothing to update")
	}

	b, err := s.repo.GetBooking(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	var applied []string
	if req.Status != nil {
		action, err := s.applyStatus(b, req, refund)
		if err != nil {
			return nil, s.reject(err, "update", b.HallID)
		}
		if action != "" {
			applied = append(applied, action)
		}
	}

	if refund {
		if req.RefundAmount == nil {
			return nil, s.reject(booking.NewError(booking.KindValidation, "refund_amount required"), "update", b.HallID)
		}
		if err := s.engine.RefundBooking(b, *req.RefundAmount, req.RefundRemarks); err != nil {
			return nil, s.reject(err, "update", b.HallID)
		}
		applied = append(applied, events.BookingRefunded)
	}

	if err := s.repo.UpdateBooking(ctx, b); err != nil {
		return nil, s.reject(err, "update", b.HallID)
	}

	s.invalidate(ctx, b.HallID)
	for _, eventType := range applied {
		metrics.IncTransition(strings.TrimPrefix(eventType, "booking."))
		s.publish(eventType, b)
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Strs("actions", applied).
		Str("status", string(b.Status)).
		Bool("is_refunded", b.IsRefunded).
		Msg("booking updated")
	return b, nil
}

// applyStatus returns the event type of the transition it made, or "" when the
// booking is already cancelled and the request only carries a refund.
func (s *BookingService) applyStatus(b *models.Booking, req UpdateRequest, refund bool) (string, error) {
	switch *req.Status {
	case models.StatusCancelled:
		if b.Status == models.StatusCancelled && refund {
			return "", nil
		}
		charges := decimal.Zero
		if req.CancellationCharges != nil {
			charges = *req.CancellationCharges
		}
		if err := s.engine.CancelBooking(b, req.CancellationReason, charges); err != nil {
			return "", err
		}
		return events.BookingCancelled, nil
	case models.StatusConfirmed:
		if err := s.engine.ConfirmBooking(b); err != nil {
			return "", err
		}
		return events.BookingConfirmed, nil
	case models.StatusCompleted:
		if err := s.engine.CompleteBooking(b); err != nil {
			return "", err
		}
		return events.BookingCompleted, nil
	default:
		return "", &booking.Error{
			Kind:   booking.KindInvalidState,
			Msg:    fmt.Sprintf("cannot move booking from %s to %s", b.Status, *req.Status),
			HallID: b.HallID,
			Date:   b.BookingDate.String(),
			Slot:   b.SlotKey(),
		}
	}
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// ListBookings returns one page of bookings. Page is 1-based; limit defaults
// to 20 and is capped at 100.
func (s *BookingService) ListBookings(ctx context.Context, f database.BookingFilter) (*Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	items, total, err := s.repo.ListBookings(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.Booking{}
	}
	return &Page{
		Items:      items,
		Page:       f.Page,
		Limit:      f.Limit,
		Total:      total,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}, nil
}

// BookedDates returns the hall's dates from today on that hold active bookings.
// The view is cached until the next booking write on the hall or the end of the day.
func (s *BookingService) BookedDates(ctx context.Context, hallID int64) (*BookedDates, error) {
	today := s.engine.Today()

	// Read before the bookings: a write from here on bumps the generation and
	// leaves the view below under a key no later reader asks for.
	gen, cacheable := s.cache.Generation(ctx, cache.BookedDatesGenKey(hallID))
	key := cache.BookedDatesKey(hallID, gen)

	var cached BookedDates
	if cacheable && s.cache.Get(ctx, key, &cached) && cached.AsOf == today.String() {
		return &cached, nil
	}

	hall, err := s.repo.GetHall(ctx, hallID)
	if err != nil {
		return nil, err
	}
	active, err := s.repo.ListActiveBookingsFrom(ctx, hall.ID, today)
	if err != nil {
		return nil, err
	}

	view := &BookedDates{HallID: hall.ID, AsOf: today.String(), Dates: []BookedDate{}}
	byDate := make(map[string][]*models.Booking)
	var order []models.Date
	for _, b := range active {
		k := b.BookingDate.String()
		if _, ok := byDate[k]; !ok {
			order = append(order, b.BookingDate)
		}
		byDate[k] = append(byDate[k], b)
	}

	for _, d := range order {
		held := byDate[d.String()]
		entry := BookedDate{BookingDate: d, Slots: make([]BookedSlot, 0, len(held))}
		for _, b := range held {
			entry.Slots = append(entry.Slots, BookedSlot{SlotFrom: b.SlotFrom, SlotTo: b.SlotTo, BookingID: b.ID})
		}
		if list, err := s.engine.ListAvailableSlots(hall, d, held); err == nil {
			entry.FullyBooked = len(slots.GetAvailableSlots(list)) == 0
		}
		view.Dates = append(view.Dates, entry)
	}

	if cacheable {
		s.cache.Set(ctx, key, view)
	}
	return view, nil
}

// CompleteEnded moves active bookings whose slot has ended to Completed and
// returns how many were completed. Bookings changed concurrently are skipped.
func (s *BookingService) CompleteEnded(ctx context.Context, limit int) (int, error) {
	now := s.engine.Now()
	due, err := s.repo.ListActiveBookingsUntil(ctx, s.engine.Today(), limit)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, b := range due {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		if !b.HasEnded(now) {
			continue
		}
		if err := s.engine.CompleteBooking(b); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("cannot complete booking")
			continue
		}
		if err := s.repo.UpdateBooking(ctx, b); err != nil {
			if errors.Is(err, database.ErrConcurrentModification) || errors.Is(err, booking.ErrNotFound) {
				s.logger.Debug().Str("booking_id", b.ID).Msg("booking changed before completion")
				continue
			}
			return completed, err
		}
		completed++
		s.invalidate(ctx, b.HallID)
		metrics.IncTransition("completed")
		s.publish(events.BookingCompleted, b)
	}
	return completed, nil
}

func (s *BookingService) invalidate(ctx context.Context, hallID int64) {
	if err := s.cache.Bump(ctx, cache.BookedDatesGenKey(hallID)); err != nil {
		s.logger.Warn().Err(err).Int64("hall_id", hallID).Msg("failed to invalidate booked dates")
	}
}

func (s *BookingService) publish(eventType string, b *models.Booking) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{Type: eventType, Booking: b.Clone(), CreatedAt: time.Now()})
}

// reject counts and logs an engine or storage rejection and returns err.
func (s *BookingService) reject(err error, op string, hallID int64) error {
	kind := booking.KindOf(err)
	if kind == "" {
		s.logger.Error().Err(err).Str("op", op).Int64("hall_id", hallID).Msg("booking operation failed")
		return err
	}
	metrics.IncRejected(string(kind))
	ev := s.logger.Info()
	if kind == booking.KindConflict {
		ev = s.logger.Warn()
	}
	ev.Err(err).Str("op", op).Int64("hall_id", hallID).Str("kind", string(kind)).Msg("booking rejected")
	return err
}

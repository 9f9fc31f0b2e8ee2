package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"clubhall/internal/booking"
	"clubhall/internal/database"
	"clubhall/internal/models"
	"clubhall/internal/report"
	"clubhall/internal/service"
)

const (
	maxBodyBytes   = 64 << 10
	maxDatesCount  = 520
	xlsxMediaType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	dateTimeLayout = time.RFC3339
)

// Exporter renders a month of bookings as a workbook.
type Exporter interface {
	Export(ctx context.Context, month time.Time, w io.Writer) (int, error)
}

// SlotRequest names a configured hall slot by its bounds.
type SlotRequest struct {
	StartTime string `json:"start_time"` // "09:00"
	EndTime   string `json:"end_time"`   // "12:00"
}

// CreateBookingRequest is the body of POST /halls/hall-booking. The slot is
// given either as slot or as slot_from/slot_to ("HH:MM" or RFC 3339).
type CreateBookingRequest struct {
	HallID        int64        `json:"hall_id"`
	MemberID      *int64       `json:"member_id,omitempty"`
	BookingDate   string       `json:"booking_date"` // YYYY-MM-DD
	Slot          *SlotRequest `json:"slot,omitempty"`
	SlotFrom      string       `json:"slot_from,omitempty"`
	SlotTo        string       `json:"slot_to,omitempty"`
	Purpose       string       `json:"purpose"`
	IsFullPayment bool         `json:"is_full_payment"`
}

// UpdateBookingRequest is the body of PUT/PATCH /halls/hall-booking.
type UpdateBookingRequest struct {
	ID                  string           `json:"id"`
	Status              *string          `json:"status,omitempty"`
	CancellationReason  string           `json:"cancellation_reason,omitempty"`
	CancellationCharges *decimal.Decimal `json:"cancellation_charges,omitempty"`
	IsRefunded          *bool            `json:"is_refunded,omitempty"`
	RefundAmount        *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundRemarks       string           `json:"refund_remarks,omitempty"`
}

// AvailableDatesResponse is the body of GET /halls/available-dates.
type AvailableDatesResponse struct {
	HallID int64         `json:"hall_id"`
	Dates  []models.Date `json:"dates"`
}

// handleHalls lists the active hall catalogue.
// GET /halls
func (s *HTTPServer) handleHalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	halls, err := s.svc.ListHalls(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if halls == nil {
		halls = []models.Hall{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"halls": halls})
}

// handleBooking serves a single booking.
// GET ?id=, POST creates, PUT/PATCH updates.
func (s *HTTPServer) handleBooking(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getBooking(w, r)
	case http.MethodPost:
		s.createBooking(w, r)
	case http.MethodPut, http.MethodPatch:
		s.updateBooking(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *HTTPServer) getBooking(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), "id is required")
		return
	}
	b, err := s.svc.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), "invalid JSON body")
		return
	}

	in := booking.Request{
		HallID:        req.HallID,
		MemberID:      req.MemberID,
		Purpose:       req.Purpose,
		IsFullPayment: req.IsFullPayment,
	}
	if req.BookingDate != "" {
		d, err := s.parseDate(req.BookingDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
			return
		}
		in.BookingDate = d
	}
	if req.Slot != nil {
		in.Slot = models.TimeSlot{StartTime: req.Slot.StartTime, EndTime: req.Slot.EndTime}
	} else {
		in.Slot = models.TimeSlot{StartTime: clockOf(req.SlotFrom), EndTime: clockOf(req.SlotTo)}
	}

	b, err := s.svc.CreateBooking(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) updateBooking(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), "invalid JSON body")
		return
	}

	in := service.UpdateRequest{
		ID:                  strings.TrimSpace(req.ID),
		CancellationReason:  req.CancellationReason,
		CancellationCharges: req.CancellationCharges,
		IsRefunded:          req.IsRefunded,
		RefundAmount:        req.RefundAmount,
		RefundRemarks:       req.RefundRemarks,
	}
	if req.Status != nil {
		st, ok := models.ParseStatus(*req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, string(booking.KindValidation), fmt.Sprintf("unknown status %q", *req.Status))
			return
		}
		in.Status = &st
	}

	b, err := s.svc.UpdateBooking(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleListBookings returns a filtered page of bookings.
// GET /halls/hall-booking/list?hall_id=&member_id=&status=&search=&from=&to=&page=&limit=
func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	q := r.URL.Query()
	var f database.BookingFilter
	var err error

	if f.HallID, err = int64Param(q.Get("hall_id"), "hall_id"); err != nil {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
		return
	}
	if f.MemberID, err = int64Param(q.Get("member_id"), "member_id"); err != nil {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
		return
	}
	if v := q.Get("status"); v != "" {
		st, ok := models.ParseStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, string(booking.KindValidation), fmt.Sprintf("unknown status %q", v))
			return
		}
		f.Status = st
	}
	f.Search = q.Get("search")
	for name, dst := range map[string]*models.Date{"from": &f.From, "to": &f.To} {
		if v := q.Get(name); v != "" {
			d, err := s.parseDate(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, string(booking.KindValidation), name+": "+err.Error())
				return
			}
			*dst = d
		}
	}
	page, err := int64Param(q.Get("page"), "page")
	if err != nil {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
		return
	}
	limit, err := int64Param(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
		return
	}
	f.Page, f.Limit = int(page), int(limit)

	result, err := s.svc.ListBookings(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleBookedDates returns upcoming dates with active bookings for a hall.
// GET /halls/get-booked-halls-dates?hall_id=
func (s *HTTPServer) handleBookedDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	hallID, ok := requiredHallID(w, r)
	if !ok {
		return
	}
	view, err := s.svc.BookedDates(r.Context(), hallID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleAvailableDates returns the next bookable dates of a hall.
// GET /halls/available-dates?hall_id=&count=
func (s *HTTPServer) handleAvailableDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	hallID, ok := requiredHallID(w, r)
	if !ok {
		return
	}
	count, err := int64Param(r.URL.Query().Get("count"), "count")
	if err != nil || count > maxDatesCount {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), fmt.Sprintf("count must be between 1 and %d", maxDatesCount))
		return
	}

	dates, err := s.svc.AvailableDates(r.Context(), hallID, int(count))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if dates == nil {
		dates = []models.Date{}
	}
	writeJSON(w, http.StatusOK, AvailableDatesResponse{HallID: hallID, Dates: dates})
}

// handleAvailableSlots returns every slot of a hall on a date with its availability.
// GET /halls/available-slots?hall_id=&date=YYYY-MM-DD
func (s *HTTPServer) handleAvailableSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	hallID, ok := requiredHallID(w, r)
	if !ok {
		return
	}
	v := r.URL.Query().Get("date")
	if v == "" {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), "date is required")
		return
	}
	date, err := s.parseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
		return
	}

	infos, err := s.svc.AvailableSlots(r.Context(), hallID, date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleExport streams the monthly booking workbook.
// GET /halls/hall-booking/export?month=YYYY-MM
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusNotFound, string(booking.KindNotFound), "export is not enabled")
		return
	}

	v := r.URL.Query().Get("month")
	if v == "" {
		v = s.svc.Engine().Today().Format("2006-01")
	}
	month, err := report.ParseMonth(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
		return
	}

	var buf bytes.Buffer
	if _, err := s.exporter.Export(r.Context(), month, &buf); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxMediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(month)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp, whose calendar day is used.
func (s *HTTPServer) parseDate(v string) (models.Date, error) {
	loc := s.svc.Engine().Policy().Location
	v = strings.TrimSpace(v)
	if d, err := models.ParseDate(v, loc); err == nil {
		return d, nil
	}
	if t, err := time.Parse(dateTimeLayout, v); err == nil {
		return models.ParseDate(t.Format(models.DateLayout), loc)
	}
	return models.Date{}, fmt.Errorf("invalid date %q; expected YYYY-MM-DD", v)
}

// clockOf reduces an RFC 3339 timestamp to "HH:MM" and passes anything else through.
func clockOf(v string) string {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(dateTimeLayout, v); err == nil {
		return t.Format("15:04")
	}
	return v
}

// int64Param parses an optional positive integer; empty yields 0.
func int64Param(v, name string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func requiredHallID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v := r.URL.Query().Get("hall_id")
	if v == "" {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), "hall_id is required")
		return 0, false
	}
	id, err := int64Param(v, "hall_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
		return 0, false
	}
	return id, true
}

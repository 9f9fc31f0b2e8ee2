package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"clubhall/internal/booking"
	"clubhall/internal/models"
)

const bookingColumns = `id, hall_id, member_id, booking_date, slot_from, slot_to, purpose,
	is_full_payment, status, total_amount, cancellation_reason, cancellation_date,
	cancellation_charges, is_refunded, refund_amount, refund_remarks, refunded_at,
	created_at, updated_at, version`

// activeStatusSQL renders models.ActiveStatuses as an SQL list.
var activeStatusSQL = func() string {
	quoted := make([]string, len(models.ActiveStatuses))
	for i, st := range models.ActiveStatuses {
		quoted[i] = "'" + string(st) + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}()

// BookingFilter narrows ListBookings. Zero values mean no filter.
type BookingFilter struct {
	HallID   int64
	MemberID int64
	Status   models.Status
	Search   string
	From     models.Date
	To       models.Date
	Page     int
	Limit    int
}

// SaveNewBooking inserts b after re-checking, inside the same transaction, that
// no active booking holds its hall, date and slot. A duplicate caught by the
// unique index is reported the same way.
func (db *DB) SaveNewBooking(ctx context.Context, b *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM hall_bookings
		WHERE hall_id = ? AND booking_date = ? AND slot_key = ?
		AND status IN `+activeStatusSQL+`
		LIMIT 1`,
		b.HallID, b.BookingDate, b.SlotKey(),
	).Scan(&existingID)
	if err == nil {
		return slotConflict(b, existingID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check slot: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO hall_bookings (`+bookingColumns+`, slot_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append(bookingArgs(b), b.SlotKey())...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return slotConflict(b, "")
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return slotConflict(b, "")
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateBooking writes the mutable fields of b if nobody changed the row since
// b was read, and bumps b.Version.
func (db *DB) UpdateBooking(ctx context.Context, b *models.Booking) error {
	args := []any{
		b.Status, nullString(b.CancellationReason), nullTime(b.CancellationDate),
		nullDecimal(b.CancellationCharges), b.IsRefunded, nullDecimal(b.RefundAmount),
		nullString(b.RefundRemarks), nullTime(b.RefundedAt), formatTime(b.UpdatedAt),
		b.ID, b.Version,
	}
	res, err := db.ExecContext(ctx, `
		UPDATE hall_bookings SET
			status = ?, cancellation_reason = ?, cancellation_date = ?,
			cancellation_charges = ?, is_refunded = ?, refund_amount = ?,
			refund_remarks = ?, refunded_at = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return slotConflict(b, "")
		}
		return fmt.Errorf("update booking %s: %w", b.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM hall_bookings WHERE id = ?`, b.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBookingNotFound
		}
		if err != nil {
			return fmt.Errorf("check booking %s: %w", b.ID, err)
		}
		return ErrConcurrentModification
	}

	b.Version++
	return nil
}

// GetBooking returns a booking by id.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM hall_bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

// ListBookingsByHallDate returns the bookings of a hall on one date, any status.
func (db *DB) ListBookingsByHallDate(ctx context.Context, hallID int64, date models.Date) ([]*models.Booking, error) {
	return db.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM hall_bookings
		WHERE hall_id = ? AND booking_date = ? ORDER BY slot_from`, hallID, date)
}

// ListActiveBookingsFrom returns Pending and Confirmed bookings of a hall on or after from.
func (db *DB) ListActiveBookingsFrom(ctx context.Context, hallID int64, from models.Date) ([]*models.Booking, error) {
	return db.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM hall_bookings
		WHERE hall_id = ? AND booking_date >= ? AND status IN `+activeStatusSQL+`
		ORDER BY booking_date, slot_from`, hallID, from)
}

// ListActiveBookingsUntil returns active bookings dated on or before day, oldest first.
func (db *DB) ListActiveBookingsUntil(ctx context.Context, day models.Date, limit int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM hall_bookings
		WHERE booking_date <= ? AND status IN `+activeStatusSQL+`
		ORDER BY booking_date, slot_from LIMIT ?`, day, limit)
}

// ListBookingsBetween returns bookings with from <= booking_date <= to, any status.
func (db *DB) ListBookingsBetween(ctx context.Context, from, to models.Date) ([]*models.Booking, error) {
	return db.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM hall_bookings
		WHERE booking_date >= ? AND booking_date <= ?
		ORDER BY booking_date, hall_id, slot_from`, from, to)
}

// ListBookings returns one page of bookings matching f and the total match count.
func (db *DB) ListBookings(ctx context.Context, f BookingFilter) ([]*models.Booking, int, error) {
	var where []string
	var args []any

	if f.HallID != 0 {
		where = append(where, "hall_id = ?")
		args = append(args, f.HallID)
	}
	if f.MemberID != 0 {
		where = append(where, "member_id = ?")
		args = append(args, f.MemberID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "purpose LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(s)+"%")
	}
	if !f.From.IsZero() {
		where = append(where, "booking_date >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "booking_date <= ?")
		args = append(args, f.To)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hall_bookings`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	pageArgs := append(append([]any{}, args...), limit, (page-1)*limit)
	items, err := db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM hall_bookings`+clause+`
		ORDER BY booking_date DESC, slot_from, id LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var member sql.NullInt64
	var slotFrom, slotTo, createdAt, updatedAt string
	var cancelReason, refundRemarks, cancelDate, refundedAt sql.NullString
	var cancelCharges, refundAmount decimal.NullDecimal

	err := row.Scan(
		&b.ID, &b.HallID, &member, &b.BookingDate, &slotFrom, &slotTo, &b.Purpose,
		&b.IsFullPayment, &b.Status, &b.TotalAmount, &cancelReason, &cancelDate,
		&cancelCharges, &b.IsRefunded, &refundAmount, &refundRemarks, &refundedAt,
		&createdAt, &updatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	if member.Valid {
		v := member.Int64
		b.MemberID = &v
	}
	if b.SlotFrom, err = parseTime(slotFrom); err != nil {
		return nil, err
	}
	if b.SlotTo, err = parseTime(slotTo); err != nil {
		return nil, err
	}
	// Keep booking_date in the same location as the slot times.
	b.BookingDate = models.Date{Time: time.Date(b.BookingDate.Year(), b.BookingDate.Month(), b.BookingDate.Day(), 0, 0, 0, 0, b.SlotFrom.Location())}

	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if b.CancellationDate, err = scanNullTime(cancelDate); err != nil {
		return nil, err
	}
	if b.RefundedAt, err = scanNullTime(refundedAt); err != nil {
		return nil, err
	}
	if cancelReason.Valid {
		v := cancelReason.String
		b.CancellationReason = &v
	}
	if refundRemarks.Valid {
		v := refundRemarks.String
		b.RefundRemarks = &v
	}
	if cancelCharges.Valid {
		v := cancelCharges.Decimal
		b.CancellationCharges = &v
	}
	if refundAmount.Valid {
		v := refundAmount.Decimal
		b.RefundAmount = &v
	}
	return &b, nil
}

func bookingArgs(b *models.Booking) []any {
	var member sql.NullInt64
	if b.MemberID != nil {
		member = sql.NullInt64{Int64: *b.MemberID, Valid: true}
	}
	return []any{
		b.ID, b.HallID, member, b.BookingDate, formatTime(b.SlotFrom), formatTime(b.SlotTo), b.Purpose,
		b.IsFullPayment, b.Status, b.TotalAmount, nullString(b.CancellationReason), nullTime(b.CancellationDate),
		nullDecimal(b.CancellationCharges), b.IsRefunded, nullDecimal(b.RefundAmount), nullString(b.RefundRemarks),
		nullTime(b.RefundedAt), formatTime(b.CreatedAt), formatTime(b.UpdatedAt), b.Version,
	}
}

func slotConflict(b *models.Booking, conflictingID string) error {
	return &booking.Error{
		Kind:          booking.KindConflict,
		Msg:           "slot already booked",
		HallID:        b.HallID,
		Date:          b.BookingDate.String(),
		Slot:          b.SlotKey(),
		ConflictingID: conflictingID,
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

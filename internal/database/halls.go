package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clubhall/internal/config"
	"clubhall/internal/models"
)

// SyncHallsFromConfig applies halls.yaml to the database.
// It upserts halls, replaces their time slots, and marks missing halls inactive.
// Bookings of a deactivated hall are kept.
func (db *DB) SyncHallsFromConfig(ctx context.Context, cfg *config.HallsConfig) error {
	if cfg == nil {
		return fmt.Errorf("halls config is nil")
	}
	halls, err := cfg.ToModels()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	seen := make(map[int64]struct{}, len(halls))

	for _, h := range halls {
		// Preserve created_at if the hall already exists.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO halls (
				id, name, description, capacity, is_active, advance_booking_period_days,
				booking_amount, cleaning_charges, refundable_deposit, additional_charges,
				advance_payment_amount, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				capacity = excluded.capacity,
				is_active = excluded.is_active,
				advance_booking_period_days = excluded.advance_booking_period_days,
				booking_amount = excluded.booking_amount,
				cleaning_charges = excluded.cleaning_charges,
				refundable_deposit = excluded.refundable_deposit,
				additional_charges = excluded.additional_charges,
				advance_payment_amount = excluded.advance_payment_amount,
				updated_at = excluded.updated_at`,
			h.ID, h.Name, h.Description, h.Capacity, h.IsActive, h.AdvanceBookingPeriodDays,
			h.BookingAmount, h.CleaningCharges, h.RefundableDeposit, h.AdditionalCharges,
			h.AdvancePaymentAmount, now, now,
		)
		if err != nil {
			return fmt.Errorf("sync hall %d: %w", h.ID, err)
		}
		seen[h.ID] = struct{}{}

		if _, err := tx.ExecContext(ctx, `DELETE FROM hall_time_slots WHERE hall_id = ?`, h.ID); err != nil {
			return fmt.Errorf("sync hall %d slots: %w", h.ID, err)
		}
		for pos, s := range h.TimeSlots {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO hall_time_slots (hall_id, position, start_time, end_time, price)
				VALUES (?, ?, ?, ?, ?)`,
				h.ID, pos, s.StartTime, s.EndTime, s.Price,
			); err != nil {
				return fmt.Errorf("sync hall %d slot %s: %w", h.ID, s.Label(), err)
			}
		}
	}

	// Deactivate halls that disappeared from config.
	rows, err := tx.QueryContext(ctx, `SELECT id FROM halls WHERE is_active = 1`)
	if err != nil {
		return err
	}
	var missing []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range missing {
		if _, err := tx.ExecContext(ctx, `UPDATE halls SET is_active = 0, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("deactivate hall %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	db.logger.Info().Int("halls", len(halls)).Int("deactivated", len(missing)).Msg("Halls synced from config")
	return nil
}

const hallColumns = `id, name, COALESCE(description, ''), capacity, is_active, advance_booking_period_days,
	booking_amount, cleaning_charges, refundable_deposit, additional_charges, advance_payment_amount,
	created_at, updated_at`

// GetHall returns a hall with its time slots.
func (db *DB) GetHall(ctx context.Context, id int64) (*models.Hall, error) {
	row := db.QueryRowContext(ctx, `SELECT `+hallColumns+` FROM halls WHERE id = ?`, id)
	h, err := scanHall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hall %d: %w", id, err)
	}

	if h.TimeSlots, err = db.hallSlots(ctx, id); err != nil {
		return nil, err
	}
	return h, nil
}

// ListHalls returns halls ordered by id.
func (db *DB) ListHalls(ctx context.Context, activeOnly bool) ([]models.Hall, error) {
	query := `SELECT ` + hallColumns + ` FROM halls`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list halls: %w", err)
	}
	defer rows.Close()

	var halls []models.Hall
	for rows.Next() {
		h, err := scanHall(rows)
		if err != nil {
			return nil, err
		}
		halls = append(halls, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range halls {
		if halls[i].TimeSlots, err = db.hallSlots(ctx, halls[i].ID); err != nil {
			return nil, err
		}
	}
	return halls, nil
}

func (db *DB) hallSlots(ctx context.Context, hallID int64) ([]models.TimeSlot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT start_time, end_time, price FROM hall_time_slots
		WHERE hall_id = ? ORDER BY position`, hallID)
	if err != nil {
		return nil, fmt.Errorf("list hall %d slots: %w", hallID, err)
	}
	defer rows.Close()

	var result []models.TimeSlot
	for rows.Next() {
		var s models.TimeSlot
		if err := rows.Scan(&s.StartTime, &s.EndTime, &s.Price); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHall(row rowScanner) (*models.Hall, error) {
	var h models.Hall
	var createdAt, updatedAt string
	err := row.Scan(
		&h.ID, &h.Name, &h.Description, &h.Capacity, &h.IsActive, &h.AdvanceBookingPeriodDays,
		&h.BookingAmount, &h.CleaningCharges, &h.RefundableDeposit, &h.AdditionalCharges, &h.AdvancePaymentAmount,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if h.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

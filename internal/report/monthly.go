package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"clubhall/internal/models"
)

// BookingSource is the storage the monthly report reads from.
type BookingSource interface {
	ListHalls(ctx context.Context, activeOnly bool) ([]models.Hall, error)
	ListBookingsBetween(ctx context.Context, from, to models.Date) ([]*models.Booking, error)
}

var bookingColumns = []string{
	"id", "hall_id", "hall", "member_id", "booking_date", "slot", "purpose",
	"is_full_payment", "status", "total_amount", "cancellation_reason",
	"cancellation_date", "cancellation_charges", "is_refunded", "refund_amount",
	"refund_remarks", "refunded_at", "created_at",
}

var summaryColumns = []string{
	"hall_id", "hall", "bookings", "pending", "confirmed", "cancelled", "completed",
	"billed", "retained_charges", "refunded",
}

// MonthlyExporter writes one month of hall bookings to a workbook.
type MonthlyExporter struct {
	source    BookingSource
	newWriter func() ExcelWriter
}

func NewMonthlyExporter(source BookingSource, writerFactory func() ExcelWriter) *MonthlyExporter {
	if writerFactory == nil {
		writerFactory = NewExcelizeWriter
	}
	return &MonthlyExporter{source: source, newWriter: writerFactory}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q; expected YYYY-MM", s)
	}
	return t, nil
}

// Filename returns the download name for a month, e.g. hall-bookings-2024-04.xlsx.
func Filename(month time.Time) string {
	return fmt.Sprintf("hall-bookings-%s.xlsx", month.Format("2006-01"))
}

type hallTotals struct {
	hallID   int64
	name     string
	byStatus map[models.Status]int
	count    int
	billed   decimal.Decimal
	retained decimal.Decimal
	refunded decimal.Decimal
}

// Export writes the Bookings and Summary sheets for month to w and returns the
// number of bookings exported.
func (e *MonthlyExporter) Export(ctx context.Context, month time.Time, w io.Writer) (int, error) {
	first := models.NewDate(time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC))
	last := models.NewDate(time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, time.UTC))

	halls, err := e.source.ListHalls(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("list halls: %w", err)
	}
	names := make(map[int64]string, len(halls))
	for _, h := range halls {
		names[h.ID] = h.Name
	}

	bookings, err := e.source.ListBookingsBetween(ctx, first, last)
	if err != nil {
		return 0, fmt.Errorf("list bookings: %w", err)
	}

	xl := e.newWriter()
	defer func() { _ = xl.Close() }()

	if err := xl.AddSheet("Bookings"); err != nil {
		return 0, err
	}
	if err := xl.WriteHeader(bookingColumns); err != nil {
		return 0, err
	}

	totals := make(map[int64]*hallTotals)
	for _, b := range bookings {
		row := []any{
			b.ID, b.HallID, names[b.HallID], b.MemberID, b.BookingDate, b.SlotKey(), b.Purpose,
			b.IsFullPayment, string(b.Status), b.TotalAmount, b.CancellationReason,
			b.CancellationDate, b.CancellationCharges, b.IsRefunded, b.RefundAmount,
			b.RefundRemarks, b.RefundedAt, b.CreatedAt,
		}
		if err := xl.WriteRow(row); err != nil {
			return 0, fmt.Errorf("write booking %s: %w", b.ID, err)
		}

		t, ok := totals[b.HallID]
		if !ok {
			t = &hallTotals{hallID: b.HallID, name: names[b.HallID], byStatus: map[models.Status]int{}}
			totals[b.HallID] = t
		}
		t.count++
		t.byStatus[b.Status]++
		if b.Status == models.StatusCancelled {
			t.retained = t.retained.Add(b.RetainedCharges())
		} else {
			t.billed = t.billed.Add(b.TotalAmount)
		}
		if b.IsRefunded && b.RefundAmount != nil {
			t.refunded = t.refunded.Add(*b.RefundAmount)
		}
	}

	if err := xl.AddSheet("Summary"); err != nil {
		return 0, err
	}
	if err := xl.WriteHeader(summaryColumns); err != nil {
		return 0, err
	}
	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		t := totals[id]
		if err := xl.WriteRow([]any{
			t.hallID, t.name, t.count,
			t.byStatus[models.StatusPending], t.byStatus[models.StatusConfirmed],
			t.byStatus[models.StatusCancelled], t.byStatus[models.StatusCompleted],
			t.billed, t.retained, t.refunded,
		}); err != nil {
			return 0, err
		}
	}

	if err := xl.Save(w); err != nil {
		return 0, fmt.Errorf("save workbook: %w", err)
	}
	return len(bookings), nil
}

// Package slots turns hall slot configuration into concrete, dated slots.
package slots

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"clubhall/internal/models"
)

// ClockLayout is the time-of-day format of configured slots.
const ClockLayout = "15:04"

// Slot is a configured hall slot placed on a calendar date.
type Slot struct {
	StartTime time.Time
	EndTime   time.Time
	Price     decimal.Decimal
	Available bool
}

// SlotInfo is the API representation of a slot.
type SlotInfo struct {
	StartTime string          `json:"start_time"` // "09:00"
	EndTime   string          `json:"end_time"`   // "12:00"
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format: %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}

	return hour*60 + minute, nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// CanonicalClock normalises "9:00" to "09:00".
func CanonicalClock(s string) (string, error) {
	m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return FormatClock(m), nil
}

// ClockOf returns the time of day of t in minutes, in t's own location.
func ClockOf(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Bounds parses both ends of a configured slot.
func Bounds(s models.TimeSlot) (start, end int, err error) {
	start, err = ParseClock(s.StartTime)
	if err != nil {
		return 0, 0, fmt.Errorf("parse start time: %w", err)
	}
	end, err = ParseClock(s.EndTime)
	if err != nil {
		return 0, 0, fmt.Errorf("parse end time: %w", err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("slot %s ends before it starts", s.Label())
	}
	return start, end, nil
}

// Materialize places every configured slot on date, all marked available.
func Materialize(date models.Date, configured []models.TimeSlot) ([]Slot, error) {
	result := make([]Slot, 0, len(configured))
	for _, ts := range configured {
		start, end, err := Bounds(ts)
		if err != nil {
			return nil, err
		}
		result = append(result, Slot{
			StartTime: date.At(start),
			EndTime:   date.At(end),
			Price:     ts.Price,
			Available: true,
		})
	}
	return result, nil
}

// MarkBooked returns a copy of slots with every slot held by an active booking
// of hallID on the slots' date marked unavailable. Inputs are not modified.
func MarkBooked(hallID int64, date models.Date, in []Slot, bookings []*models.Booking) []Slot {
	out := make([]Slot, len(in))
	copy(out, in)

	for _, b := range bookings {
		if b == nil || b.HallID != hallID || !b.Status.IsActive() || !b.BookingDate.Equal(date) {
			continue
		}
		from, to := ClockOf(b.SlotFrom), ClockOf(b.SlotTo)
		for i := range out {
			if ClockOf(out[i].StartTime) == from && ClockOf(out[i].EndTime) == to {
				out[i].Available = false
			}
		}
	}
	return out
}

// CandidateDates walks forward from earliest (inclusive) and returns the first
// count dates falling on weekday.
func CandidateDates(earliest models.Date, weekday time.Weekday, count int) []models.Date {
	if count <= 0 {
		return []models.Date{}
	}

	offset := (int(weekday) - int(earliest.Weekday()) + 7) % 7
	first := earliest.AddDays(offset)

	dates := make([]models.Date, 0, count)
	for i := 0; i < count; i++ {
		dates = append(dates, first.AddDays(7*i))
	}
	return dates
}

// CheckNoOverlap returns an error naming the first pair of overlapping slots.
func CheckNoOverlap(configured []models.TimeSlot) error {
	type bounds struct {
		start, end int
		label      string
	}

	parsed := make([]bounds, 0, len(configured))
	for _, ts := range configured {
		start, end, err := Bounds(ts)
		if err != nil {
			return err
		}
		parsed = append(parsed, bounds{start: start, end: end, label: ts.Label()})
	}

	sort.Slice(parsed, func(i, j int) bool { return parsed[i].start < parsed[j].start })
	for i := 1; i < len(parsed); i++ {
		if isOverlapping(parsed[i-1].start, parsed[i-1].end, parsed[i].start, parsed[i].end) {
			return fmt.Errorf("slots %s and %s overlap", parsed[i-1].label, parsed[i].label)
		}
	}
	return nil
}

// ToSlotInfo converts slots for the API.
func ToSlotInfo(slots []Slot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			StartTime: s.StartTime.Format(ClockLayout),
			EndTime:   s.EndTime.Format(ClockLayout),
			Price:     s.Price,
			Available: s.Available,
		}
	}
	return result
}

// GetAvailableSlots returns only available slots.
func GetAvailableSlots(slots []Slot) []Slot {
	var available []Slot
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}

func isOverlapping(start1, end1, start2, end2 int) bool {
	return start1 < end2 && start2 < end1
}

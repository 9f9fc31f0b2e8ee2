package slots

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"clubhall/internal/models"
)

func mustDate(t *testing.T, s string) models.Date {
	t.Helper()
	d, err := models.ParseDate(s, time.UTC)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"09:00", 540, false},
		{"9:30", 570, false},
		{"23:59", 1439, false},
		{"00:00", 0, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"12:5", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseClock(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseClock(%q): expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClock(%q): unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseClock(%q): expected %d, got %d", tt.input, tt.want, got)
			}
		})
	}
}

func TestCanonicalClock(t *testing.T) {
	got, err := CanonicalClock("9:05")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "09:05" {
		t.Errorf("expected 09:05, got %s", got)
	}
}

func TestCandidateDates(t *testing.T) {
	tests := []struct {
		name     string
		earliest string
		weekday  time.Weekday
		count    int
		expected []string
	}{
		{
			name:     "earliest is a monday",
			earliest: "2024-04-01",
			weekday:  time.Sunday,
			count:    3,
			expected: []string{"2024-04-07", "2024-04-14", "2024-04-21"},
		},
		{
			name:     "earliest is the weekday itself",
			earliest: "2024-04-07",
			weekday:  time.Sunday,
			count:    2,
			expected: []string{"2024-04-07", "2024-04-14"},
		},
		{
			name:     "saturday policy",
			earliest: "2024-04-01",
			weekday:  time.Saturday,
			count:    1,
			expected: []string{"2024-04-06"},
		},
		{
			name:     "zero count",
			earliest: "2024-04-01",
			weekday:  time.Sunday,
			count:    0,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dates := CandidateDates(mustDate(t, tt.earliest), tt.weekday, tt.count)
			if len(dates) != len(tt.expected) {
				t.Fatalf("expected %d dates, got %d", len(tt.expected), len(dates))
			}
			for i, d := range dates {
				if d.String() != tt.expected[i] {
					t.Errorf("date %d: expected %s, got %s", i, tt.expected[i], d)
				}
				if d.Weekday() != tt.weekday {
					t.Errorf("date %s is a %s", d, d.Weekday())
				}
			}
		})
	}
}

func TestMaterialize(t *testing.T) {
	date := mustDate(t, "2024-04-07")
	configured := []models.TimeSlot{
		{StartTime: "09:00", EndTime: "12:00", Price: decimal.NewFromInt(5000)},
		{StartTime: "14:00", EndTime: "18:30", Price: decimal.NewFromInt(7000)},
	}

	slots, err := Materialize(date, configured)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}

	want := time.Date(2024, 4, 7, 14, 0, 0, 0, time.UTC)
	if !slots[1].StartTime.Equal(want) {
		t.Errorf("expected start %v, got %v", want, slots[1].StartTime)
	}
	if !slots[1].Available {
		t.Error("materialized slots should start available")
	}

	if _, err := Materialize(date, []models.TimeSlot{{StartTime: "12:00", EndTime: "09:00"}}); err == nil {
		t.Error("expected error for inverted slot")
	}
}

func TestMarkBooked(t *testing.T) {
	date := mustDate(t, "2024-04-07")
	configured := []models.TimeSlot{
		{StartTime: "09:00", EndTime: "12:00"},
		{StartTime: "14:00", EndTime: "17:00"},
	}
	in, err := Materialize(date, configured)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	booking := func(hallID int64, day string, from, to int, status models.Status) *models.Booking {
		d := mustDate(t, day)
		return &models.Booking{HallID: hallID, BookingDate: d, SlotFrom: d.At(from), SlotTo: d.At(to), Status: status}
	}

	tests := []struct {
		name      string
		bookings  []*models.Booking
		available []bool
	}{
		{"no bookings", nil, []bool{true, true}},
		{"confirmed morning", []*models.Booking{booking(1, "2024-04-07", 540, 720, models.StatusConfirmed)}, []bool{false, true}},
		{"pending afternoon", []*models.Booking{booking(1, "2024-04-07", 840, 1020, models.StatusPending)}, []bool{true, false}},
		{"cancelled frees slot", []*models.Booking{booking(1, "2024-04-07", 540, 720, models.StatusCancelled)}, []bool{true, true}},
		{"completed frees slot", []*models.Booking{booking(1, "2024-04-07", 540, 720, models.StatusCompleted)}, []bool{true, true}},
		{"other hall", []*models.Booking{booking(2, "2024-04-07", 540, 720, models.StatusConfirmed)}, []bool{true, true}},
		{"other date", []*models.Booking{booking(1, "2024-04-14", 540, 720, models.StatusConfirmed)}, []bool{true, true}},
		{"different bounds", []*models.Booking{booking(1, "2024-04-07", 540, 660, models.StatusConfirmed)}, []bool{true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := MarkBooked(1, date, in, tt.bookings)
			for i, s := range out {
				if s.Available != tt.available[i] {
					t.Errorf("slot %d: expected available=%v, got %v", i, tt.available[i], s.Available)
				}
			}
			for i, s := range in {
				if !s.Available {
					t.Errorf("input slot %d was modified", i)
				}
			}
		})
	}
}

func TestCheckNoOverlap(t *testing.T) {
	ok := []models.TimeSlot{
		{StartTime: "14:00", EndTime: "17:00"},
		{StartTime: "09:00", EndTime: "12:00"},
		{StartTime: "12:00", EndTime: "14:00"},
	}
	if err := CheckNoOverlap(ok); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := []models.TimeSlot{
		{StartTime: "09:00", EndTime: "12:00"},
		{StartTime: "11:00", EndTime: "13:00"},
	}
	if err := CheckNoOverlap(bad); err == nil {
		t.Error("expected overlap error")
	}
}

func TestToSlotInfo(t *testing.T) {
	baseDate := time.Date(2026, 1, 18, 0, 0, 0, 0, time.UTC)

	slots := []Slot{
		{StartTime: baseDate.Add(9 * time.Hour), EndTime: baseDate.Add(12 * time.Hour), Price: decimal.NewFromInt(5000), Available: true},
		{StartTime: baseDate.Add(14 * time.Hour), EndTime: baseDate.Add(17 * time.Hour), Available: false},
	}

	infos := ToSlotInfo(slots)
	if len(infos) != 2 {
		t.Fatalf("expected 2 slot infos, got %d", len(infos))
	}
	if infos[0].StartTime != "09:00" || infos[0].EndTime != "12:00" {
		t.Errorf("unexpected first slot: %v", infos[0])
	}
	if !infos[0].Available || infos[1].Available {
		t.Errorf("availability not preserved: %v", infos)
	}
	if len(GetAvailableSlots(slots)) != 1 {
		t.Error("expected exactly one available slot")
	}
}

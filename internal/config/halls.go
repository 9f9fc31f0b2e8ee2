package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"clubhall/internal/models"
	"clubhall/internal/slots"
)

// HallConfig represents a single hall configuration.
type HallConfig struct {
	ID                       int64            `yaml:"id"`
	Name                     string           `yaml:"name"`
	Description              string           `yaml:"description"`
	Capacity                 int              `yaml:"capacity"`
	IsActive                 bool             `yaml:"is_active"`
	TimeSlots                []TimeSlotConfig `yaml:"time_slots,omitempty"`
	AdvanceBookingPeriodDays int              `yaml:"advance_booking_period_days"`
	BookingAmount            string           `yaml:"booking_amount"`
	CleaningCharges          string           `yaml:"cleaning_charges"`
	RefundableDeposit        string           `yaml:"refundable_deposit"`
	AdditionalCharges        string           `yaml:"additional_charges"`
	AdvancePaymentAmount     string           `yaml:"advance_payment_amount"`
}

// TimeSlotConfig represents one bookable slot.
type TimeSlotConfig struct {
	StartTime string `yaml:"start_time"` // "09:00"
	EndTime   string `yaml:"end_time"`   // "12:00"
	Price     string `yaml:"price"`
}

// HallDefaultsConfig holds values applied to halls that leave them unset.
type HallDefaultsConfig struct {
	TimeSlots                []TimeSlotConfig `yaml:"time_slots"`
	AdvanceBookingPeriodDays int              `yaml:"advance_booking_period_days"`
}

// HallsConfig is the root configuration for halls.yaml.
type HallsConfig struct {
	Halls    []HallConfig       `yaml:"halls"`
	Defaults HallDefaultsConfig `yaml:"defaults"`
}

// LoadHallsConfig loads and validates the hall catalogue from a YAML file.
func LoadHallsConfig(path string) (*HallsConfig, error) {
	if path == "" {
		path = "configs/halls.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read halls config: %w", err)
	}

	var cfg HallsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse halls config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate halls config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *HallsConfig) Validate() error {
	if len(c.Halls) == 0 {
		return fmt.Errorf("no halls defined")
	}

	ids := make(map[int64]bool)
	names := make(map[string]bool)

	for i, h := range c.Halls {
		if h.ID <= 0 {
			return fmt.Errorf("hall[%d]: id must be positive, got %d", i, h.ID)
		}
		if ids[h.ID] {
			return fmt.Errorf("hall[%d]: duplicate id %d", i, h.ID)
		}
		ids[h.ID] = true

		if h.Name == "" {
			return fmt.Errorf("hall[%d]: name is required", i)
		}
		if names[h.Name] {
			return fmt.Errorf("hall[%d]: duplicate name '%s'", i, h.Name)
		}
		names[h.Name] = true

		if h.Capacity < 0 {
			return fmt.Errorf("hall[%d]: capacity cannot be negative", i)
		}
		if h.AdvanceBookingPeriodDays < 0 {
			return fmt.Errorf("hall[%d]: advance_booking_period_days cannot be negative", i)
		}

		if err := validateSlots(h.TimeSlots, fmt.Sprintf("hall[%d].time_slots", i)); err != nil {
			return err
		}

		money := map[string]string{
			"booking_amount":         h.BookingAmount,
			"cleaning_charges":       h.CleaningCharges,
			"refundable_deposit":     h.RefundableDeposit,
			"additional_charges":     h.AdditionalCharges,
			"advance_payment_amount": h.AdvancePaymentAmount,
		}
		for field, v := range money {
			if _, err := parseMoney(v); err != nil {
				return fmt.Errorf("hall[%d].%s: %w", i, field, err)
			}
		}
	}

	return nil
}

// validateSlots checks a slot list for format errors and overlaps.
func validateSlots(list []TimeSlotConfig, prefix string) error {
	if len(list) == 0 {
		return fmt.Errorf("%s: at least one slot is required", prefix)
	}

	converted := make([]models.TimeSlot, 0, len(list))
	for i, s := range list {
		if _, err := slots.ParseClock(s.StartTime); err != nil {
			return fmt.Errorf("%s[%d].start_time: invalid format '%s', expected HH:MM", prefix, i, s.StartTime)
		}
		if _, err := slots.ParseClock(s.EndTime); err != nil {
			return fmt.Errorf("%s[%d].end_time: invalid format '%s', expected HH:MM", prefix, i, s.EndTime)
		}
		if _, err := parseMoney(s.Price); err != nil {
			return fmt.Errorf("%s[%d].price: %w", prefix, i, err)
		}
		converted = append(converted, models.TimeSlot{StartTime: s.StartTime, EndTime: s.EndTime})
	}

	if err := slots.CheckNoOverlap(converted); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	return nil
}

// applyDefaults applies default values to halls without explicit configuration.
func (c *HallsConfig) applyDefaults() {
	for i := range c.Halls {
		if len(c.Halls[i].TimeSlots) == 0 && len(c.Defaults.TimeSlots) > 0 {
			c.Halls[i].TimeSlots = append([]TimeSlotConfig(nil), c.Defaults.TimeSlots...)
		}
		if c.Halls[i].AdvanceBookingPeriodDays == 0 {
			c.Halls[i].AdvanceBookingPeriodDays = c.Defaults.AdvanceBookingPeriodDays
		}
	}
}

// ToModels converts the validated catalogue into hall models.
func (c *HallsConfig) ToModels() ([]models.Hall, error) {
	result := make([]models.Hall, 0, len(c.Halls))
	for _, h := range c.Halls {
		m, err := h.toModel()
		if err != nil {
			return nil, fmt.Errorf("hall %d: %w", h.ID, err)
		}
		result = append(result, m)
	}
	return result, nil
}

func (h HallConfig) toModel() (models.Hall, error) {
	m := models.Hall{
		ID:                       h.ID,
		Name:                     h.Name,
		Description:              h.Description,
		Capacity:                 h.Capacity,
		IsActive:                 h.IsActive,
		AdvanceBookingPeriodDays: h.AdvanceBookingPeriodDays,
	}

	var err error
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&m.BookingAmount, h.BookingAmount},
		{&m.CleaningCharges, h.CleaningCharges},
		{&m.RefundableDeposit, h.RefundableDeposit},
		{&m.AdditionalCharges, h.AdditionalCharges},
		{&m.AdvancePaymentAmount, h.AdvancePaymentAmount},
	}
	for _, f := range fields {
		if *f.dst, err = parseMoney(f.src); err != nil {
			return models.Hall{}, err
		}
	}

	for _, s := range h.TimeSlots {
		start, err := slots.CanonicalClock(s.StartTime)
		if err != nil {
			return models.Hall{}, err
		}
		end, err := slots.CanonicalClock(s.EndTime)
		if err != nil {
			return models.Hall{}, err
		}
		price, err := parseMoney(s.Price)
		if err != nil {
			return models.Hall{}, err
		}
		m.TimeSlots = append(m.TimeSlots, models.TimeSlot{StartTime: start, EndTime: end, Price: price})
	}

	return m, nil
}

// parseMoney accepts an empty string as zero and rejects negative amounts.
func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount '%s'", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount '%s' cannot be negative", s)
	}
	return d, nil
}

// GetHallByID returns hall config by ID.
func (c *HallsConfig) GetHallByID(id int64) *HallConfig {
	for i := range c.Halls {
		if c.Halls[i].ID == id {
			return &c.Halls[i]
		}
	}
	return nil
}

// GetActiveHalls returns only active halls.
func (c *HallsConfig) GetActiveHalls() []HallConfig {
	result := make([]HallConfig, 0)
	for _, h := range c.Halls {
		if h.IsActive {
			result = append(result, h)
		}
	}
	return result
}

// String returns a summary of the configuration.
func (c *HallsConfig) String() string {
	return fmt.Sprintf("HallsConfig: %d halls (%d active)", len(c.Halls), len(c.GetActiveHalls()))
}

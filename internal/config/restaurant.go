package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tablebook/internal/booking"
	"tablebook/internal/model"
)

// TableConfig represents a single table.
type TableConfig struct {
	Number   int    `yaml:"number"`
	Capacity int    `yaml:"capacity"`
	Location string `yaml:"location"`
}

// DayHoursConfig holds the hours of one weekday.
type DayHoursConfig struct {
	Opens  string `yaml:"opens"`  // "12:00"
	Closes string `yaml:"closes"` // "23:00"
	Closed bool   `yaml:"closed"`
}

// HolidayConfig closes a date, or changes its hours when Opens/Closes are set.
type HolidayConfig struct {
	Date   string `yaml:"date"` // "2026-12-31"
	Name   string `yaml:"name"`
	Opens  string `yaml:"opens,omitempty"`
	Closes string `yaml:"closes,omitempty"`
}

// RestaurantDefaults apply to weekdays missing from Hours.
type RestaurantDefaults struct {
	Opens   string `yaml:"opens"`
	Closes  string `yaml:"closes"`
	DaysOff []int  `yaml:"days_off"` // 1=Mon, 7=Sun
}

// RestaurantConfig is the root of restaurant.yaml.
type RestaurantConfig struct {
	Tables   []TableConfig             `yaml:"tables"`
	Hours    map[string]DayHoursConfig `yaml:"hours"`
	Defaults RestaurantDefaults        `yaml:"defaults"`
	Holidays []HolidayConfig           `yaml:"holidays"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadRestaurantConfig loads and validates restaurant.yaml.
func LoadRestaurantConfig(path string) (*RestaurantConfig, error) {
	if path == "" {
		path = "configs/restaurant.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read restaurant config: %w", err)
	}

	var cfg RestaurantConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse restaurant config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate restaurant config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *RestaurantConfig) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("no tables defined")
	}

	numbers := make(map[int]bool)
	for i, t := range c.Tables {
		if t.Number <= 0 {
			return fmt.Errorf("table[%d]: number must be positive, got %d", i, t.Number)
		}
		if numbers[t.Number] {
			return fmt.Errorf("table[%d]: duplicate number %d", i, t.Number)
		}
		numbers[t.Number] = true
		if t.Capacity <= 0 {
			return fmt.Errorf("table[%d]: capacity must be positive", i)
		}
	}

	for name, h := range c.Hours {
		if _, ok := weekdays[strings.ToLower(name)]; !ok {
			return fmt.Errorf("hours.%s: unknown weekday", name)
		}
		if err := model.ValidateClockRange(h.Opens, h.Closes, h.Closed); err != nil {
			return fmt.Errorf("hours.%s: %w", name, err)
		}
	}

	if c.Defaults.Opens != "" || c.Defaults.Closes != "" {
		if err := model.ValidateClockRange(c.Defaults.Opens, c.Defaults.Closes, false); err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
	}
	for i, d := range c.Defaults.DaysOff {
		if d < 1 || d > 7 {
			return fmt.Errorf("defaults.days_off[%d]: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", i, d)
		}
	}

	dates := make(map[string]bool)
	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
		if dates[h.Date] {
			return fmt.Errorf("holiday[%d]: duplicate date %s", i, h.Date)
		}
		dates[h.Date] = true
		if h.Opens != "" || h.Closes != "" {
			if err := model.ValidateClockRange(h.Opens, h.Closes, false); err != nil {
				return fmt.Errorf("holiday[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// IsDayOff checks if a weekday is a default day off.
func (c *RestaurantConfig) IsDayOff(weekday time.Weekday) bool {
	// Go counts Sunday as 0; the file uses 1=Mon, 7=Sun.
	day := int(weekday)
	if day == 0 {
		day = 7
	}
	for _, d := range c.Defaults.DaysOff {
		if d == day {
			return true
		}
	}
	return false
}

// WeekdayHours resolves the hours of one weekday. A day neither listed nor
// covered by defaults is closed.
func (c *RestaurantConfig) WeekdayHours(weekday time.Weekday) model.OpeningHours {
	for name, h := range c.Hours {
		if weekdays[strings.ToLower(name)] == weekday {
			return model.OpeningHours{Weekday: weekday, Opens: h.Opens, Closes: h.Closes, Closed: h.Closed}
		}
	}
	if c.Defaults.Opens == "" || c.IsDayOff(weekday) {
		return model.OpeningHours{Weekday: weekday, Closed: true}
	}
	return model.OpeningHours{Weekday: weekday, Opens: c.Defaults.Opens, Closes: c.Defaults.Closes}
}

// Layout converts the file into the form the booking service syncs from.
// Holiday dates are midnight in loc.
func (c *RestaurantConfig) Layout(loc *time.Location) (booking.Layout, error) {
	if loc == nil {
		loc = time.Local
	}
	var l booking.Layout
	for _, t := range c.Tables {
		l.Tables = append(l.Tables, model.Table{
			Number:   t.Number,
			Capacity: t.Capacity,
			Location: t.Location,
			Status:   model.TableAvailable,
		})
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		l.Weekly = append(l.Weekly, c.WeekdayHours(d))
	}
	for _, h := range c.Holidays {
		date, err := time.ParseInLocation("2006-01-02", h.Date, loc)
		if err != nil {
			return booking.Layout{}, fmt.Errorf("holiday %s: %w", h.Date, err)
		}
		l.Special = append(l.Special, model.SpecialHours{
			Date:   date,
			Opens:  h.Opens,
			Closes: h.Closes,
			Closed: h.Opens == "",
			Reason: h.Name,
		})
	}
	return l, nil
}

// String returns a summary of the configuration.
func (c *RestaurantConfig) String() string {
	seats := 0
	for _, t := range c.Tables {
		seats += t.Capacity
	}
	return fmt.Sprintf("RestaurantConfig: %d tables (%d seats), %d holidays", len(c.Tables), seats, len(c.Holidays))
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "TABLEBOOK_CONFIG"

type Config struct {
	Database struct {
		Driver       string `yaml:"driver"` // sqlite | postgres
		Path         string `yaml:"path"`
		DSN          string `yaml:"dsn"`
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		User         string `yaml:"user"`
		Password     string `yaml:"password"`
		Name         string `yaml:"name"`
		SSLMode      string `yaml:"ssl_mode"`
		MaxOpenConns int    `yaml:"max_open_conns"`
	} `yaml:"database"`

	Pool struct {
		IdleCapacity         int `yaml:"idle_capacity"`
		MaxOpen              int `yaml:"max_open"`
		IdleTimeoutSeconds   int `yaml:"idle_timeout_seconds"`
		EvictIntervalSeconds int `yaml:"evict_interval_seconds"`
	} `yaml:"pool"`

	Booking struct {
		DurationMinutes       int    `yaml:"duration_minutes"`
		SlotStepMinutes       int    `yaml:"slot_step_minutes"`
		NoShowGraceMinutes    int    `yaml:"no_show_grace_minutes"`
		PromotionGraceMinutes int    `yaml:"promotion_grace_minutes"`
		ReminderLeadMinutes   int    `yaml:"reminder_lead_minutes"`
		AllocationPolicy      string `yaml:"allocation_policy"`
		CascadeHorizonDays    int    `yaml:"cascade_horizon_days"`
		MaxAdvanceDays        int    `yaml:"max_advance_days"`
	} `yaml:"booking"`

	Scheduler struct {
		IntervalSeconds        int `yaml:"interval_seconds"`
		DetectionWindowSeconds int `yaml:"detection_window_seconds"`
		MaxCatchUpMinutes      int `yaml:"max_catch_up_minutes"`
	} `yaml:"scheduler"`

	Redis struct {
		Address             string `yaml:"address"`
		Password            string `yaml:"password"`
		DB                  int    `yaml:"db"`
		SlotCacheTTLSeconds int    `yaml:"slot_cache_ttl_seconds"`
	} `yaml:"redis"`

	Notify struct {
		Workers   int     `yaml:"workers"`
		QueueSize int     `yaml:"queue_size"`
		Rate      float64 `yaml:"rate"`
		Burst     int     `yaml:"burst"`

		SMTP struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			From     string `yaml:"from"`
		} `yaml:"smtp"`

		AMQP struct {
			URL      string `yaml:"url"`
			Exchange string `yaml:"exchange"`
			Queue    string `yaml:"queue"`
		} `yaml:"amqp"`

		Telegram struct {
			BotToken   string  `yaml:"bot_token"`
			StaffChats []int64 `yaml:"staff_chats"`
		} `yaml:"telegram"`
	} `yaml:"notify"`

	HTTP struct {
		Address string `yaml:"address"`
		// APIKey guards the admin routes. Empty disables them.
		APIKey string `yaml:"api_key"`
	} `yaml:"http"`

	GRPC struct {
		Address string `yaml:"address"`
	} `yaml:"grpc"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console | json
	} `yaml:"log"`

	Reports struct {
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		SheetName       string `yaml:"sheet_name"`
	} `yaml:"reports"`

	Timezone                string `yaml:"timezone"`
	RestaurantConfigPath    string `yaml:"restaurant_config_path"`
	RestaurantReloadSeconds int    `yaml:"restaurant_reload_seconds"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Path resolves the config file location: explicit path, then
// TABLEBOOK_CONFIG, then configs/config.yaml.
func Path(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return "configs/config.yaml"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(Path(path))
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "data/tablebook.db"
	}
	if cfg.RestaurantConfigPath == "" {
		cfg.RestaurantConfigPath = "configs/restaurant.yaml"
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "sqlite" {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Validate reports the first invalid field, prefixed with its section.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database: postgres needs dsn or host")
		}
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}

	if c.Pool.IdleCapacity < 0 || c.Pool.MaxOpen < 0 {
		return fmt.Errorf("pool: idle_capacity and max_open cannot be negative")
	}
	if c.Pool.MaxOpen > 0 && c.Pool.IdleCapacity > c.Pool.MaxOpen {
		return fmt.Errorf("pool: idle_capacity %d exceeds max_open %d", c.Pool.IdleCapacity, c.Pool.MaxOpen)
	}

	switch c.Booking.AllocationPolicy {
	case "", "table_number", "smallest_fit":
	default:
		return fmt.Errorf("booking.allocation_policy: unknown policy %q", c.Booking.AllocationPolicy)
	}
	if c.Booking.DurationMinutes < 0 || c.Booking.SlotStepMinutes < 0 {
		return fmt.Errorf("booking: duration_minutes and slot_step_minutes cannot be negative")
	}
	if c.SlotStep() > c.BookingDuration() {
		return fmt.Errorf("booking: slot_step_minutes must not exceed duration_minutes")
	}

	if c.DetectionWindow() < c.SchedulerInterval() {
		return fmt.Errorf("scheduler: detection_window_seconds must be at least interval_seconds")
	}

	if c.Notify.Rate < 0 || c.Notify.Burst < 0 {
		return fmt.Errorf("notify: rate and burst cannot be negative")
	}
	if len(c.Notify.Telegram.StaffChats) > 0 && c.Notify.Telegram.BotToken == "" {
		return fmt.Errorf("notify.telegram: staff_chats set without bot_token")
	}
	if c.Notify.SMTP.Host != "" && c.Notify.SMTP.From == "" {
		return fmt.Errorf("notify.smtp: from is required")
	}

	if c.Backup.Enabled && c.Backup.Path == "" {
		return fmt.Errorf("backup: path is required when enabled")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// DatabaseDSN returns the connection string for the configured driver.
func (c *Config) DatabaseDSN() string {
	d := c.Database
	if d.Driver != "postgres" {
		return d.Path
	}
	if d.DSN != "" {
		return d.DSN
	}
	port := d.Port
	if port == 0 {
		port = 5432
	}
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, port, d.Name, ssl)
}

func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func minutes(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Minute
	}
	return time.Duration(v) * time.Minute
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}

func (c *Config) BookingDuration() time.Duration {
	return minutes(c.Booking.DurationMinutes, 120)
}

func (c *Config) SlotStep() time.Duration {
	return minutes(c.Booking.SlotStepMinutes, 30)
}

func (c *Config) NoShowGrace() time.Duration {
	return minutes(c.Booking.NoShowGraceMinutes, 15)
}

func (c *Config) PromotionGrace() time.Duration {
	return minutes(c.Booking.PromotionGraceMinutes, 15)
}

func (c *Config) ReminderLead() time.Duration {
	return minutes(c.Booking.ReminderLeadMinutes, 120)
}

func (c *Config) MaxAdvance() time.Duration {
	if c.Booking.MaxAdvanceDays <= 0 {
		return 60 * 24 * time.Hour
	}
	return time.Duration(c.Booking.MaxAdvanceDays) * 24 * time.Hour
}

func (c *Config) CascadeHorizonDays() int {
	if c.Booking.CascadeHorizonDays <= 0 {
		return 30
	}
	return c.Booking.CascadeHorizonDays
}

func (c *Config) AllocationPolicy() string {
	if c.Booking.AllocationPolicy == "" {
		return "table_number"
	}
	return c.Booking.AllocationPolicy
}

func (c *Config) IdleCapacity() int {
	if c.Pool.IdleCapacity <= 0 {
		return 8
	}
	return c.Pool.IdleCapacity
}

func (c *Config) IdleTimeout() time.Duration {
	return seconds(c.Pool.IdleTimeoutSeconds, 300)
}

func (c *Config) EvictInterval() time.Duration {
	return seconds(c.Pool.EvictIntervalSeconds, 60)
}

func (c *Config) SchedulerInterval() time.Duration {
	return seconds(c.Scheduler.IntervalSeconds, 60)
}

// DetectionWindow defaults to the scheduler interval.
func (c *Config) DetectionWindow() time.Duration {
	if c.Scheduler.DetectionWindowSeconds <= 0 {
		return c.SchedulerInterval()
	}
	return time.Duration(c.Scheduler.DetectionWindowSeconds) * time.Second
}

func (c *Config) MaxCatchUp() time.Duration {
	return minutes(c.Scheduler.MaxCatchUpMinutes, 10)
}

// SlotCacheTTL is zero when Redis is not configured.
func (c *Config) SlotCacheTTL() time.Duration {
	if c.Redis.Address == "" {
		return 0
	}
	return seconds(c.Redis.SlotCacheTTLSeconds, 300)
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) BackupRetention() time.Duration {
	if c.Backup.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.Backup.RetentionDays) * 24 * time.Hour
}

func (c *Config) RestaurantReload() time.Duration {
	return seconds(c.RestaurantReloadSeconds, 30)
}

func (c *Config) HTTPAddress() string {
	if c.HTTP.Address == "" {
		return ":8080"
	}
	return c.HTTP.Address
}

// LogJSON reports whether logs should be written as JSON lines.
func (c *Config) LogJSON() bool {
	return strings.EqualFold(c.Log.Format, "json")
}

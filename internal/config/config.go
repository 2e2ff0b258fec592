// Package config loads the service configuration from the environment.
//
// A Config is read once at operation start and passed by value, so the intake
// gate and the lottery always see a consistent snapshot of caps, windows and
// kill-switches.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Category limits and switches, one per request category.
type CategoryConfig struct {
	Limit         int  // weekly lottery cap
	DisableLimit  bool // kill-switch: admit every eligible request
	DisablePeriod bool // kill-switch: ignore the weekly intake window
	Paused        bool // kill-switch: refuse all submissions
}

// Window is the weekly intake schedule in local wall-clock terms.
type Window struct {
	OpenDay   time.Weekday
	OpenHour  int
	CloseDay  time.Weekday
	CloseHour int
}

type Config struct {
	DatabaseURL string
	ElasticURL  string
	HTTPAddr    string
	JWTSecret   string
	Timezone    string

	Meals     CategoryConfig
	Groceries CategoryConfig
	Intake    Window

	MaxChefDistanceKm  float64
	DemographicWeight  float64
	PostalCodePrefixes []string
	AddressMaxLength   int

	GoogleMapsAPIKey string
	GeocodeTimeout   time.Duration

	SMSAPIURL         string
	SMSAccessToken    string
	SMSDefaultGroup   string
	SMSGroceriesGroup string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	EmailFrom         string
	NotifyTimeout     time.Duration
	NotifyMaxAttempts int
	NotifyBackoff     time.Duration
	ReminderSchedule  string
	RegeocodeSchedule string
	LotterySchedule   string
}

// DefaultConfig returns the reference deployment settings.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  ":8080",
		Timezone:  "America/Toronto",
		Meals:     CategoryConfig{Limit: 100},
		Groceries: CategoryConfig{Limit: 50},
		Intake: Window{
			OpenDay:   time.Friday,
			OpenHour:  9,
			CloseDay:  time.Sunday,
			CloseHour: 14,
		},
		MaxChefDistanceKm:  12,
		DemographicWeight:  2,
		PostalCodePrefixes: []string{"M"},
		AddressMaxLength:   255,
		GeocodeTimeout:     10 * time.Second,
		SMSDefaultGroup:    "default",
		SMSGroceriesGroup:  "groceries",
		SMTPPort:           587,
		NotifyTimeout:      10 * time.Second,
		NotifyMaxAttempts:  3,
		NotifyBackoff:      500 * time.Millisecond,
		ReminderSchedule:   "0 10 * * *",
		RegeocodeSchedule:  "@every 15m",
	}
}

// Load reads .env (if present) and the process environment on top of the defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := DefaultConfig()
	r := envReader{}

	cfg.DatabaseURL = r.str("DATABASE_URL", os.Getenv("POSTGRES_DSN"))
	cfg.ElasticURL = r.str("ELASTIC_URL", "")
	cfg.HTTPAddr = r.str("HTTP_ADDR", cfg.HTTPAddr)
	cfg.JWTSecret = r.str("JWT_SECRET", "")
	cfg.Timezone = r.str("TIMEZONE", cfg.Timezone)

	cfg.Meals.Limit = r.integer("MEALS_LIMIT", cfg.Meals.Limit)
	cfg.Meals.DisableLimit = r.boolean("DISABLE_MEALS_LIMIT", false)
	cfg.Meals.DisablePeriod = r.boolean("DISABLE_MEALS_PERIOD", false)
	cfg.Meals.Paused = r.boolean("PAUSE_MEALS", false)
	cfg.Groceries.Limit = r.integer("GROCERIES_LIMIT", cfg.Groceries.Limit)
	cfg.Groceries.DisableLimit = r.boolean("DISABLE_GROCERIES_LIMIT", false)
	cfg.Groceries.DisablePeriod = r.boolean("DISABLE_GROCERIES_PERIOD", false)
	cfg.Groceries.Paused = r.boolean("PAUSE_GROCERIES", false)

	cfg.Intake.OpenDay = r.weekday("INTAKE_OPEN_DAY", cfg.Intake.OpenDay)
	cfg.Intake.OpenHour = r.integer("INTAKE_OPEN_HOUR", cfg.Intake.OpenHour)
	cfg.Intake.CloseDay = r.weekday("INTAKE_CLOSE_DAY", cfg.Intake.CloseDay)
	cfg.Intake.CloseHour = r.integer("INTAKE_CLOSE_HOUR", cfg.Intake.CloseHour)

	cfg.MaxChefDistanceKm = r.float("MAX_CHEF_DISTANCE", cfg.MaxChefDistanceKm)
	cfg.DemographicWeight = r.float("LOTTERY_DEMOGRAPHIC_WEIGHT", cfg.DemographicWeight)
	if v := os.Getenv("POSTAL_CODE_PREFIXES"); v != "" {
		cfg.PostalCodePrefixes = splitList(v)
	}
	cfg.AddressMaxLength = r.integer("ADDRESS_MAX_LENGTH", cfg.AddressMaxLength)

	cfg.GoogleMapsAPIKey = r.str("GOOGLE_MAPS_API_KEY", "")
	cfg.GeocodeTimeout = r.duration("GEOCODE_TIMEOUT", cfg.GeocodeTimeout)

	cfg.SMSAPIURL = r.str("SMS_API_URL", "")
	cfg.SMSAccessToken = r.str("SMS_ACCESS_TOKEN", "")
	cfg.SMSDefaultGroup = r.str("SMS_DEFAULT_GROUP_UUID", cfg.SMSDefaultGroup)
	cfg.SMSGroceriesGroup = r.str("SMS_GROCERIES_GROUP_UUID", cfg.SMSGroceriesGroup)
	cfg.SMTPHost = r.str("SMTP_HOST", "")
	cfg.SMTPPort = r.integer("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = r.str("SMTP_USERNAME", "")
	cfg.SMTPPassword = r.str("SMTP_PASSWORD", "")
	cfg.EmailFrom = r.str("EMAIL_FROM", "")
	cfg.NotifyTimeout = r.duration("NOTIFY_TIMEOUT", cfg.NotifyTimeout)
	cfg.NotifyMaxAttempts = r.integer("NOTIFY_MAX_ATTEMPTS", cfg.NotifyMaxAttempts)
	cfg.NotifyBackoff = r.duration("NOTIFY_BACKOFF", cfg.NotifyBackoff)
	cfg.ReminderSchedule = r.str("REMINDER_SCHEDULE", cfg.ReminderSchedule)
	cfg.RegeocodeSchedule = r.str("REGEOCODE_SCHEDULE", cfg.RegeocodeSchedule)
	cfg.LotterySchedule = r.str("LOTTERY_SCHEDULE", "")

	if len(r.errs) > 0 {
		return cfg, fmt.Errorf("invalid environment: %s", strings.Join(r.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if c.Meals.Limit < 0 || c.Groceries.Limit < 0 {
		return fmt.Errorf("category limits must not be negative")
	}
	if c.MaxChefDistanceKm <= 0 {
		return fmt.Errorf("MAX_CHEF_DISTANCE must be positive")
	}
	if c.DemographicWeight <= 1 {
		return fmt.Errorf("LOTTERY_DEMOGRAPHIC_WEIGHT must be greater than 1")
	}
	if c.Intake.OpenHour < 0 || c.Intake.OpenHour > 23 || c.Intake.CloseHour < 0 || c.Intake.CloseHour > 23 {
		return fmt.Errorf("intake hours must be between 0 and 23")
	}
	if c.Intake.OpenDay == c.Intake.CloseDay && c.Intake.OpenHour == c.Intake.CloseHour {
		return fmt.Errorf("intake window must not be empty")
	}
	if c.NotifyMaxAttempts < 1 {
		return fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be at least 1")
	}
	if c.AddressMaxLength <= 0 {
		return fmt.Errorf("ADDRESS_MAX_LENGTH must be positive")
	}
	return nil
}

// Location returns the deployment time zone. Validate guarantees it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type envReader struct {
	errs []string
}

func (r *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *envReader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return f
}

func (r *envReader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return b
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}

func (r *envReader) weekday(key string, def time.Weekday) time.Weekday {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := ParseWeekday(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}

// ParseWeekday accepts full or three-letter English day names, or 0-6 (Sunday = 0).
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday %d out of range", n)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config loads the service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/benvon/timesheet-sync/internal/allocation"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/validation"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds application configuration
type Config struct {
	StoreBackend   string `validate:"oneof=postgres redis"`
	DatabaseURL    string `validate:"required_if=StoreBackend postgres"`
	RedisURL       string `validate:"required_if=StoreBackend redis"`
	RedisKeyPrefix string

	GLPIHost       string
	GLPIPort       int `validate:"min=1,max=65535"`
	GLPIUser       string
	GLPIPassword   string
	GLPIName       string
	GLPIUserEmail  string `validate:"omitempty,email"`
	GLPISLAGroupID int    `validate:"min=0"`

	TimesheetURL      string `validate:"omitempty,url"`
	TimesheetAPIToken string
	TimesheetTimeout  time.Duration `validate:"gt=0"`

	TelegramAPIURL   string `validate:"url"`
	TelegramBotToken string
	TelegramChatID   string

	RabbitMQURL      string
	RabbitMQPrefetch int           `validate:"min=1"`
	DLQRetention     time.Duration `validate:"gt=0"`
	DLQGCInterval    time.Duration `validate:"gt=0"`

	WorkStart       string  `validate:"hhmm"`
	WorkEnd         string  `validate:"hhmm"`
	LunchStart      string  `validate:"hhmm"`
	LunchEnd        string  `validate:"hhmm"`
	TargetHours     float64 `validate:"gte=0,lte=24"`
	SplitBlocks     int     `validate:"min=0,max=16"`
	MinBlockMinutes int     `validate:"min=1"`
	MaxFailures     int     `validate:"min=1"`
	Timezone        string

	IngestSchedule  string
	ProcessSchedule string
	BacklogSchedule string
	BacklogDays     int `validate:"min=1,max=90"`
	SLASchedule     string

	MappingsFile     string
	ControlPort      string
	ControlRateLimit string

	WorkerDebugMode bool
	OTELEnabled     bool
	OTELEndpoint    string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	env := envReader(getenv)
	cfg := &Config{
		StoreBackend:   env.getEnv("STORE_BACKEND", StorePostgres),
		DatabaseURL:    env.getEnv("DATABASE_URL", ""),
		RedisURL:       env.getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix: env.getEnv("REDIS_KEY_PREFIX", "timesheet:"),

		GLPIHost:       env.getEnv("GLPI_DB_HOST", "localhost"),
		GLPIPort:       env.getEnvInt("GLPI_DB_PORT", 3306),
		GLPIUser:       env.getEnv("GLPI_DB_USER", ""),
		GLPIPassword:   env.getEnv("GLPI_DB_PASSWORD", ""),
		GLPIName:       env.getEnv("GLPI_DB_NAME", "glpi"),
		GLPIUserEmail:  env.getEnv("GLPI_USER_EMAIL", ""),
		GLPISLAGroupID: env.getEnvInt("GLPI_SLA_GROUP_ID", 0),

		TimesheetURL:      env.getEnv("TIMESHEET_URL", ""),
		TimesheetAPIToken: env.getEnv("TIMESHEET_API_TOKEN", ""),
		TimesheetTimeout:  env.getEnvDuration("TIMESHEET_TIMEOUT", 30*time.Second),

		TelegramAPIURL:   env.getEnv("TG_API_URL", "https://api.telegram.org"),
		TelegramBotToken: env.getEnv("TG_BOT_TOKEN", ""),
		TelegramChatID:   env.getEnv("TG_CHAT_ID", ""),

		RabbitMQURL:      env.getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch: env.getEnvInt("RABBITMQ_PREFETCH", 1),
		DLQRetention:     env.getEnvDuration("DLQ_RETENTION", 7*24*time.Hour),
		DLQGCInterval:    env.getEnvDuration("DLQ_GC_INTERVAL", time.Hour),

		WorkStart:       env.getEnv("WORK_START", "07:30"),
		WorkEnd:         env.getEnv("WORK_END", "16:30"),
		LunchStart:      env.getEnv("LUNCH_START", "11:30"),
		LunchEnd:        env.getEnv("LUNCH_END", "12:30"),
		TargetHours:     env.getEnvFloat("TARGET_HOURS", 0),
		SplitBlocks:     env.getEnvInt("SPLIT_BLOCKS", allocation.DefaultSplitBlocks),
		MinBlockMinutes: env.getEnvInt("MIN_BLOCK_MINUTES", allocation.DefaultMinBlockMinutes),
		MaxFailures:     env.getEnvInt("MAX_FAILURES", 3),
		Timezone:        env.getEnv("TIMEZONE", "Local"),

		IngestSchedule:  env.getEnv("INGEST_SCHEDULE", "0 */2 * * *"),
		ProcessSchedule: env.getEnv("PROCESS_SCHEDULE", "0 18 * * *"),
		BacklogSchedule: env.getEnv("BACKLOG_SCHEDULE", "0 8 * * 1"),
		BacklogDays:     env.getEnvInt("BACKLOG_DAYS", 7),
		SLASchedule:     env.getEnv("SLA_SCHEDULE", "0 */6 * * *"),

		MappingsFile:     env.getEnv("MAPPINGS_FILE", ""),
		ControlPort:      env.getEnv("CONTROL_PORT", "8080"),
		ControlRateLimit: env.getEnv("CONTROL_RATE_LIMIT", "10-M"),

		WorkerDebugMode: env.getEnvBool("WORKER_DEBUG_MODE", false),
		OTELEnabled:     env.getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:    env.getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field formats and the workday window ordering.
func (c *Config) Validate() error {
	if err := validation.Validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %s", validation.FormatErrors(err))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid configuration: TIMEZONE %q: %w", c.Timezone, err)
	}
	work, lunch := c.WorkWindow(), c.LunchWindow()
	if !(work.Start < lunch.Start && lunch.Start < lunch.End) {
		return fmt.Errorf("invalid configuration: windows must satisfy WORK_START < LUNCH_START < LUNCH_END (work %s, lunch %s)", work, lunch)
	}
	if lunch.End >= work.End {
		return fmt.Errorf("invalid configuration: WORK_END %s must be after LUNCH_END %s", work.End, lunch.End)
	}
	if c.TargetMinutes() == 0 && allocation.DefaultTarget(work, lunch) <= 0 {
		return errors.New("invalid configuration: the work window leaves no working time")
	}
	return nil
}

// RequireRecordSystem checks the settings needed to read the ticket system.
func (c *Config) RequireRecordSystem() error {
	if c.GLPIUser == "" || c.GLPIUserEmail == "" {
		return errors.New("GLPI_DB_USER and GLPI_USER_EMAIL are required to read the ticket system")
	}
	return nil
}

// RequireTimesheet checks the settings needed to submit entries.
func (c *Config) RequireTimesheet() error {
	if c.TimesheetURL == "" || c.TimesheetAPIToken == "" {
		return errors.New("TIMESHEET_URL and TIMESHEET_API_TOKEN are required to submit entries")
	}
	return nil
}

// TelegramEnabled reports whether chat notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// WorkWindow returns the parsed work window. Call after Validate.
func (c *Config) WorkWindow() models.Window {
	return models.Window{Start: mustTime(c.WorkStart), End: mustTime(c.WorkEnd)}
}

// LunchWindow returns the parsed lunch window. Call after Validate.
func (c *Config) LunchWindow() models.Window {
	return models.Window{Start: mustTime(c.LunchStart), End: mustTime(c.LunchEnd)}
}

// TargetMinutes returns the explicit daily target, or 0 to derive it from the windows.
func (c *Config) TargetMinutes() int {
	return int(c.TargetHours * 60)
}

// SplitPolicy returns the sub-block policy.
func (c *Config) SplitPolicy() allocation.SplitPolicy {
	return allocation.SplitPolicy{TargetBlocks: c.SplitBlocks, MinBlockMinutes: c.MinBlockMinutes}
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func mustTime(s string) models.TimeOfDay {
	t, err := models.ParseTimeOfDay(s)
	if err != nil {
		return 0
	}
	return t
}

type envReader func(string) string

func (e envReader) getEnv(key, defaultValue string) string {
	if value := e(key); value != "" {
		return value
	}
	return defaultValue
}

func (e envReader) getEnvBool(key string, defaultValue bool) bool {
	if value := e(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func (e envReader) getEnvInt(key string, defaultValue int) int {
	if value := e(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (e envReader) getEnvFloat(key string, defaultValue float64) float64 {
	if value := e(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (e envReader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := e(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

/*
config.go - Service configuration

PURPOSE:
  Loads the server settings from the environment (optionally seeded from a
  .env file) and turns them into the engine's value objects: classification
  Rules and parking Capacity.

ENVIRONMENT:
  PORT, DATABASE_PATH, LOG_LEVEL, ALLOWED_ORIGINS
  GRACE_PERIOD_DAYS, UPCOMING_MAX_DAYS, OVERDUE_MAX_DAYS, CRITICAL_AFTER_DAYS
  DEFAULT_CYCLE_DAYS
  SWEEP_ENABLED, SWEEP_SCHEDULE
  NOTIFIERS (comma separated: log, email, broker)
  RESEND_API_KEY, EMAIL_FROM
  AMQP_URL, AMQP_EXCHANGE
  CAPACITY_CAR, CAPACITY_MOTORCYCLE, CAPACITY_TRUCK
*/
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/warp/parking-engine/billing"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	DatabasePath   string `mapstructure:"DATABASE_PATH"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	GracePeriodDays   int `mapstructure:"GRACE_PERIOD_DAYS"`
	UpcomingMaxDays   int `mapstructure:"UPCOMING_MAX_DAYS"`
	OverdueMaxDays    int `mapstructure:"OVERDUE_MAX_DAYS"`
	CriticalAfterDays int `mapstructure:"CRITICAL_AFTER_DAYS"`
	DefaultCycleDays  int `mapstructure:"DEFAULT_CYCLE_DAYS"`

	SweepEnabled  bool   `mapstructure:"SWEEP_ENABLED"`
	SweepSchedule string `mapstructure:"SWEEP_SCHEDULE"`

	Notifiers    string `mapstructure:"NOTIFIERS"`
	ResendAPIKey string `mapstructure:"RESEND_API_KEY"`
	EmailFrom    string `mapstructure:"EMAIL_FROM"`
	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	CapacityCar        int `mapstructure:"CAPACITY_CAR"`
	CapacityMotorcycle int `mapstructure:"CAPACITY_MOTORCYCLE"`
	CapacityTruck      int `mapstructure:"CAPACITY_TRUCK"`
}

var keys = []string{
	"PORT", "DATABASE_PATH", "LOG_LEVEL", "ALLOWED_ORIGINS",
	"GRACE_PERIOD_DAYS", "UPCOMING_MAX_DAYS", "OVERDUE_MAX_DAYS", "CRITICAL_AFTER_DAYS",
	"DEFAULT_CYCLE_DAYS",
	"SWEEP_ENABLED", "SWEEP_SCHEDULE",
	"NOTIFIERS", "RESEND_API_KEY", "EMAIL_FROM", "AMQP_URL", "AMQP_EXCHANGE",
	"CAPACITY_CAR", "CAPACITY_MOTORCYCLE", "CAPACITY_TRUCK",
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	rules := billing.DefaultRules()
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DATABASE_PATH", "parking.db")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("GRACE_PERIOD_DAYS", rules.GracePeriodDays)
	viper.SetDefault("UPCOMING_MAX_DAYS", rules.UpcomingMaxDays)
	viper.SetDefault("OVERDUE_MAX_DAYS", rules.OverdueMaxDays)
	viper.SetDefault("CRITICAL_AFTER_DAYS", rules.CriticalAfterDays)
	viper.SetDefault("DEFAULT_CYCLE_DAYS", billing.DefaultCycleLengthDays)
	viper.SetDefault("SWEEP_ENABLED", true)
	viper.SetDefault("SWEEP_SCHEDULE", "0 7 * * *") // every day at 07:00
	viper.SetDefault("NOTIFIERS", "log")
	viper.SetDefault("EMAIL_FROM", "Parqueadero <cobros@parking.local>")
	viper.SetDefault("AMQP_EXCHANGE", "parking.events")
	viper.SetDefault("CAPACITY_CAR", 40)
	viper.SetDefault("CAPACITY_MOTORCYCLE", 20)
	viper.SetDefault("CAPACITY_TRUCK", 5)
	viper.AutomaticEnv()

	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.Rules().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.DefaultCycleDays <= 0 {
		errs = append(errs, &billing.ConfigurationError{Field: "DEFAULT_CYCLE_DAYS", Reason: "must be >= 1"})
	}
	if c.SweepEnabled {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			errs = append(errs, &billing.ConfigurationError{Field: "SWEEP_SCHEDULE", Reason: err.Error()})
		}
	}
	for _, n := range c.NotifierNames() {
		switch n {
		case "log", "broker":
		case "email":
			if c.ResendAPIKey == "" {
				errs = append(errs, &billing.ConfigurationError{Field: "RESEND_API_KEY", Reason: "required by the email notifier"})
			}
		default:
			errs = append(errs, &billing.ConfigurationError{Field: "NOTIFIERS", Reason: "unknown notifier " + n})
		}
	}
	if c.CapacityCar < 0 || c.CapacityMotorcycle < 0 || c.CapacityTruck < 0 {
		errs = append(errs, &billing.ConfigurationError{Field: "CAPACITY", Reason: "must not be negative"})
	}
	return errors.Join(errs...)
}

func (c *Config) Rules() billing.Rules {
	return billing.Rules{
		GracePeriodDays:   c.GracePeriodDays,
		UpcomingMaxDays:   c.UpcomingMaxDays,
		OverdueMaxDays:    c.OverdueMaxDays,
		CriticalAfterDays: c.CriticalAfterDays,
	}
}

func (c *Config) Capacity() billing.Capacity {
	return billing.Capacity{Spaces: map[billing.VehicleType]int{
		billing.VehicleCar:        c.CapacityCar,
		billing.VehicleMotorcycle: c.CapacityMotorcycle,
		billing.VehicleTruck:      c.CapacityTruck,
	}}
}

func (c *Config) NotifierNames() []string {
	return splitList(strings.ToLower(c.Notifiers))
}

func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
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

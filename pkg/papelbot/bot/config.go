// Package bot – config.go defines all configuration structures for the
// papelbot attendant.
package bot

import (
	"fmt"
	"time"

	"github.com/jholhewres/papelbot/pkg/papelbot/channels/whatsapp"
	"github.com/jholhewres/papelbot/pkg/papelbot/media"
)

// Config holds all attendant configuration.
type Config struct {
	// Shop holds the attendant parameters (name, Pix key, timers).
	Shop Settings `yaml:"shop"`

	// Timezone is the shop timezone (e.g. "America/Sao_Paulo").
	Timezone string `yaml:"timezone" envconfig:"TIMEZONE"`

	// Hours configures the business-hours window.
	Hours HoursConfig `yaml:"hours"`

	// Blocked lists contact JIDs that are silently ignored.
	Blocked []string `yaml:"blocked" envconfig:"BLOCKED_NUMBERS"`

	// Catalog is the service menu: entries, handoff/close options, FAQ
	// answers, greeting keywords and feedback tokens.
	Catalog Catalog `yaml:"catalog" ignored:"true"`

	// Copy holds the fixed messages sent to customers.
	Copy Copy `yaml:"copy" ignored:"true"`

	// Channels configures communication channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Uploads configures attachment storage.
	Uploads media.StoreConfig `yaml:"uploads"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	// WhatsApp is the WhatsApp channel config (core).
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
}

// HoursConfig configures the attendance window. Days use time.Weekday
// numbering (Sunday = 0); hours are local wall-clock, close exclusive.
type HoursConfig struct {
	FirstDay  int `yaml:"first_day" envconfig:"HOURS_FIRST_DAY"`
	LastDay   int `yaml:"last_day" envconfig:"HOURS_LAST_DAY"`
	OpenHour  int `yaml:"open_hour" envconfig:"HOURS_OPEN"`
	CloseHour int `yaml:"close_hour" envconfig:"HOURS_CLOSE"`
}

// Window converts the config into a BusinessHours value.
func (h HoursConfig) Window() BusinessHours {
	return BusinessHours{
		FirstDay:  time.Weekday(h.FirstDay),
		LastDay:   time.Weekday(h.LastDay),
		OpenHour:  h.OpenHour,
		CloseHour: h.CloseHour,
	}
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// DefaultConfig returns the default attendant configuration.
func DefaultConfig() *Config {
	hours := DefaultBusinessHours()
	return &Config{
		Shop:     DefaultSettings(),
		Timezone: "America/Sao_Paulo",
		Catalog:  DefaultCatalog(),
		Copy:     DefaultCopy(),
		Hours: HoursConfig{
			FirstDay:  int(hours.FirstDay),
			LastDay:   int(hours.LastDay),
			OpenHour:  hours.OpenHour,
			CloseHour: hours.CloseHour,
		},
		Channels: ChannelsConfig{
			WhatsApp: whatsapp.DefaultConfig(),
		},
		Uploads: media.DefaultStoreConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the config for values the attendant cannot run with.
func (c *Config) Validate() error {
	if c.Shop.ShopName == "" {
		return fmt.Errorf("shop.shop_name must not be empty")
	}
	if c.Shop.HandoffDuration <= 0 {
		return fmt.Errorf("shop.handoff_duration must be positive, got %s", c.Shop.HandoffDuration)
	}
	if c.Shop.FollowUpReady <= 0 || c.Shop.FollowUpRate <= 0 {
		return fmt.Errorf("shop follow-up delays must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.Hours.OpenHour < 0 || c.Hours.CloseHour > 24 || c.Hours.OpenHour >= c.Hours.CloseHour {
		return fmt.Errorf("invalid hours window [%d, %d)", c.Hours.OpenHour, c.Hours.CloseHour)
	}
	if c.Hours.FirstDay < 0 || c.Hours.LastDay > 6 || c.Hours.FirstDay > c.Hours.LastDay {
		return fmt.Errorf("invalid hours days [%d, %d]", c.Hours.FirstDay, c.Hours.LastDay)
	}
	if len(c.Catalog.Entries) == 0 {
		return fmt.Errorf("catalog must define at least one menu entry")
	}
	if c.Catalog.HandoffOption == c.Catalog.CloseOption {
		return fmt.Errorf("catalog handoff and close options must differ")
	}
	if c.Uploads.UploadDir == "" {
		return fmt.Errorf("uploads.dir must not be empty")
	}
	return nil
}

package query

import (
	"fmt"
	"time"
)

// Config controls result presentation.
type Config struct {
	DisplayLimit int    `mapstructure:"display_limit"`
	Timezone     string `mapstructure:"timezone"`
}

// DefaultConfig lists up to ten rows and buckets dates in UTC.
func DefaultConfig() Config {
	return Config{DisplayLimit: 10, Timezone: "UTC"}
}

// Validate checks the display limit and timezone.
func (c Config) Validate() error {
	if c.DisplayLimit <= 0 {
		return fmt.Errorf("query: display_limit must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("query: timezone: %w", err)
	}
	return nil
}

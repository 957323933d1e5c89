package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Logging LoggingConfig `json:"logging"`

	// Storage selects the state persistence driver.
	//
	// Example:
	//
	//	"storage": { "driver": "file", "path": "./guildbot_state.json" }
	Storage StorageConfig `json:"storage"`

	// Lottery overrides the random rename interval bounds. Durations are Go
	// duration strings (e.g. "30m", "120h"). Omitted fields keep defaults.
	Lottery LotteryConfig `json:"lottery,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token"`
	// ManagerUserID gates operator-only commands. Optional.
	ManagerUserID string `json:"manager_user_id,omitempty"`
	// LogChannel receives relayed log records when logging.relay is enabled.
	LogChannel string `json:"log_channel,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Relay   LoggingRelay `json:"relay"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRelay mirrors warnings and errors into the configured Discord
// channel. RatePerSec bounds the relay so log storms don't hit API limits.
type LoggingRelay struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LotteryConfig struct {
	MinInterval string `json:"min_interval,omitempty"`
	MaxInterval string `json:"max_interval,omitempty"`
}

// Validate checks fields that would otherwise fail deep inside startup.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Discord.Token) == "" {
		return errors.New("discord.token is required (or set GUILDBOT_TOKEN)")
	}
	switch strings.TrimSpace(c.Storage.Driver) {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	min, err := ParseDurationField("lottery.min_interval", c.Lottery.MinInterval)
	if err != nil {
		return err
	}
	max, err := ParseDurationField("lottery.max_interval", c.Lottery.MaxInterval)
	if err != nil {
		return err
	}
	if min > 0 && max > 0 && max < min {
		return errors.New("lottery: max_interval must be >= min_interval")
	}
	if c.Logging.Relay.Enabled && strings.TrimSpace(c.Discord.LogChannel) == "" {
		return errors.New("logging.relay.enabled requires discord.log_channel")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Sessions controls the managed account pool (artifact directory + API creds).
	Sessions SessionsConfig `json:"sessions"`

	// Batch controls the defaults for bulk runs (join/leave/broadcast).
	Batch *BatchConfig `json:"batch,omitempty"`

	// Activity controls the keep-online scheduler.
	Activity *ActivityConfig `json:"activity,omitempty"`

	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

// TelegramConfig configures the operator-facing control bot.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SessionsConfig describes where session artifacts live and which MTProto
// application credentials the worker clients authenticate with.
type SessionsConfig struct {
	// Dir holds the *.session artifact files. One file per pooled account.
	Dir string `json:"dir"`

	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`

	// ConnectTimeout is a Go duration string applied when dialing a session.
	ConnectTimeout string `json:"connect_timeout,omitempty"`
}

// BatchConfig controls bulk-run execution.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - chunk_size: 3
//   - pause_min: "1s"
//   - pause_max: "3s"
//   - flood_wait_cap: "10m"
type BatchConfig struct {
	ChunkSize int `json:"chunk_size,omitempty"`

	// PauseMin/PauseMax bound the randomized pause between consecutive
	// actions on the same session.
	PauseMin string `json:"pause_min,omitempty"`
	PauseMax string `json:"pause_max,omitempty"`

	// FloodWaitCap bounds how long a run will sleep on a rate-limit hint
	// before giving up on the reattempt.
	FloodWaitCap string `json:"flood_wait_cap,omitempty"`
}

// ActivityConfig controls the keep-online loop.
//
// Window is "HH:MM-HH:MM" local time; a window that crosses midnight
// (e.g. "22:00-06:00") is valid.
type ActivityConfig struct {
	Enabled bool   `json:"enabled"`
	Window  string `json:"window,omitempty"`
	// Period is a Go duration string between keep-alive rounds. Default "60s".
	Period string `json:"period,omitempty"`
}

// StorageConfig controls the sqlite persistence layer.
//
// Example:
//
//	"storage": { "path": "./herdbot.db" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// MaintenanceConfig controls the nightly sweep that removes orphaned
// session artifacts and prunes stale flow memberships.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// Spec is a cron expression (5-field, local time). Default "0 4 * * *".
	Spec string `json:"spec,omitempty"`
}

// Validate checks semantic constraints that the strict decoder can't.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Telegram.OwnerUserIDs) == 0 {
		return errors.New("telegram.owner_user_ids must not be empty")
	}
	if strings.TrimSpace(c.Sessions.Dir) == "" {
		return errors.New("sessions.dir is required")
	}
	if c.Sessions.APIID <= 0 {
		return errors.New("sessions.api_id must be > 0")
	}
	if strings.TrimSpace(c.Sessions.APIHash) == "" {
		return errors.New("sessions.api_hash is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("sessions.connect_timeout", c.Sessions.ConnectTimeout); err != nil {
		return err
	}
	if b := c.Batch; b != nil {
		if b.ChunkSize < 0 {
			return errors.New("batch.chunk_size must be >= 0")
		}
		pmin, err := ParseDurationField("batch.pause_min", b.PauseMin)
		if err != nil {
			return err
		}
		pmax, err := ParseDurationField("batch.pause_max", b.PauseMax)
		if err != nil {
			return err
		}
		if pmin > 0 && pmax > 0 && pmax < pmin {
			return fmt.Errorf("batch.pause_max %q must be >= batch.pause_min %q", b.PauseMax, b.PauseMin)
		}
		if _, err := ParseDurationField("batch.flood_wait_cap", b.FloodWaitCap); err != nil {
			return err
		}
	}
	if a := c.Activity; a != nil {
		if _, err := ParseDurationField("activity.period", a.Period); err != nil {
			return err
		}
	}
	if s := c.Storage; s != nil {
		if strings.TrimSpace(s.Path) == "" {
			return errors.New("storage.path must not be empty when storage is set")
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Duration fields arrive as Go duration strings ("90s", "10m") so the
// on-disk config stays readable. An empty string means "unset": callers
// pick the default.

// ParseDurationField parses one such field, naming it in the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def for an unset field.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

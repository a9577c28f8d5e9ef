package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42]},
  "logging": {"level": "info", "console": true},
  "sessions": {"dir": "./sessions", "api_id": 1, "api_hash": "h"}
}`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseMinimalJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Sessions.APIID != 1 || cfg.Sessions.APIHash != "h" {
		t.Fatalf("sessions = %+v", cfg.Sessions)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(minimalJSON, `"logging"`, `"loging"`, 1)
	m := NewManager(writeConfig(t, "config.json", bad))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON+"\n{}"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	y := `
telegram:
  token: "123:abc"
  owner_user_ids: [42, 43]
logging:
  level: debug
sessions:
  dir: ./sessions
  api_id: 7
  api_hash: h
batch:
  chunk_size: 5
  pause_min: 2s
  pause_max: 4s
activity:
  enabled: true
  window: "22:00-06:00"
`
	m := NewManager(writeConfig(t, "config.yaml", y))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if cfg.Sessions.APIID != 7 {
		t.Fatalf("api_id = %d", cfg.Sessions.APIID)
	}
	if cfg.Batch == nil || cfg.Batch.ChunkSize != 5 || cfg.Batch.PauseMin != "2s" {
		t.Fatalf("batch = %+v", cfg.Batch)
	}
	if cfg.Activity == nil || !cfg.Activity.Enabled || cfg.Activity.Window != "22:00-06:00" {
		t.Fatalf("activity = %+v", cfg.Activity)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
			Sessions: SessionsConfig{Dir: "./s", APIID: 1, APIHash: "h"},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = " " }, wantErr: "telegram.token"},
		{name: "no owners", mutate: func(c *Config) { c.Telegram.OwnerUserIDs = nil }, wantErr: "owner_user_ids"},
		{name: "missing dir", mutate: func(c *Config) { c.Sessions.Dir = "" }, wantErr: "sessions.dir"},
		{name: "bad api id", mutate: func(c *Config) { c.Sessions.APIID = 0 }, wantErr: "api_id"},
		{name: "missing api hash", mutate: func(c *Config) { c.Sessions.APIHash = "" }, wantErr: "api_hash"},
		{name: "bad poll timeout", mutate: func(c *Config) { c.Telegram.PollTimeout = "soon" }, wantErr: "poll_timeout"},
		{name: "bad pause order", mutate: func(c *Config) {
			c.Batch = &BatchConfig{PauseMin: "5s", PauseMax: "1s"}
		}, wantErr: "pause_max"},
		{name: "negative chunk", mutate: func(c *Config) {
			c.Batch = &BatchConfig{ChunkSize: -1}
		}, wantErr: "chunk_size"},
		{name: "bad activity period", mutate: func(c *Config) {
			c.Activity = &ActivityConfig{Period: "whenever"}
		}, wantErr: "activity.period"},
		{name: "empty storage path", mutate: func(c *Config) {
			c.Storage = &StorageConfig{Path: " "}
		}, wantErr: "storage.path"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v), want (0, nil)", d, err)
	}
	if d, err := ParseDurationField("x", " 1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("1m30s = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "five"); err == nil {
		t.Fatal("garbage duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default = (%v, %v)", d, err)
	}
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	if m.Get() != nil {
		t.Fatal("Get before Load returned a config")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the committed config")
	}
}

func TestSubscribePublishDropOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second) // buffer full: oldest is dropped, newest delivered

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("subscriber got a stale config")
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(&Config{})
}

package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("storage disabled")
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Config configures the sqlite persistence layer.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Session is a pooled worker account. Artifact is the session file name
// (relative to the configured sessions dir).
type Session struct {
	ID        int64
	Phone     string
	Artifact  string
	Active    bool
	ProxyID   *int64
	CreatedAt time.Time
}

// Proxy is an outbound proxy binding assignable to sessions.
type Proxy struct {
	ID       int64
	Scheme   string // "socks5" or "http"
	Host     string
	Port     int
	Login    string
	Password string
}

// HasAuth reports whether the proxy carries credentials.
func (p Proxy) HasAuth() bool { return p.Login != "" }

// Flow is a named group of sessions operated on as a unit.
type Flow struct {
	ID        int64
	Name      string
	OwnerID   int64
	CreatedAt time.Time
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	ThreadID      int
	Action        string
	Target        string
	OK            int
	Fail          int
	Error         string
	TookMS        int64
	MetaJSON      string
}

package storage

import (
	"context"

	logx "herdbot/pkg/logx"
)

// Store is the persistence surface used by the session pool, flow service
// and proxy service. All methods are safe for concurrent use.
type Store interface {
	// Sessions
	ListSessions(ctx context.Context) ([]Session, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)
	GetSession(ctx context.Context, phone string) (Session, error)
	InsertSession(ctx context.Context, s Session) (int64, error)
	SetSessionActive(ctx context.Context, phone string, active bool) error
	SetSessionProxy(ctx context.Context, phone string, proxyID *int64) error
	DeleteSession(ctx context.Context, phone string) error

	// Proxies
	ListProxies(ctx context.Context) ([]Proxy, error)
	GetProxy(ctx context.Context, id int64) (Proxy, error)
	InsertProxy(ctx context.Context, p Proxy) (int64, error)
	DeleteProxy(ctx context.Context, id int64) error

	// Flows
	ListFlows(ctx context.Context) ([]Flow, error)
	GetFlowByName(ctx context.Context, name string) (Flow, error)
	InsertFlow(ctx context.Context, f Flow) (int64, error)
	DeleteFlow(ctx context.Context, id int64) error
	AddFlowSessions(ctx context.Context, flowID int64, sessionIDs []int64) error
	RemoveFlowSessions(ctx context.Context, flowID int64, sessionIDs []int64) error
	ListFlowSessions(ctx context.Context, flowID int64) ([]Session, error)

	// Audit
	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}

// Open opens (and migrates) the sqlite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	return openSQLite(cfg, log)
}

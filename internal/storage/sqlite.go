package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "herdbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	// Required for the ON DELETE CASCADE on flow_sessions.
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// mapErr converts driver-level errors into package sentinels where possible.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

// ---- sessions ----

const sessionCols = `id, phone, artifact, is_active, proxy_id, created_at`

func scanSession(sc interface{ Scan(...any) error }) (Session, error) {
	var (
		out     Session
		active  int
		proxyID sql.NullInt64
		created string
	)
	if err := sc.Scan(&out.ID, &out.Phone, &out.Artifact, &active, &proxyID, &created); err != nil {
		return Session{}, mapErr(err)
	}
	out.Active = active != 0
	if proxyID.Valid {
		v := proxyID.Int64
		out.ProxyID = &v
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		out.CreatedAt = t
	}
	return out, nil
}

func (s *sqliteStore) listSessionsWhere(ctx context.Context, where string, args ...any) ([]Session, error) {
	q := `SELECT ` + sessionCols + ` FROM sessions`
	if where != "" {
		q += ` WHERE ` + where
	}
	q += ` ORDER BY phone`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, mapErr(rows.Err())
}

func (s *sqliteStore) ListSessions(ctx context.Context) ([]Session, error) {
	return s.listSessionsWhere(ctx, "")
}

func (s *sqliteStore) ListActiveSessions(ctx context.Context) ([]Session, error) {
	return s.listSessionsWhere(ctx, "is_active = 1")
}

func (s *sqliteStore) GetSession(ctx context.Context, phone string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE phone = ?`, phone)
	return scanSession(row)
}

func (s *sqliteStore) InsertSession(ctx context.Context, sess Session) (int64, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	var proxyID any
	if sess.ProxyID != nil {
		proxyID = *sess.ProxyID
	}
	active := 0
	if sess.Active {
		active = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(phone, artifact, is_active, proxy_id, created_at) VALUES(?,?,?,?,?)`,
		sess.Phone, sess.Artifact, active, proxyID, sess.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) SetSessionActive(ctx context.Context, phone string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active = ? WHERE phone = ?`, v, phone)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) SetSessionProxy(ctx context.Context, phone string, proxyID *int64) error {
	var v any
	if proxyID != nil {
		v = *proxyID
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET proxy_id = ? WHERE phone = ?`, v, phone)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteSession(ctx context.Context, phone string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE phone = ?`, phone)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- proxies ----

func (s *sqliteStore) ListProxies(ctx context.Context) ([]Proxy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scheme, host, port, login, password FROM proxies ORDER BY id`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []Proxy
	for rows.Next() {
		var p Proxy
		if err := rows.Scan(&p.ID, &p.Scheme, &p.Host, &p.Port, &p.Login, &p.Password); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (s *sqliteStore) GetProxy(ctx context.Context, id int64) (Proxy, error) {
	var p Proxy
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scheme, host, port, login, password FROM proxies WHERE id = ?`, id).
		Scan(&p.ID, &p.Scheme, &p.Host, &p.Port, &p.Login, &p.Password)
	if err != nil {
		return Proxy{}, mapErr(err)
	}
	return p, nil
}

func (s *sqliteStore) InsertProxy(ctx context.Context, p Proxy) (int64, error) {
	if p.Scheme == "" {
		p.Scheme = "socks5"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO proxies(scheme, host, port, login, password) VALUES(?,?,?,?,?)`,
		p.Scheme, p.Host, p.Port, p.Login, p.Password,
	)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) DeleteProxy(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proxies WHERE id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- flows ----

func (s *sqliteStore) ListFlows(ctx context.Context) ([]Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, owner_id, created_at FROM flows ORDER BY name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, mapErr(rows.Err())
}

func scanFlow(sc interface{ Scan(...any) error }) (Flow, error) {
	var (
		f       Flow
		created string
	)
	if err := sc.Scan(&f.ID, &f.Name, &f.OwnerID, &created); err != nil {
		return Flow{}, mapErr(err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		f.CreatedAt = t
	}
	return f, nil
}

func (s *sqliteStore) GetFlowByName(ctx context.Context, name string) (Flow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM flows WHERE name = ?`, name)
	return scanFlow(row)
}

func (s *sqliteStore) InsertFlow(ctx context.Context, f Flow) (int64, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO flows(name, owner_id, created_at) VALUES(?,?,?)`,
		f.Name, f.OwnerID, f.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) DeleteFlow(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AddFlowSessions(ctx context.Context, flowID int64, sessionIDs []int64) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range sessionIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO flow_sessions(flow_id, session_id) VALUES(?,?)`,
			flowID, id,
		); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit())
}

func (s *sqliteStore) RemoveFlowSessions(ctx context.Context, flowID int64, sessionIDs []int64) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range sessionIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM flow_sessions WHERE flow_id = ? AND session_id = ?`,
			flowID, id,
		); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit())
}

func (s *sqliteStore) ListFlowSessions(ctx context.Context, flowID int64) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.phone, s.artifact, s.is_active, s.proxy_id, s.created_at
		 FROM sessions s
		 JOIN flow_sessions fs ON fs.session_id = s.id
		 WHERE fs.flow_id = ?
		 ORDER BY s.phone`, flowID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, mapErr(rows.Err())
}

// ---- audit ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, e.Target, e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return mapErr(err)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

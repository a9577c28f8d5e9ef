package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "herdbot/pkg/logx"

	"herdbot/internal/storage"
)

const artifactExt = ".session"

var (
	ErrNotFound = errors.New("session not found")
	// ErrBusy means the session is currently enrolled in another run.
	ErrBusy = errors.New("session busy")
)

// Pool manages the worker accounts: their database rows, their on-disk
// session artifacts, and a per-session busy guard so one account never
// serves two runs at once.
type Pool struct {
	store storage.Store
	dir   string
	log   logx.Logger

	mu   sync.Mutex
	busy map[string]struct{} // keyed by phone
}

func NewPool(store storage.Store, dir string, log logx.Logger) *Pool {
	return &Pool{
		store: store,
		dir:   dir,
		log:   log.With(logx.String("component", "session")),
		busy:  map[string]struct{}{},
	}
}

// Dir returns the artifact directory.
func (p *Pool) Dir() string { return p.dir }

// ArtifactPath returns the absolute path of a session's artifact file.
func (p *Pool) ArtifactPath(s storage.Session) string {
	name := s.Artifact
	if name == "" {
		name = s.Phone + artifactExt
	}
	return filepath.Join(p.dir, name)
}

// Sync reconciles the artifact directory with the database:
//   - artifact files without a row get a new active row
//   - rows whose artifact file disappeared are marked inactive
//
// It returns the full session list after reconciliation.
func (p *Pool) Sync(ctx context.Context) ([]storage.Session, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	onDisk := map[string]string{} // phone -> artifact file name
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, artifactExt) {
			continue
		}
		phone := strings.TrimSuffix(name, artifactExt)
		if phone == "" {
			continue
		}
		onDisk[phone] = name
	}

	known, err := p.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	knownByPhone := map[string]storage.Session{}
	for _, s := range known {
		knownByPhone[s.Phone] = s
	}

	for phone, artifact := range onDisk {
		if _, ok := knownByPhone[phone]; ok {
			continue
		}
		if _, err := p.store.InsertSession(ctx, storage.Session{
			Phone:    phone,
			Artifact: artifact,
			Active:   true,
		}); err != nil && !errors.Is(err, storage.ErrDuplicate) {
			return nil, err
		}
		p.log.Info("session discovered", logx.String("phone", phone))
	}

	for _, s := range known {
		if _, ok := onDisk[s.Phone]; ok {
			continue
		}
		if !s.Active {
			continue
		}
		if err := p.store.SetSessionActive(ctx, s.Phone, false); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		p.log.Warn("session artifact missing; marked inactive", logx.String("phone", s.Phone))
	}

	return p.store.ListSessions(ctx)
}

// List returns all known sessions ordered by phone.
func (p *Pool) List(ctx context.Context) ([]storage.Session, error) {
	return p.store.ListSessions(ctx)
}

// ListActive returns sessions that are active and whose artifact exists.
func (p *Pool) ListActive(ctx context.Context) ([]storage.Session, error) {
	all, err := p.store.ListActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if _, err := os.Stat(p.ArtifactPath(s)); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Get looks a session up by phone.
func (p *Pool) Get(ctx context.Context, phone string) (storage.Session, error) {
	s, err := p.store.GetSession(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, ErrNotFound
	}
	return s, err
}

// MarkInactive flags a session so it stops being picked for runs, without
// removing its artifact.
func (p *Pool) MarkInactive(ctx context.Context, phone string) error {
	err := p.store.SetSessionActive(ctx, phone, false)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Delete removes the session row (cascading out of any flows) and its
// artifact file. Missing artifacts are not an error: the row is the source
// of truth and the file may already be gone.
func (p *Pool) Delete(ctx context.Context, phone string) error {
	s, err := p.store.GetSession(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := p.store.DeleteSession(ctx, phone); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	path := p.ArtifactPath(s)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn("session artifact remove failed", logx.String("phone", phone), logx.Err(err))
	}
	p.log.Info("session deleted", logx.String("phone", phone))
	return nil
}

// TryAcquire marks a session busy for the duration of a run.
// It returns false when the session is already enrolled elsewhere.
func (p *Pool) TryAcquire(phone string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.busy[phone]; taken {
		return false
	}
	p.busy[phone] = struct{}{}
	return true
}

// Release frees a session acquired with TryAcquire. Releasing a free
// session is a no-op.
func (p *Pool) Release(phone string) {
	p.mu.Lock()
	delete(p.busy, phone)
	p.mu.Unlock()
}

// AcquireAll tries to acquire every given session; on any conflict it
// releases what it took and returns ErrBusy naming the conflicting phone.
func (p *Pool) AcquireAll(phones []string) error {
	taken := make([]string, 0, len(phones))
	for _, ph := range phones {
		if !p.TryAcquire(ph) {
			for _, t := range taken {
				p.Release(t)
			}
			return fmt.Errorf("%w: %s", ErrBusy, ph)
		}
		taken = append(taken, ph)
	}
	return nil
}

// ReleaseAll frees every given session.
func (p *Pool) ReleaseAll(phones []string) {
	for _, ph := range phones {
		p.Release(ph)
	}
}

// Busy returns the phones currently enrolled in runs, sorted.
func (p *Pool) Busy() []string {
	p.mu.Lock()
	out := make([]string, 0, len(p.busy))
	for ph := range p.busy {
		out = append(out, ph)
	}
	p.mu.Unlock()
	sort.Strings(out)
	return out
}

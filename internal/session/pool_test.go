package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "herdbot/pkg/logx"

	"herdbot/internal/storage"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Path: filepath.Join(dir, "db.sqlite")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sessDir := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return NewPool(st, sessDir, logx.Nop())
}

func touchArtifact(t *testing.T, p *Pool, phone string) {
	t.Helper()
	path := filepath.Join(p.Dir(), phone+".session")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func TestSyncDiscoversArtifacts(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	touchArtifact(t, p, "+111")
	touchArtifact(t, p, "+222")

	sessions, err := p.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	for _, s := range sessions {
		if !s.Active {
			t.Fatalf("discovered session %s inactive", s.Phone)
		}
	}

	// A second sync is idempotent.
	sessions, err = p.Sync(ctx)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions after resync = %d, want 2", len(sessions))
	}
}

func TestSyncMarksMissingArtifactsInactive(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	touchArtifact(t, p, "+111")
	if _, err := p.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if err := os.Remove(filepath.Join(p.Dir(), "+111.session")); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}
	sessions, err := p.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Active {
		t.Fatalf("session should be inactive after artifact loss: %+v", sessions)
	}

	active, err := p.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active = %d, want 0", len(active))
	}
}

func TestDeleteRemovesRowAndArtifact(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	touchArtifact(t, p, "+111")
	if _, err := p.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if err := p.Delete(ctx, "+111"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p.Dir(), "+111.session")); !os.IsNotExist(err) {
		t.Fatalf("artifact still present (err=%v)", err)
	}
	if _, err := p.Get(ctx, "+111"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}
	if err := p.Delete(ctx, "+111"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestBusyGuard(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)

	if !p.TryAcquire("+1") {
		t.Fatal("first acquire failed")
	}
	if p.TryAcquire("+1") {
		t.Fatal("second acquire succeeded on busy session")
	}
	p.Release("+1")
	if !p.TryAcquire("+1") {
		t.Fatal("acquire after release failed")
	}
	p.Release("+1")
	// Releasing a free session is harmless.
	p.Release("+1")
}

func TestAcquireAllRollsBackOnConflict(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)

	if !p.TryAcquire("+2") {
		t.Fatal("setup acquire failed")
	}

	err := p.AcquireAll([]string{"+1", "+2", "+3"})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	// +1 must have been rolled back.
	if !p.TryAcquire("+1") {
		t.Fatal("+1 left acquired after failed AcquireAll")
	}
	p.Release("+1")
	p.Release("+2")

	if err := p.AcquireAll([]string{"+1", "+2", "+3"}); err != nil {
		t.Fatalf("AcquireAll: %v", err)
	}
	busy := p.Busy()
	if len(busy) != 3 {
		t.Fatalf("busy = %v, want 3 entries", busy)
	}
	p.ReleaseAll([]string{"+1", "+2", "+3"})
	if len(p.Busy()) != 0 {
		t.Fatal("sessions still busy after ReleaseAll")
	}
}

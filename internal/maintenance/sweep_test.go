package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "herdbot/pkg/logx"

	"herdbot/internal/session"
	"herdbot/internal/storage"
)

func newTestSweeper(t *testing.T) (*Sweeper, storage.Store, *session.Pool) {
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
	pool := session.NewPool(st, sessDir, logx.Nop())
	return NewSweeper(st, pool, "", logx.Nop()), st, pool
}

func TestSweepRemovesOrphanArtifacts(t *testing.T) {
	t.Parallel()
	sw, st, pool := newTestSweeper(t)
	ctx := context.Background()

	// A healthy session: row plus artifact.
	kept := filepath.Join(pool.Dir(), "+111.session")
	if err := os.WriteFile(kept, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := st.InsertSession(ctx, storage.Session{Phone: "+111", Artifact: "+111.session", Active: true}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// An orphan: artifact with no row.
	orphan := filepath.Join(pool.Dir(), "+999.session")
	if err := os.WriteFile(orphan, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A stray non-artifact file must survive.
	stray := filepath.Join(pool.Dir(), "notes.txt")
	if err := os.WriteFile(stray, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	sw.Sweep(ctx)

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("orphan artifact survived (err=%v)", err)
	}
	if _, err := os.Stat(kept); err != nil {
		t.Fatalf("healthy artifact removed: %v", err)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Fatalf("non-artifact file removed: %v", err)
	}
}

func TestSweepPurgesDeadRows(t *testing.T) {
	t.Parallel()
	sw, st, pool := newTestSweeper(t)
	ctx := context.Background()

	// Inactive row without an artifact: purged.
	if _, err := st.InsertSession(ctx, storage.Session{Phone: "+1", Artifact: "+1.session", Active: false}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Inactive row whose artifact still exists: kept.
	if _, err := st.InsertSession(ctx, storage.Session{Phone: "+2", Artifact: "+2.session", Active: false}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pool.Dir(), "+2.session"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Active row without an artifact: kept (Sync handles it, not the sweep).
	if _, err := st.InsertSession(ctx, storage.Session{Phone: "+3", Artifact: "+3.session", Active: true}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	sw.Sweep(ctx)

	if _, err := st.GetSession(ctx, "+1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("dead row survived (err=%v)", err)
	}
	if _, err := st.GetSession(ctx, "+2"); err != nil {
		t.Fatalf("row with artifact purged: %v", err)
	}
	if _, err := st.GetSession(ctx, "+3"); err != nil {
		t.Fatalf("active row purged: %v", err)
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()
	sw, _, _ := newTestSweeper(t)
	sw.spec = "not a cron spec"
	if err := sw.Start(); err == nil {
		t.Fatal("bad cron spec accepted")
	}
}

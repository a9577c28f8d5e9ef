package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	logx "herdbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSessionCRUD(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.InsertSession(ctx, Session{Phone: "+111", Artifact: "+111.session", Active: true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Fatal("insert returned id 0")
	}

	if _, err := st.InsertSession(ctx, Session{Phone: "+111", Artifact: "dup.session"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate phone err = %v, want ErrDuplicate", err)
	}

	s, err := st.GetSession(ctx, "+111")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !s.Active || s.Artifact != "+111.session" || s.CreatedAt.IsZero() {
		t.Fatalf("unexpected session: %+v", s)
	}

	if err := st.SetSessionActive(ctx, "+111", false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	active, err := st.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active sessions = %d, want 0", len(active))
	}

	if err := st.DeleteSession(ctx, "+111"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetSession(ctx, "+111"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted err = %v, want ErrNotFound", err)
	}
	if err := st.DeleteSession(ctx, "+111"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing err = %v, want ErrNotFound", err)
	}
}

func TestSessionProxyBinding(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	pid, err := st.InsertProxy(ctx, Proxy{Host: "10.0.0.1", Port: 1080, Login: "u", Password: "p"})
	if err != nil {
		t.Fatalf("insert proxy: %v", err)
	}
	if _, err := st.InsertSession(ctx, Session{Phone: "+1", Artifact: "a", ProxyID: &pid}); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	s, err := st.GetSession(ctx, "+1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.ProxyID == nil || *s.ProxyID != pid {
		t.Fatalf("proxy id = %v, want %d", s.ProxyID, pid)
	}

	// Deleting the proxy leaves the session with a cleared binding.
	if err := st.DeleteProxy(ctx, pid); err != nil {
		t.Fatalf("delete proxy: %v", err)
	}
	s, err = st.GetSession(ctx, "+1")
	if err != nil {
		t.Fatalf("get after proxy delete: %v", err)
	}
	if s.ProxyID != nil {
		t.Fatalf("proxy id = %v, want nil after cascade", *s.ProxyID)
	}

	// Unbinding explicitly.
	if err := st.SetSessionProxy(ctx, "+1", nil); err != nil {
		t.Fatalf("unbind: %v", err)
	}
}

func TestFlowMembershipCascades(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, ph := range []string{"+1", "+2", "+3"} {
		id, err := st.InsertSession(ctx, Session{Phone: ph, Artifact: ph + ".session", Active: true})
		if err != nil {
			t.Fatalf("insert %s: %v", ph, err)
		}
		ids = append(ids, id)
	}

	fid, err := st.InsertFlow(ctx, Flow{Name: "Flow_9_1", OwnerID: 9})
	if err != nil {
		t.Fatalf("insert flow: %v", err)
	}
	if _, err := st.InsertFlow(ctx, Flow{Name: "Flow_9_1", OwnerID: 9}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate flow err = %v, want ErrDuplicate", err)
	}

	if err := st.AddFlowSessions(ctx, fid, ids); err != nil {
		t.Fatalf("add members: %v", err)
	}
	// Re-adding is a no-op, not an error.
	if err := st.AddFlowSessions(ctx, fid, ids[:1]); err != nil {
		t.Fatalf("re-add member: %v", err)
	}

	members, err := st.ListFlowSessions(ctx, fid)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3", len(members))
	}

	// Deleting a session drops it from the flow.
	if err := st.DeleteSession(ctx, "+2"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	members, err = st.ListFlowSessions(ctx, fid)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members after session delete = %d, want 2", len(members))
	}

	// Deleting the flow removes memberships but keeps sessions.
	if err := st.DeleteFlow(ctx, fid); err != nil {
		t.Fatalf("delete flow: %v", err)
	}
	left, err := st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("sessions after flow delete = %d, want 2", len(left))
	}
}

func TestAuditAppend(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	err := st.AppendAudit(context.Background(), AuditEntry{
		ActorID: 42,
		ChatID:  -100,
		Action:  "join test",
		OK:      3,
		Fail:    1,
	})
	if err != nil {
		t.Fatalf("append audit: %v", err)
	}
}

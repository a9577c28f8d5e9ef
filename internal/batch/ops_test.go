package batch

import (
	"context"
	"testing"

	"herdbot/internal/action"
	"herdbot/internal/storage"
)

type dialogClient struct {
	seqClient
	dialogs []action.Dialog
}

func (c *dialogClient) Dialogs(context.Context) ([]action.Dialog, error) {
	return c.dialogs, nil
}

func TestJoinOps(t *testing.T) {
	t.Parallel()
	ops, err := JoinOps([]string{"@a", "@b"})(context.Background(), storage.Session{}, &seqClient{})
	if err != nil {
		t.Fatalf("ops: %v", err)
	}
	if len(ops) != 2 || ops[0].Kind != action.KindJoin || ops[1].Target != "@b" {
		t.Fatalf("ops = %+v", ops)
	}
}

func TestBroadcastOpsTargetsGroupDialogsOnly(t *testing.T) {
	t.Parallel()
	c := &dialogClient{dialogs: []action.Dialog{
		{ID: 1, Title: "group one", IsGroup: true},
		{ID: 2, Title: "some user", IsGroup: false},
		{ID: 3, Title: "group two", IsGroup: true},
	}}
	ops, err := BroadcastOps("hi")(context.Background(), storage.Session{}, c)
	if err != nil {
		t.Fatalf("ops: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("ops = %d, want 2 (groups only)", len(ops))
	}
	for _, op := range ops {
		if op.Kind != action.KindBroadcast || op.Text != "hi" {
			t.Fatalf("op = %+v", op)
		}
		if op.Peer != 1 && op.Peer != 3 {
			t.Fatalf("op targets non-group peer %d", op.Peer)
		}
	}
}

func TestCheckAndKeepAliveOps(t *testing.T) {
	t.Parallel()
	ops, err := CheckOps("@grp")(context.Background(), storage.Session{}, &seqClient{})
	if err != nil || len(ops) != 1 || ops[0].Kind != action.KindCheck {
		t.Fatalf("check ops = %+v, err = %v", ops, err)
	}
	ops, err = KeepAliveOps()(context.Background(), storage.Session{}, &seqClient{})
	if err != nil || len(ops) != 1 || ops[0].Kind != action.KindKeepAlive {
		t.Fatalf("keepalive ops = %+v, err = %v", ops, err)
	}
}

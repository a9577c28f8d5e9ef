package batch

import (
	"context"

	"herdbot/internal/action"
	"herdbot/internal/storage"
)

// JoinOps makes every session join each of the given targets.
func JoinOps(targets []string) OpsFunc {
	return func(context.Context, storage.Session, action.Client) ([]action.Op, error) {
		ops := make([]action.Op, 0, len(targets))
		for _, t := range targets {
			ops = append(ops, action.Op{Kind: action.KindJoin, Target: t})
		}
		return ops, nil
	}
}

// LeaveOps makes every session leave each of the given targets.
func LeaveOps(targets []string) OpsFunc {
	return func(context.Context, storage.Session, action.Client) ([]action.Op, error) {
		ops := make([]action.Op, 0, len(targets))
		for _, t := range targets {
			ops = append(ops, action.Op{Kind: action.KindLeave, Target: t})
		}
		return ops, nil
	}
}

// BroadcastOps sends text to every group dialog the session can see.
// The dialog list is enumerated per session after connect, so each
// account broadcasts to its own conversations.
func BroadcastOps(text string) OpsFunc {
	return func(ctx context.Context, _ storage.Session, c action.Client) ([]action.Op, error) {
		dialogs, err := c.Dialogs(ctx)
		if err != nil {
			return nil, err
		}
		var ops []action.Op
		for _, d := range dialogs {
			if !d.IsGroup {
				continue
			}
			ops = append(ops, action.Op{Kind: action.KindBroadcast, Peer: d.ID, Text: text})
		}
		return ops, nil
	}
}

// CheckOps asks every session whether it is a member of the target.
func CheckOps(target string) OpsFunc {
	return func(context.Context, storage.Session, action.Client) ([]action.Op, error) {
		return []action.Op{{Kind: action.KindCheck, Target: target}}, nil
	}
}

// KeepAliveOps refreshes presence on every session.
func KeepAliveOps() OpsFunc {
	return func(context.Context, storage.Session, action.Client) ([]action.Op, error) {
		return []action.Op{{Kind: action.KindKeepAlive}}, nil
	}
}

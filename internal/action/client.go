package action

import (
	"context"
	"time"

	"herdbot/internal/storage"
)

// Client is an authorized MTProto connection for one worker session.
// Implementations translate server errors into the package sentinels
// (ErrAlreadyParticipant, ErrForbidden, ErrUnauthorized, *FloodError).
type Client interface {
	Join(ctx context.Context, target string) error
	Leave(ctx context.Context, target string) error
	SendMessage(ctx context.Context, peer int64, text string) error
	Dialogs(ctx context.Context) ([]Dialog, error)
	IsMember(ctx context.Context, target string) (bool, error)
	// SetOnline flips the account's presence. Keep-alive toggles this
	// off and back on to refresh last-seen.
	SetOnline(ctx context.Context, online bool) error
	Close() error
}

// DialRequest carries everything needed to bring one session online.
type DialRequest struct {
	ArtifactPath string
	APIID        int
	APIHash      string
	Proxy        *storage.Proxy // nil means direct connection
	Timeout      time.Duration
}

// Dialer opens Clients. The production implementation wraps an MTProto
// library; tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, req DialRequest) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, req DialRequest) (Client, error) {
	return f(ctx, req)
}

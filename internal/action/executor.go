package action

import (
	"context"
	"fmt"
	"os"
	"time"

	logx "herdbot/pkg/logx"

	"herdbot/internal/storage"
)

// Creds are the MTProto application credentials shared by all sessions.
type Creds struct {
	APIID   int
	APIHash string
}

// Executor brings sessions online and runs single classified actions.
// Batch semantics (chunking, pacing, reattempts) live in the batch runner;
// the executor only knows how to do one thing once.
type Executor struct {
	dialer  Dialer
	store   storage.Store
	creds   Creds
	timeout time.Duration
	path    func(storage.Session) string
	log     logx.Logger
}

func NewExecutor(dialer Dialer, store storage.Store, creds Creds, connectTimeout time.Duration, artifactPath func(storage.Session) string, log logx.Logger) *Executor {
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	return &Executor{
		dialer:  dialer,
		store:   store,
		creds:   creds,
		timeout: connectTimeout,
		path:    artifactPath,
		log:     log.With(logx.String("component", "action")),
	}
}

// Connect dials the session, resolving its proxy binding if it has one.
// A missing artifact file means the authorization is gone, not a crash.
func (e *Executor) Connect(ctx context.Context, sess storage.Session) (Client, error) {
	path := e.path(sess)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", sess.Phone, ErrUnauthorized)
	}
	req := DialRequest{
		ArtifactPath: path,
		APIID:        e.creds.APIID,
		APIHash:      e.creds.APIHash,
		Timeout:      e.timeout,
	}
	if sess.ProxyID != nil {
		p, err := e.store.GetProxy(ctx, *sess.ProxyID)
		if err != nil {
			return nil, fmt.Errorf("resolve proxy %d: %w", *sess.ProxyID, err)
		}
		req.Proxy = &p
	}
	c, err := e.dialer.Dial(ctx, req)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Execute performs one op on an already-connected client and classifies
// the outcome. It never returns an error: failures are encoded in the
// Result status.
func (e *Executor) Execute(ctx context.Context, c Client, phone string, op Op) Result {
	start := time.Now()
	res := Result{Phone: phone, Op: op}

	var err error
	switch op.Kind {
	case KindJoin:
		err = c.Join(ctx, op.Target)
	case KindLeave:
		err = c.Leave(ctx, op.Target)
	case KindBroadcast:
		err = c.SendMessage(ctx, op.Peer, op.Text)
	case KindCheck:
		res.Member, err = c.IsMember(ctx, op.Target)
	case KindKeepAlive:
		err = e.keepAlive(ctx, c)
	default:
		err = fmt.Errorf("unknown action kind %q", op.Kind)
	}

	res.Status, res.RetryAfter = Classify(err)
	if !res.Status.OK() {
		res.Err = err
	}
	res.Took = time.Since(start)

	e.log.Debug("action executed",
		logx.String("phone", phone),
		logx.String("kind", string(op.Kind)),
		logx.String("target", op.Target),
		logx.String("status", string(res.Status)),
		logx.Duration("took", res.Took),
	)
	return res
}

// keepAlive bounces presence off and back on so the account's last-seen
// stays fresh.
func (e *Executor) keepAlive(ctx context.Context, c Client) error {
	if err := c.SetOnline(ctx, false); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}
	return c.SetOnline(ctx, true)
}

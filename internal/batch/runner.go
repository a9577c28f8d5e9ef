package batch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	logx "herdbot/pkg/logx"

	"herdbot/internal/action"
	"herdbot/internal/session"
	"herdbot/internal/storage"
)

const (
	defaultChunkSize    = 3
	defaultPauseMin     = 1 * time.Second
	defaultPauseMax     = 3 * time.Second
	defaultFloodWaitCap = 10 * time.Minute
)

// OpsFunc produces the ops one session should run. It is called after the
// session is connected so ops can depend on client state (e.g. broadcast
// enumerates the session's own dialogs).
type OpsFunc func(ctx context.Context, sess storage.Session, c action.Client) ([]action.Op, error)

// Reporter receives run progress. Implementations must be safe for
// concurrent use; the runner calls it from worker goroutines.
type Reporter interface {
	OnResult(res action.Result, done, total int)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(res action.Result, done, total int)

func (f ReporterFunc) OnResult(res action.Result, done, total int) { f(res, done, total) }

// Spec describes one bounded run over a set of sessions.
type Spec struct {
	Name     string
	Sessions []storage.Session
	Ops      OpsFunc

	// ChunkSize bounds how many sessions run concurrently. Chunks execute
	// strictly one after another.
	ChunkSize int
	// Sequential forces one session at a time regardless of ChunkSize.
	Sequential bool

	// PauseMin/PauseMax bound the randomized pause between consecutive ops
	// on the same session.
	PauseMin time.Duration
	PauseMax time.Duration

	// FloodWaitCap bounds how long a rate-limit hint is honored before the
	// reattempt is abandoned.
	FloodWaitCap time.Duration

	// TargetSuccess stops the run from issuing new actions once this many
	// ops succeeded across all sessions. Actions already in flight still
	// finish and count. Zero means run everything.
	TargetSuccess int
}

// Summary aggregates a finished run.
type Summary struct {
	Name        string
	Succeeded   int // StatusSuccess + StatusAlreadyDone
	RateLimited int // still rate-limited after the one reattempt
	Forbidden   int
	Invalidated int // sessions evicted mid-run
	Transient   int
	Skipped     []string // phones busy in another run
	Results     []action.Result
	Took        time.Duration
}

// Failed is the count of non-OK outcomes.
func (s Summary) Failed() int {
	return s.RateLimited + s.Forbidden + s.Invalidated + s.Transient
}

// Runner executes bounded batch runs: sessions grouped into chunks,
// chunks sequential, sessions within a chunk concurrent, ops on one
// session paced and retried per the rate-limit contract.
type Runner struct {
	exec *action.Executor
	pool *session.Pool
	log  logx.Logger
}

func NewRunner(exec *action.Executor, pool *session.Pool, log logx.Logger) *Runner {
	return &Runner{exec: exec, pool: pool, log: log.With(logx.String("component", "batch"))}
}

// Run executes the spec. Sessions already enrolled in another run are
// skipped, not queued. The returned Summary is complete even when ctx is
// canceled mid-run.
func (r *Runner) Run(ctx context.Context, spec Spec, rep Reporter) (Summary, error) {
	start := time.Now()
	spec = withDefaults(spec)

	sum := Summary{Name: spec.Name}

	// Enroll sessions; busy ones are skipped so concurrent runs never
	// share an account.
	var enrolled []storage.Session
	for _, s := range spec.Sessions {
		if r.pool.TryAcquire(s.Phone) {
			enrolled = append(enrolled, s)
		} else {
			sum.Skipped = append(sum.Skipped, s.Phone)
		}
	}
	defer func() {
		for _, s := range enrolled {
			r.pool.Release(s.Phone)
		}
	}()
	if len(enrolled) == 0 {
		sum.Took = time.Since(start)
		return sum, errors.New("no sessions available")
	}

	r.log.Info("run started",
		logx.String("run", spec.Name),
		logx.Int("sessions", len(enrolled)),
		logx.Int("skipped", len(sum.Skipped)),
		logx.Int("chunk_size", spec.ChunkSize),
	)

	var (
		mu        sync.Mutex
		succeeded atomic.Int64
		done      atomic.Int64
	)
	total := len(enrolled) // best-effort: ops per session are not known up front

	// Reaching the success target stops the run from issuing NEW actions.
	// Actions already in flight run to completion and still count; only
	// a real cancellation (ctx) interrupts them.
	targetMet := func() bool {
		return spec.TargetSuccess > 0 && succeeded.Load() >= int64(spec.TargetSuccess)
	}

	record := func(res action.Result) {
		mu.Lock()
		sum.Results = append(sum.Results, res)
		switch res.Status {
		case action.StatusSuccess, action.StatusAlreadyDone:
			sum.Succeeded++
		case action.StatusRateLimited:
			sum.RateLimited++
		case action.StatusForbidden:
			sum.Forbidden++
		case action.StatusSessionInvalid:
			sum.Invalidated++
		default:
			sum.Transient++
		}
		mu.Unlock()

		if res.Status.OK() {
			succeeded.Add(1)
		}
		if rep != nil {
			rep.OnResult(res, int(done.Load()), total)
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rngMu sync.Mutex
	pause := func() time.Duration {
		rngMu.Lock()
		defer rngMu.Unlock()
		span := spec.PauseMax - spec.PauseMin
		if span <= 0 {
			return spec.PauseMin
		}
		return spec.PauseMin + time.Duration(rng.Int63n(int64(span)))
	}

	for _, chunk := range chunkSessions(enrolled, spec.ChunkSize, spec.Sequential) {
		if ctx.Err() != nil || targetMet() {
			break
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, sess := range chunk {
			sess := sess
			g.Go(func() error {
				r.runSession(gctx, spec, sess, record, pause, targetMet)
				done.Add(1)
				return nil
			})
		}
		// Workers never return errors; Wait is just the chunk barrier.
		_ = g.Wait()
	}

	sum.Took = time.Since(start)
	r.log.Info("run finished",
		logx.String("run", spec.Name),
		logx.Int("succeeded", sum.Succeeded),
		logx.Int("failed", sum.Failed()),
		logx.Duration("took", sum.Took),
	)
	if ctx.Err() != nil {
		return sum, ctx.Err()
	}
	return sum, nil
}

// runSession connects one session and walks its ops. All failures are
// recorded as results; the method itself never fails. stopNew gates new
// actions once the run's success target is met.
func (r *Runner) runSession(ctx context.Context, spec Spec, sess storage.Session, record func(action.Result), pause func() time.Duration, stopNew func() bool) {
	if ctx.Err() != nil || stopNew() {
		return
	}

	c, err := r.exec.Connect(ctx, sess)
	if err != nil {
		status, _ := action.Classify(err)
		res := action.Result{Phone: sess.Phone, Status: status, Err: err}
		if status == action.StatusSessionInvalid {
			r.evict(sess.Phone)
		} else if status.OK() {
			// Connect errors are never successes; downgrade.
			res.Status = action.StatusTransient
		}
		record(res)
		return
	}
	defer func() { _ = c.Close() }()

	ops, err := spec.Ops(ctx, sess, c)
	if err != nil {
		status, _ := action.Classify(err)
		if status.OK() {
			status = action.StatusTransient
		}
		record(action.Result{Phone: sess.Phone, Status: status, Err: err})
		return
	}

	for i, op := range ops {
		if ctx.Err() != nil || stopNew() {
			return
		}
		if i > 0 {
			if !sleepCtx(ctx, pause()) {
				return
			}
		}

		res := r.exec.Execute(ctx, c, sess.Phone, op)

		// Honor the server's back-off once, then reattempt. A second
		// rate limit on the same op counts as failed.
		if res.Status == action.StatusRateLimited && res.RetryAfter <= spec.FloodWaitCap {
			r.log.Warn("rate limited; honoring back-off",
				logx.String("phone", sess.Phone),
				logx.String("target", op.Target),
				logx.Duration("retry_after", res.RetryAfter),
			)
			if !sleepCtx(ctx, res.RetryAfter) {
				record(res)
				return
			}
			res = r.exec.Execute(ctx, c, sess.Phone, op)
		}

		record(res)

		if res.Status == action.StatusSessionInvalid {
			r.evict(sess.Phone)
			return
		}
	}
}

// evict removes a dead session from the pool entirely (row, flow
// memberships via cascade, artifact file).
func (r *Runner) evict(phone string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.pool.Delete(ctx, phone); err != nil {
		r.log.Warn("evict failed", logx.String("phone", phone), logx.Err(err))
		return
	}
	r.log.Warn("session evicted (authorization dead)", logx.String("phone", phone))
}

func withDefaults(spec Spec) Spec {
	if spec.ChunkSize <= 0 {
		spec.ChunkSize = defaultChunkSize
	}
	if spec.PauseMin <= 0 {
		spec.PauseMin = defaultPauseMin
	}
	if spec.PauseMax < spec.PauseMin {
		spec.PauseMax = defaultPauseMax
		if spec.PauseMax < spec.PauseMin {
			spec.PauseMax = spec.PauseMin
		}
	}
	if spec.FloodWaitCap <= 0 {
		spec.FloodWaitCap = defaultFloodWaitCap
	}
	return spec
}

// chunkSessions splits sessions into consecutive groups of size n,
// preserving order. The last chunk may be short.
func chunkSessions(sessions []storage.Session, n int, sequential bool) [][]storage.Session {
	if sequential {
		n = 1
	}
	if n <= 0 {
		n = 1
	}
	var out [][]storage.Session
	for i := 0; i < len(sessions); i += n {
		end := i + n
		if end > len(sessions) {
			end = len(sessions)
		}
		out = append(out, sessions[i:end])
	}
	return out
}

// sleepCtx waits d or until ctx is done; it reports whether the full
// wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "herdbot/pkg/logx"

	"herdbot/internal/eventbus"
)

// ErrAlreadyRunning means the scope already hosts a run and replace was
// not requested.
var ErrAlreadyRunning = errors.New("a run is already active in this scope")

// Scope serializes runs: at most one run is active per scope. Operators
// typically scope by chat so each control chat drives one run at a time.
type Scope string

// ChatScope builds the conventional per-chat scope.
func ChatScope(chatID int64) Scope { return Scope(fmt.Sprintf("chat:%d", chatID)) }

// Handle identifies a live run.
type Handle struct {
	ID        string
	Scope     Scope
	Name      string
	StartedAt time.Time
}

type entry struct {
	handle Handle
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks live runs and lets operators cancel them. One run per
// scope; starting with replace=true cancels the incumbent first.
type Registry struct {
	parent context.Context
	bus    eventbus.Bus
	log    logx.Logger

	mu   sync.Mutex
	runs map[Scope]*entry
}

func New(parent context.Context, bus eventbus.Bus, log logx.Logger) *Registry {
	return &Registry{
		parent: parent,
		bus:    bus,
		log:    log.With(logx.String("component", "registry")),
		runs:   map[Scope]*entry{},
	}
}

func (r *Registry) publish(e eventbus.Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(e)
}

// Start launches fn in its own goroutine under a cancelable context and
// registers it. The run deregisters itself when fn returns. Panics are
// contained and logged.
func (r *Registry) Start(scope Scope, name string, replace bool, fn func(ctx context.Context)) (Handle, error) {
	if fn == nil {
		return Handle{}, errors.New("nil run func")
	}

	r.mu.Lock()
	for {
		old, ok := r.runs[scope]
		if !ok {
			break
		}
		if !replace {
			incumbent := old.handle.Name
			r.mu.Unlock()
			return Handle{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, incumbent)
		}
		// Cancel the incumbent and wait for it outside the lock so its
		// cleanup can't deadlock against us. The incumbent stays in the
		// map until it deregisters itself, so the scope reads as taken
		// for the whole handover. The slot is re-checked after the lock
		// is re-acquired: another Start may have claimed it meanwhile.
		old.cancel()
		r.mu.Unlock()
		<-old.done
		r.mu.Lock()
	}

	ctx, cancel := context.WithCancel(r.parent)
	e := &entry{
		handle: Handle{
			ID:        uuid.NewString(),
			Scope:     scope,
			Name:      name,
			StartedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.runs[scope] = e
	r.mu.Unlock()

	r.log.Info("run registered",
		logx.String("id", e.handle.ID),
		logx.String("scope", string(scope)),
		logx.String("name", name),
	)
	r.publish(eventbus.RunStarted(e.handle.ID, string(scope), name))

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("run panicked",
					logx.String("id", e.handle.ID),
					logx.String("name", name),
					logx.Any("panic", p),
					logx.String("stack", string(debug.Stack())),
				)
			}
			cancel()
			r.mu.Lock()
			if cur, ok := r.runs[scope]; ok && cur == e {
				delete(r.runs, scope)
			}
			r.mu.Unlock()
			close(e.done)
			r.publish(eventbus.RunFinished(e.handle.ID, string(scope), name))
			r.log.Info("run finished",
				logx.String("id", e.handle.ID),
				logx.String("name", name),
				logx.Duration("took", time.Since(e.handle.StartedAt)),
			)
		}()
		fn(ctx)
	}()

	return e.handle, nil
}

// Cancel stops the run in the given scope and waits for it to finish.
// It reports whether a run was active.
func (r *Registry) Cancel(scope Scope) bool {
	r.mu.Lock()
	e, ok := r.runs[scope]
	if ok {
		e.cancel()
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	<-e.done
	return true
}

// CancelAll stops every live run and waits for them all.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.runs))
	for _, e := range r.runs {
		e.cancel()
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		<-e.done
	}
	return len(entries)
}

// ListRunning returns the live handles sorted by start time.
func (r *Registry) ListRunning() []Handle {
	r.mu.Lock()
	out := make([]Handle, 0, len(r.runs))
	for _, e := range r.runs {
		out = append(out, e.handle)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"herdbot/internal/action"
	kit "herdbot/internal/transport"
)

// editInterval throttles progress edits so long runs don't hammer the
// Bot API with one edit per result.
const editInterval = 2 * time.Second

// progressReporter mirrors run progress into a single control-chat
// message via throttled edits.
type progressReporter struct {
	adapter kit.Adapter
	ref     kit.MessageRef
	title   string

	mu       sync.Mutex
	lastEdit time.Time
	ok       int
	fail     int
}

func newProgressReporter(ctx context.Context, adapter kit.Adapter, to kit.ChatTarget, title string) (*progressReporter, error) {
	ref, err := adapter.SendText(ctx, to, title+"\nstarting...", nil)
	if err != nil {
		return nil, err
	}
	return &progressReporter{adapter: adapter, ref: ref, title: title}, nil
}

func (r *progressReporter) OnResult(res action.Result, done, total int) {
	r.mu.Lock()
	if res.Status.OK() {
		r.ok++
	} else {
		r.fail++
	}
	if time.Since(r.lastEdit) < editInterval {
		r.mu.Unlock()
		return
	}
	r.lastEdit = time.Now()
	text := fmt.Sprintf("%s\nsessions %d/%d | ok %d | failed %d", r.title, done, total, r.ok, r.fail)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.adapter.EditText(ctx, r.ref, text, nil)
}

// Finish replaces the progress message with the final summary.
func (r *progressReporter) Finish(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.adapter.EditText(ctx, r.ref, text, nil)
}

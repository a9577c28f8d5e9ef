// Package eventbus is the in-process notification fabric: run lifecycle,
// config reloads and similar signals travel over it so components don't
// hold references to each other. Delivery is best-effort; a slow
// subscriber loses events rather than stalling the publisher.
package eventbus

import (
	"sync"
	"time"
)

// Event types published by the core components.
const (
	TypeRunStarted  = "run.started"
	TypeRunFinished = "run.finished"
)

// RunEvent is the payload carried by run lifecycle events.
type RunEvent struct {
	ID    string
	Scope string
	Name  string
}

// RunStarted builds the event the registry publishes when a run is
// registered.
func RunStarted(id, scope, name string) Event {
	return Event{Type: TypeRunStarted, Data: RunEvent{ID: id, Scope: scope, Name: name}}
}

// RunFinished builds the event published when a run deregisters.
func RunFinished(id, scope, name string) Event {
	return Event{Type: TypeRunFinished, Data: RunEvent{ID: id, Scope: scope, Name: name}}
}

// Event is one signal on the bus. Time is stamped at publish when left
// zero. Data should be a small value type such as RunEvent.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks; subscribers
// read from buffered channels and may miss events when they fall behind.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines; fanout happens
// on the publisher's stack.
func New() Bus {
	return &memBus{subs: map[int]chan Event{}}
}

type memBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	// Sends race with Unsubscribe closing the channel; the recover turns
	// that narrow window into a dropped event instead of a panic.
	for _, ch := range targets {
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

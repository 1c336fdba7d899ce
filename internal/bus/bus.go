// Package bus fans committed task changes out to in-process listeners: the
// websocket stream and the tests that assert on it.
package bus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event types, also used as the "type" field on the websocket stream.
const (
	TaskCreated   = "task.created"
	TaskUpdated   = "task.updated"
	TaskDeleted   = "task.deleted"
	TaskGenerated = "task.generated"
)

// TaskEvent describes one committed mutation. Task is the stored task (the
// pre-delete snapshot for deletions) or, for TaskGenerated, the task list
// the model produced. Seq is assigned by Publish and increases by one per
// event, so a listener can spot gaps left by a full buffer.
type TaskEvent struct {
	Seq     uint64    `json:"seq"`
	Type    string    `json:"type"`
	TaskID  string    `json:"task_id,omitempty"`
	Title   string    `json:"title,omitempty"`
	Task    any       `json:"task,omitempty"`
	TraceID string    `json:"trace_id,omitempty"`
	At      time.Time `json:"at"`
}

const listenerBuffer = 64

// Listener receives the events it asked for until Bus.Unsubscribe.
type Listener struct {
	id     uint64
	types  []string
	events chan TaskEvent
	missed atomic.Int64
}

func (l *Listener) Events() <-chan TaskEvent { return l.events }

// Missed counts events dropped because this listener fell behind.
func (l *Listener) Missed() int64 { return l.missed.Load() }

func (l *Listener) wants(typ string) bool {
	return len(l.types) == 0 || slices.Contains(l.types, typ)
}

type Bus struct {
	mu        sync.RWMutex
	listeners map[uint64]*Listener
	lastID    uint64
	seq       atomic.Uint64
	dropped   atomic.Int64
}

func New() *Bus {
	return &Bus{listeners: make(map[uint64]*Listener)}
}

// Subscribe registers a listener for the given event types, or for every
// type when none are named.
func (b *Bus) Subscribe(types ...string) *Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	l := &Listener{
		id:     b.lastID,
		types:  slices.Clone(types),
		events: make(chan TaskEvent, listenerBuffer),
	}
	b.listeners[l.id] = l
	return l
}

// Unsubscribe closes the listener's channel. Repeat calls are no-ops.
func (b *Bus) Unsubscribe(l *Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[l.id]; ok {
		delete(b.listeners, l.id)
		close(l.events)
	}
}

// Publish stamps ev with the next sequence number and hands it to every
// interested listener without blocking. Publishing on a nil Bus does nothing.
func (b *Bus) Publish(ev TaskEvent) {
	if b == nil {
		return
	}
	ev.Seq = b.seq.Add(1)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		if !l.wants(ev.Type) {
			continue
		}
		select {
		case l.events <- ev:
		default:
			l.missed.Add(1)
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped totals Missed across all listeners, past and present.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

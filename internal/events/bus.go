// Package events implements the process-wide publish/subscribe mechanism of
// spec §4.9: monotonically ordered, best-effort delivery to local
// subscribers scoped by run ID.
package events

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.sykli.dev/core/internal/core/ports"
)

// subscriberBuffer bounds how many events a slow subscriber can fall behind
// by before Publish starts dropping events for it (spec §4.9 "best-effort").
const subscriberBuffer = 256

// Bus implements ports.EventBus in-process.
type Bus struct {
	idMu  sync.Mutex
	idGen *ulid.MonotonicEntropy

	mu   sync.Mutex
	subs map[string][]*subscriber
}

type subscriber struct {
	runID string
	ch    chan ports.Event
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		idGen: ulid.Monotonic(rand.Reader, 0),
		subs:  make(map[string][]*subscriber),
	}
}

// Publish assigns evt a monotonic ULID (if unset) and fans it out to every
// subscriber of evt.RunID and every subscriber of ports.AllRuns. Never
// blocks: a subscriber whose buffer is full misses the event.
func (b *Bus) Publish(evt ports.Event) {
	if evt.ID == "" {
		evt.ID = b.nextID(evt.Timestamp)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	targets := append(append([]*subscriber{}, b.subs[evt.RunID]...), b.subs[ports.AllRuns]...)
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribe returns a channel receiving every event published for runID (or
// every run, when runID is ports.AllRuns), and an unsubscribe func that
// closes the channel and stops delivery.
func (b *Bus) Subscribe(runID string) (<-chan ports.Event, func()) {
	sub := &subscriber{runID: runID, ch: make(chan ports.Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[runID] = append(b.subs[runID], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		peers := b.subs[runID]
		for i, s := range peers {
			if s == sub {
				b.subs[runID] = append(peers[:i], peers[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
	return sub.ch, unsubscribe
}

func (b *Bus) nextID(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	b.idMu.Lock()
	defer b.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), b.idGen).String()
}

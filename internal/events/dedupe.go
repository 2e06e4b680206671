// Package events ingests bus messages into the persistent mirror, routes
// failures to the dead letter queue, and exposes publish and inspection APIs.
package events

import (
	"container/list"
	"sync"
	"time"
)

const (
	// dedupeWindow is how long a (topic, message_id) pair suppresses
	// duplicate mirror inserts.
	dedupeWindow = 10 * time.Minute

	// dedupeCapacity bounds memory; oldest entries evict first.
	dedupeCapacity = 100000
)

type dedupeEntry struct {
	key     string
	seenAt  time.Time
	element *list.Element
}

// Deduper is a bounded TTL set over (topic, message_id) pairs.
type Deduper struct {
	mu      sync.Mutex
	entries map[string]*dedupeEntry
	order   *list.List
	window  time.Duration
	cap     int
	now     func() time.Time
}

// NewDeduper builds a deduper with the standard 10-minute window.
func NewDeduper() *Deduper {
	return &Deduper{
		entries: make(map[string]*dedupeEntry),
		order:   list.New(),
		window:  dedupeWindow,
		cap:     dedupeCapacity,
		now:     time.Now,
	}
}

// Seen reports whether the pair is present within the window. It never
// records; callers Mark only after the event is durably mirrored, so a
// failed insert cannot suppress its own redelivery.
func (d *Deduper) Seen(topic, messageID string) bool {
	key := topic + "\x00" + messageID
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictExpired(now)

	e, ok := d.entries[key]
	return ok && now.Sub(e.seenAt) < d.window
}

// Mark records the pair, refreshing it if already present.
func (d *Deduper) Mark(topic, messageID string) {
	key := topic + "\x00" + messageID
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictExpired(now)

	if e, ok := d.entries[key]; ok {
		e.seenAt = now
		d.order.MoveToBack(e.element)
		return
	}

	for len(d.entries) >= d.cap {
		d.evictOldest()
	}

	e := &dedupeEntry{key: key, seenAt: now}
	e.element = d.order.PushBack(e)
	d.entries[key] = e
}

// Len reports the current entry count.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Deduper) evictExpired(now time.Time) {
	for front := d.order.Front(); front != nil; front = d.order.Front() {
		e := front.Value.(*dedupeEntry)
		if now.Sub(e.seenAt) < d.window {
			return
		}
		d.order.Remove(front)
		delete(d.entries, e.key)
	}
}

func (d *Deduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*dedupeEntry)
	d.order.Remove(front)
	delete(d.entries, e.key)
}

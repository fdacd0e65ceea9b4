package database

import (
	"sync"
	"time"
)

// Change is a committed mutation of a table.
type Change struct {
	Table string
	At    time.Time
}

// Feed fans local store changes out to subscribers. Publishing never blocks;
// a subscriber with a full buffer misses the change.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	next   int
	closed bool
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Change)}
}

// Subscribe returns a channel of changes and a function that stops the
// subscription and closes the channel.
func (f *Feed) Subscribe(buffer int) (<-chan Change, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Change, buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers c to every subscriber that has room for it.
func (f *Feed) Publish(c Change) {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

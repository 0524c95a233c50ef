package netmap

import "sync"

// defaultFeedBuffer is the per-subscription channel buffer. Slow subscribers
// stall publication rather than lose changes; the feed never drops or
// reorders a committed change.
const defaultFeedBuffer = 256

// ChangeFeed broadcasts MapChanges to subscribers. The Cache publishes to it
// only after the corresponding store transaction has committed, so a
// subscriber never observes a change whose persisted counterpart was rolled
// back. Publication order is the publisher's serialization: the Cache holds
// its mutation lock across Publish.
type ChangeFeed struct {
	sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	bufSize int
}

// NewChangeFeed creates a ChangeFeed. A bufSize of zero selects the default
// buffer.
func NewChangeFeed(bufSize int) *ChangeFeed {
	if bufSize <= 0 {
		bufSize = defaultFeedBuffer
	}
	return &ChangeFeed{
		subs:    make(map[uint64]*Subscription),
		bufSize: bufSize,
	}
}

// Subscription is one subscriber's view of the feed. Changes are read from C
// in publication order. Cancel detaches the subscription and closes C.
type Subscription struct {
	C <-chan MapChange

	feed *ChangeFeed
	id   uint64
	ch   chan MapChange
	done chan struct{}

	sendLock sync.Mutex
	closed   bool

	cancelOnce sync.Once
}

// Subscribe registers a new subscriber. The caller is responsible for
// draining C or cancelling.
func (f *ChangeFeed) Subscribe() *Subscription {
	f.Lock()
	defer f.Unlock()

	ch := make(chan MapChange, f.bufSize)
	sub := &Subscription{
		C:    ch,
		feed: f,
		id:   f.nextID,
		ch:   ch,
		done: make(chan struct{}),
	}
	f.subs[sub.id] = sub
	f.nextID++

	return sub
}

// Cancel removes the subscription from the feed and closes its channel.
// Changes already buffered remain readable. A publisher stalled on this
// subscription's full buffer is released rather than waited on.
func (s *Subscription) Cancel() {
	s.feed.Lock()
	delete(s.feed.subs, s.id)
	s.feed.Unlock()

	s.cancelOnce.Do(func() {
		close(s.done)

		// Wait out any in-flight send before closing the channel.
		s.sendLock.Lock()
		s.closed = true
		close(s.ch)
		s.sendLock.Unlock()
	})
}

// send delivers one change, blocking until the subscriber has buffer space or
// the subscription is cancelled.
func (s *Subscription) send(change MapChange) {
	s.sendLock.Lock()
	defer s.sendLock.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- change:
	case <-s.done:
	}
}

// Publish delivers a change to every subscriber, in order. It must only be
// called for committed writes. Delivery happens outside the feed lock against
// a snapshot of the subscriber list, so a slow subscriber stalls publication
// but never blocks Subscribe or Cancel.
func (f *ChangeFeed) Publish(change MapChange) {
	f.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.Unlock()

	for _, s := range subs {
		s.send(change)
	}
}

// Len returns the number of active subscriptions.
func (f *ChangeFeed) Len() int {
	f.Lock()
	defer f.Unlock()
	return len(f.subs)
}

package session

import (
	"sync"
)

// outbox hands events to a consumer in publish order without ever blocking
// the publisher. Lifecycle, transcript, recording and status events are
// always delivered. Level, Tick and PlaybackScheduled are dropped while the
// backlog is full, and consecutive Level readings collapse into the newest.
type outbox struct {
	out   chan Event
	limit int
	wake  chan struct{}

	mu       sync.Mutex
	queue    []Event
	inflight int
}

func newOutbox(size int) *outbox {
	o := &outbox{
		out:   make(chan Event, size),
		limit: size,
		wake:  make(chan struct{}, 1),
	}
	go o.run()
	return o
}

func lossy(ev Event) bool {
	switch ev.(type) {
	case Level, Tick, PlaybackScheduled:
		return true
	}
	return false
}

func (o *outbox) push(ev Event) {
	o.mu.Lock()
	if _, ok := ev.(Level); ok && len(o.queue) > 0 {
		if _, last := o.queue[len(o.queue)-1].(Level); last {
			o.queue[len(o.queue)-1] = ev
			o.mu.Unlock()
			return
		}
	}
	if lossy(ev) && len(o.queue) >= o.limit {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, ev)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		o.inflight = len(batch)
		o.mu.Unlock()

		if len(batch) == 0 {
			<-o.wake
			continue
		}
		for _, ev := range batch {
			o.out <- ev
			o.mu.Lock()
			o.inflight--
			o.mu.Unlock()
		}
	}
}

// backlog counts events published but not yet received. It may briefly
// overcount an event that is being handed over.
func (o *outbox) backlog() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue) + o.inflight + len(o.out)
}

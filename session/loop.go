package session

import "sync"

// loop runs posted functions one at a time, in order, on its own goroutine.
// post never blocks, so device and transport callbacks can hand work over
// without waiting on the loop.
type loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newLoop() *loop {
	l := &loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// post queues fn and reports whether the loop accepted it.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// dispatch adapts post to playback.WithDispatch.
func (l *loop) dispatch(fn func()) { l.post(fn) }

// call runs fn on the loop and waits for it. It returns immediately if the
// loop is stopped.
func (l *loop) call(fn func()) {
	done := make(chan struct{})
	if !l.post(func() { fn(); close(done) }) {
		return
	}
	select {
	case <-done:
	case <-l.done:
	}
}

func (l *loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-l.wake:
		case <-l.quit:
			l.mu.Lock()
			batch = l.queue
			l.queue = nil
			l.mu.Unlock()
			for _, fn := range batch {
				fn()
			}
			return
		}
	}
}

// stop rejects further posts, runs what is already queued and waits for
// the goroutine to exit. Must not be called from the loop itself.
func (l *loop) stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.mu.Unlock()
	close(l.quit)
	<-l.done
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"omnimind/audio"
	"omnimind/capture"
	"omnimind/encoder"
	"omnimind/log"
	"omnimind/metrics"
	"omnimind/pcm"
	"omnimind/playback"
	"omnimind/recorder"
	"omnimind/transport"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultSendTimeout    = 5 * time.Second

	eventBuffer = 256
)

var errStopped = errors.New("session stopped")

type Config struct {
	Transport      transport.Config
	Device         *audio.DeviceInfo // nil selects the system default
	RecordFormat   encoder.Format
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	FrameSize      int
}

type Deps struct {
	Audio     audio.Context
	Transport transport.Transport
	Clock     Clock            // defaults to wall time
	Metrics   *metrics.Metrics // optional
}

// Controller owns the lifecycle of one live conversation at a time:
// Idle -> Connecting -> Live -> Stopping -> Idle. Start and Stop may be
// called from any goroutine. Events are delivered in order; when the
// consumer falls behind only meter, timer and playback events are dropped.
type Controller struct {
	audio   audio.Context
	tr      transport.Transport
	clock   Clock
	metrics *metrics.Metrics
	cfg     Config
	events  *outbox

	mu         sync.Mutex
	state      State
	pending    *liveSession // Connecting
	cur        *liveSession // Live
	closing    *liveSession // Stopping
	transcript []TranscriptEntry
	artifact   *recorder.Artifact
	elapsed    time.Duration
}

// liveSession holds the resources acquired by one Start. Fields below the
// loop-owned marker are only touched from ls.loop.
type liveSession struct {
	id          string
	startedAt   time.Time
	connStart   time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	startCancel context.CancelFunc

	capDev  audio.CaptureDevice
	playDev audio.PlaybackDevice
	mixer   *playback.Mixer
	sched   *playback.Scheduler
	rec     *recorder.Recorder
	pipe    *capture.Pipeline
	tsess   transport.Session
	loop    *loop

	sending   atomic.Bool
	active    atomic.Bool
	abandoned bool // guarded by Controller.mu
	wentLive  bool // guarded by Controller.mu

	opened    chan struct{}
	startErr  chan error
	startDone chan struct{}
	released  chan struct{}

	artifact  *recorder.Artifact
	pipeStats capture.Stats

	// loop-owned
	attached  bool
	gotOpened bool
	live      bool
	ticker    Ticker
	tickQuit  chan struct{}
	ticks     int
	connDur   time.Duration
	stats     streamStats
}

type streamStats struct {
	recvAudio   int
	recvBytes   int
	playedS     float64
	dropped     int
	transcripts int
}

// ending describes why a live session is being torn down.
type ending struct {
	reason string // "stop", "closed" or "error"
	msg    string
	err    error
}

func New(deps Deps, cfg Config) *Controller {
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.RecordFormat == "" {
		cfg.RecordFormat = encoder.FormatFLAC
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = capture.DefaultFrameSize
	}
	return &Controller{
		audio:   deps.Audio,
		tr:      deps.Transport,
		clock:   deps.Clock,
		metrics: deps.Metrics,
		cfg:     cfg,
		events:  newOutbox(eventBuffer),
	}
}

func (c *Controller) Events() <-chan Event { return c.events.out }

// Backlog reports how many published events have not been received yet.
func (c *Controller) Backlog() int { return c.events.backlog() }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the fragments received in the current or last session.
func (c *Controller) Transcript() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TranscriptEntry(nil), c.transcript...)
}

// Artifact returns the recording of the last completed session, or nil.
func (c *Controller) Artifact() *recorder.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func (c *Controller) publish(ev Event) { c.events.push(ev) }

// Start acquires the microphone and output, opens the transport and returns
// once the transport reports the session open. On any failure every
// resource acquired so far is released and the controller is Idle again.
// Microphone failures wrap ErrPermission.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	startCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	ls := c.newLiveSession(cancel)
	c.state = Connecting
	c.pending = ls
	c.transcript = nil
	c.artifact = nil
	c.elapsed = 0
	c.mu.Unlock()
	defer close(ls.startDone)
	defer cancel()
	c.publish(StateChanged{From: Idle, To: Connecting})

	err := c.connect(startCtx, ls)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	if ls.wentLive {
		// Opened won the race against the deadline.
		c.mu.Unlock()
		return nil
	}
	ls.abandoned = true
	c.mu.Unlock()

	if relErr := c.release(ls); relErr != nil {
		log.Warnf("session %s: release after failed start: %v", ls.id, relErr)
	}
	c.mu.Lock()
	c.pending = nil
	c.state = Idle
	c.mu.Unlock()
	close(ls.released)

	log.Errorf("session %s: start failed: %v", ls.id, err)
	c.metrics.SessionEvent("start_failed")
	c.publish(StateChanged{From: Connecting, To: Idle})
	c.publish(Status{Msg: "start failed: " + err.Error(), Err: err})
	return err
}

func (c *Controller) newLiveSession(startCancel context.CancelFunc) *liveSession {
	ctx, cancel := context.WithCancel(context.Background())
	ls := &liveSession{
		id:          uuid.NewString(),
		startedAt:   c.clock.Now(),
		ctx:         ctx,
		cancel:      cancel,
		startCancel: startCancel,
		opened:      make(chan struct{}),
		startErr:    make(chan error, 1),
		startDone:   make(chan struct{}),
		released:    make(chan struct{}),
	}
	ls.active.Store(true)
	return ls
}

func (c *Controller) connect(ctx context.Context, ls *liveSession) error {
	dev, err := c.audio.NewCapture(c.cfg.Device, audio.CaptureConfig{
		SampleRate: pcm.InputSampleRate,
		Channels:   1,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermission, err)
	}
	ls.capDev = dev

	out, err := c.audio.NewPlayback(audio.PlaybackConfig{
		SampleRate: pcm.OutputSampleRate,
		Channels:   1,
	})
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	ls.playDev = out
	ls.mixer = playback.NewMixer(out, pcm.OutputSampleRate)
	if err := ls.mixer.Start(); err != nil {
		return fmt.Errorf("start output: %w", err)
	}

	ls.loop = newLoop()
	ls.sched = playback.NewScheduler(ls.mixer, playback.WithDispatch(ls.loop.dispatch))
	ls.sched.Reset()

	ls.rec = recorder.New(c.cfg.RecordFormat, pcm.InputSampleRate)
	if err := ls.rec.Start(ls.startedAt); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}

	ls.pipe = capture.New(c.sink(ls),
		capture.WithFrameSize(c.cfg.FrameSize),
		capture.WithErrorHandler(func(err error) {
			ls.loop.post(func() { c.lost(ls, ending{reason: "error", msg: "audio send failed", err: err}) })
		}),
	)
	dev.SetCallback(c.onAudio(ls))
	if err := dev.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrPermission, err)
	}

	handler := func(ev transport.Event) {
		ls.loop.post(func() { c.handleTransport(ls, ev) })
	}
	ls.connStart = time.Now()
	sess, err := c.tr.Open(ctx, c.cfg.Transport, handler)
	if err != nil {
		return err
	}
	ls.tsess = sess
	ls.loop.post(func() {
		ls.attached = true
		c.maybeGoLive(ls)
	})

	select {
	case <-ls.opened:
		return nil
	case err := <-ls.startErr:
		return err
	case <-ctx.Done():
		return &transport.Error{Transport: c.tr.Name(), Op: "connect", Err: ctx.Err()}
	}
}

// onAudio runs on the device thread: it feeds the recorder always and the
// transport only while live.
func (c *Controller) onAudio(ls *liveSession) audio.DataCallback {
	return func(samples []float32) {
		ls.rec.Write(samples)
		if ls.sending.Load() {
			ls.pipe.Write(samples)
		}
		c.publish(Level{RMS: pcm.RMS(samples)})
	}
}

func (c *Controller) sink(ls *liveSession) capture.Sink {
	return func(f capture.Frame) error {
		if !ls.sending.Load() {
			return errStopped
		}
		ctx, cancel := context.WithTimeout(ls.ctx, c.cfg.SendTimeout)
		defer cancel()
		if err := ls.tsess.SendAudio(ctx, f); err != nil {
			return err
		}
		c.metrics.FrameSent(len(f.Data))
		return nil
	}
}

// maybeGoLive runs on the loop once the transport both returned a session
// and reported it open.
func (c *Controller) maybeGoLive(ls *liveSession) {
	if ls.live || !ls.attached || !ls.gotOpened {
		return
	}
	c.mu.Lock()
	if c.pending != ls || ls.abandoned {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.cur = ls
	c.state = Live
	ls.wentLive = true
	c.mu.Unlock()

	ls.live = true
	ls.connDur = time.Since(ls.connStart)
	ls.sending.Store(true)
	c.startTicker(ls)
	close(ls.opened)

	model := c.cfg.Transport.Model
	if model == "" {
		model = transport.DefaultModel
	}
	log.SessionStart(ls.id, c.tr.Name(), model, string(c.cfg.RecordFormat))
	c.metrics.ObserveConnect(ls.connDur)
	c.metrics.SetActive(true)
	c.metrics.SessionEvent("start")
	c.publish(StateChanged{From: Connecting, To: Live})
}

func (c *Controller) handleTransport(ls *liveSession, ev transport.Event) {
	switch ev := ev.(type) {
	case transport.Opened:
		ls.gotOpened = true
		c.maybeGoLive(ls)
	case transport.Message:
		if !ls.live || !ls.active.Load() {
			return
		}
		if ev.HasAudio() {
			c.schedule(ls, ev)
		}
		if t := ev.Transcript; t != nil && t.Text != "" {
			c.appendTranscript(ls, *t)
		}
		if ev.Interrupted {
			log.Infof("session %s: assistant interrupted", ls.id)
		}
	case transport.Errored:
		c.lost(ls, ending{reason: "error", msg: "connection lost", err: ev.Err})
	case transport.Closed:
		c.lost(ls, ending{reason: "closed", msg: "session closed: " + ev.Reason})
	}
}

// lost handles a terminal transport event. Before the session is live it
// fails the pending Start; afterwards it tears the session down.
func (c *Controller) lost(ls *liveSession, end ending) {
	if !ls.live {
		err := end.err
		if err == nil {
			err = &transport.Error{Transport: c.tr.Name(), Op: "connect", Err: errors.New(end.msg)}
		}
		select {
		case ls.startErr <- err:
		default:
		}
		return
	}
	if !ls.active.Load() {
		return
	}
	go c.teardown(ls, end)
}

func (c *Controller) schedule(ls *liveSession, m transport.Message) {
	var (
		sc   playback.Scheduled
		err  error
		size int
	)
	if m.AudioEncoded != "" {
		size = len(m.AudioEncoded)
		sc, err = ls.sched.EnqueueEncoded(m.AudioEncoded)
	} else {
		size = len(m.Audio)
		sc, err = ls.sched.Enqueue(m.Audio)
	}
	if err != nil {
		ls.stats.dropped++
		log.FrameDropped(size, err)
		c.metrics.FrameDropped()
		return
	}
	if sc.Frames == 0 {
		return
	}
	ls.stats.recvAudio++
	ls.stats.recvBytes += sc.Frames * pcm.BytesPerSample
	ls.stats.playedS += sc.Duration
	c.metrics.AudioScheduled(ls.sched.Pending())
	c.publish(PlaybackScheduled{sc})
}

func (c *Controller) appendTranscript(ls *liveSession, t transport.Transcription) {
	entry := TranscriptEntry{Speaker: t.Speaker, Text: t.Text, At: c.clock.Now()}
	c.mu.Lock()
	c.transcript = append(c.transcript, entry)
	c.mu.Unlock()
	ls.stats.transcripts++
	log.TranscriptLine(t.Speaker.String(), t.Text)
	c.publish(TranscriptAppended{Entry: entry})
}

func (c *Controller) startTicker(ls *liveSession) {
	t := c.clock.NewTicker(time.Second)
	quit := make(chan struct{})
	ls.ticker, ls.tickQuit = t, quit
	go func() {
		for {
			select {
			case <-t.C():
				ls.loop.post(func() { c.tick(ls) })
			case <-quit:
				return
			}
		}
	}()
}

func (c *Controller) stopTicker(ls *liveSession) {
	if ls.ticker == nil {
		return
	}
	ls.ticker.Stop()
	close(ls.tickQuit)
	ls.ticker = nil
}

func (c *Controller) tick(ls *liveSession) {
	if !ls.live || !ls.active.Load() {
		return
	}
	ls.ticks++
	d := time.Duration(ls.ticks) * time.Second
	c.mu.Lock()
	c.elapsed = d
	c.mu.Unlock()
	c.publish(Tick{Elapsed: d})
}

// Stop ends the current session and waits until the controller is Idle.
// From Idle it does nothing. During Connecting it cancels the pending Start.
// A *ReleaseError reports resources that failed to close; the controller is
// Idle regardless.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case Connecting:
		ls := c.pending
		c.mu.Unlock()
		ls.startCancel()
		<-ls.startDone
		// Start may have gone live before the cancel landed.
		if c.State() == Live {
			return c.Stop()
		}
		return nil
	case Live:
		ls := c.cur
		c.mu.Unlock()
		return c.teardown(ls, ending{reason: "stop"})
	case Stopping:
		ls := c.closing
		c.mu.Unlock()
		<-ls.released
		return nil
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) teardown(ls *liveSession, end ending) error {
	c.mu.Lock()
	if c.cur != ls {
		c.mu.Unlock()
		<-ls.released
		return nil
	}
	c.cur = nil
	c.closing = ls
	c.state = Stopping
	c.mu.Unlock()
	c.publish(StateChanged{From: Live, To: Stopping})

	err := c.release(ls)

	c.mu.Lock()
	c.closing = nil
	c.state = Idle
	c.artifact = ls.artifact
	c.mu.Unlock()
	close(ls.released)

	c.logEnd(ls, end)
	c.metrics.SetActive(false)
	c.metrics.SessionEvent(end.reason)
	c.publish(StateChanged{From: Stopping, To: Idle})
	if ls.artifact != nil {
		c.publish(RecordingReady{Artifact: ls.artifact})
	}
	switch {
	case end.err != nil:
		c.publish(Status{Msg: end.msg + ": " + end.err.Error(), Err: end.err})
	case end.reason != "stop":
		c.publish(Status{Msg: end.msg})
	}
	return err
}

// release closes every resource ls acquired. Each step runs even if an
// earlier one failed.
func (c *Controller) release(ls *liveSession) error {
	var errs []error
	fail := func(resource string, err error) {
		if err == nil {
			return
		}
		log.ReleaseFailure(resource, err)
		c.metrics.ReleaseFailed(resource)
		errs = append(errs, fmt.Errorf("%s: %w", resource, err))
	}

	ls.active.Store(false)
	ls.sending.Store(false)

	if ls.capDev != nil {
		ls.capDev.ClearCallback()
		ls.capDev.Stop()
		fail("capture", ls.capDev.Close())
	}
	// Closing the session first unblocks a write stuck on the network, so
	// draining the pipeline below only discards what is still queued.
	ls.cancel()
	if ls.tsess != nil {
		fail("transport", ls.tsess.Close())
	}
	if ls.pipe != nil {
		if err := ls.pipe.Close(); err != nil && !stopped(err) {
			log.Warnf("session %s: audio send: %v", ls.id, err)
		}
		ls.pipeStats = ls.pipe.Stats()
	}
	if ls.loop != nil {
		ls.loop.call(func() {
			c.stopTicker(ls)
			ls.sched.StopAll()
		})
		ls.loop.stop()
	}
	if ls.mixer != nil {
		fail("playback", ls.mixer.Close())
	} else if ls.playDev != nil {
		fail("playback", ls.playDev.Close())
	}
	if ls.rec != nil && ls.rec.Recording() {
		a, err := ls.rec.Stop()
		fail("recorder", err)
		ls.artifact = a
	}

	if len(errs) > 0 {
		return &ReleaseError{Errs: errs}
	}
	return nil
}

// stopped reports whether a send failed only because release got there
// first.
func stopped(err error) bool {
	return errors.Is(err, errStopped) || errors.Is(err, transport.ErrSessionClosed) || errors.Is(err, context.Canceled)
}

func (c *Controller) logEnd(ls *liveSession, end ending) {
	var recS float64
	if ls.artifact != nil {
		recS = ls.artifact.Duration.Seconds()
	}
	log.SessionEnd(log.SessionSummary{
		ID:          ls.id,
		Reason:      end.reason,
		Duration:    c.clock.Now().Sub(ls.startedAt),
		Transcripts: ls.stats.transcripts,
		RecordingS:  recS,
		Err:         end.err,
	})
	log.StreamMetrics(ls.id, log.StreamMetricsData{
		ConnectMs:      float64(ls.connDur.Microseconds()) / 1000,
		SentFrames:     ls.pipeStats.Frames,
		SentKB:         float64(ls.pipeStats.Bytes) / 1024,
		AudioS:         float64(ls.pipeStats.Samples) / pcm.InputSampleRate,
		QueuedMax:      ls.pipeStats.Queued,
		RecvAudio:      ls.stats.recvAudio,
		RecvKB:         float64(ls.stats.recvBytes) / 1024,
		PlayedS:        ls.stats.playedS,
		DroppedFrames:  ls.stats.dropped,
		TranscriptMsgs: ls.stats.transcripts,
	})
}

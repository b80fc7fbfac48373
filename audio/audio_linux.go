//go:build linux

package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("omnimind"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if device != nil {
		if _, err := p.client.SourceByID(device.ID); err != nil {
			return nil, fmt.Errorf("%w: source %q: %v", ErrDeviceUnavailable, device.Name, err)
		}
	} else if _, err := p.client.DefaultSource(); err != nil {
		return nil, fmt.Errorf("%w: default source: %v", ErrDeviceUnavailable, err)
	}
	return &pulseCapture{
		client: p.client,
		device: device,
		config: config,
	}, nil
}

func (p *pulseContext) NewPlayback(config PlaybackConfig) (PlaybackDevice, error) {
	if _, err := p.client.DefaultSink(); err != nil {
		return nil, fmt.Errorf("%w: default sink: %v", ErrDeviceUnavailable, err)
	}
	return &pulsePlayback{client: p.client, config: config}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := pulse.Float32Writer(func(buf []float32) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		cb := c.callback.Load()
		if cb == nil {
			return len(buf), nil
		}
		samples := make([]float32, len(buf))
		copy(samples, buf)
		(*cb)(samples)
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			vol := uint32(proto.VolumeNorm)
			r.ChannelVolumes = proto.ChannelVolumes{vol}
		}),
	}
	if c.config.Channels <= 1 {
		opts = append(opts, pulse.RecordMono)
	} else {
		opts = append(opts, pulse.RecordStereo)
	}
	if c.device != nil {
		source, err := c.client.SourceByID(c.device.ID)
		if err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("%w: pulse record: %v", ErrDeviceUnavailable, err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		<-c.stop
		stream.Stop()
		stream.Close()
	}()

	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseCapture) Close() error {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		if err := c.stream.Error(); err != nil {
			return fmt.Errorf("pulse record stream: %w", err)
		}
	}
	return nil
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}

type pulsePlayback struct {
	client *pulse.Client
	config PlaybackConfig
	fill   atomic.Pointer[FillCallback]

	mu     sync.Mutex
	stream *pulse.PlaybackStream
}

func (p *pulsePlayback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}

	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		clear(buf)
		if fn := p.fill.Load(); fn != nil {
			(*fn)(buf)
		}
		return len(buf), nil
	})

	opts := []pulse.PlaybackOption{
		pulse.PlaybackSampleRate(int(p.config.SampleRate)),
		pulse.PlaybackLatency(0.05),
	}
	if p.config.Channels <= 1 {
		opts = append(opts, pulse.PlaybackMono)
	} else {
		opts = append(opts, pulse.PlaybackStereo)
	}

	stream, err := p.client.NewPlayback(reader, opts...)
	if err != nil {
		return fmt.Errorf("%w: pulse playback: %v", ErrDeviceUnavailable, err)
	}
	stream.Start()
	p.stream = stream
	return nil
}

func (p *pulsePlayback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		p.stream.Stop()
	}
}

func (p *pulsePlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	err := p.stream.Error()
	p.stream.Close()
	p.stream = nil
	if err != nil {
		return fmt.Errorf("pulse playback stream: %w", err)
	}
	return nil
}

func (p *pulsePlayback) SetFill(fn FillCallback) {
	if fn == nil {
		p.fill.Store(nil)
		return
	}
	p.fill.Store(&fn)
}

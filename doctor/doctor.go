package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"omnimind/audio"
	"omnimind/beep"
	"omnimind/hotkey"
	"omnimind/pcm"
	"omnimind/shutdown"
	"omnimind/transport"
)

// silenceRMS is the level below which the microphone is considered silent.
const silenceRMS = 0.002

// Doctor runs interactive checks of everything a live session needs.
type Doctor struct {
	In        io.Reader
	Out       io.Writer
	Audio     audio.Context
	Device    *audio.DeviceInfo
	Transport transport.Transport
	Hotkey    hotkey.Hotkey // nil skips the hotkey check

	MicDuration    time.Duration
	HotkeyTimeout  time.Duration
	ConnectTimeout time.Duration

	reader *bufio.Reader
}

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(d *Doctor) int {
	resetTerminal()
	sig := make(chan os.Signal, 1)
	shutdown.Notify(sig)
	go func() {
		<-sig
		fmt.Fprintln(os.Stderr, "\nInterrupted")
		resetTerminal()
		os.Exit(1)
	}()
	return d.Run()
}

func (d *Doctor) Run() int {
	d.defaults()
	fmt.Fprintln(d.Out, "omnimind doctor - interactive system diagnostics")
	fmt.Fprintln(d.Out, "================================================")

	checks := []struct {
		name string
		fn   func() bool
	}{
		{"Hotkey detection", d.checkHotkey},
		{"Microphone", d.checkMic},
		{"Speaker", d.checkSpeaker},
		{"Live connection", d.checkTransport},
	}
	allPass := true
	for i, c := range checks {
		fmt.Fprintf(d.Out, "\n[%d/%d] %s\n", i+1, len(checks), c.name)
		if !c.fn() {
			allPass = false
			break
		}
	}

	fmt.Fprintln(d.Out)
	if allPass {
		fmt.Fprintln(d.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(d.Out, "Some checks failed. See details above.")
	return 1
}

func (d *Doctor) defaults() {
	if d.In == nil {
		d.In = os.Stdin
	}
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.MicDuration <= 0 {
		d.MicDuration = 3 * time.Second
	}
	if d.HotkeyTimeout <= 0 {
		d.HotkeyTimeout = 10 * time.Second
	}
	if d.ConnectTimeout <= 0 {
		d.ConnectTimeout = 15 * time.Second
	}
	d.reader = bufio.NewReader(d.In)
}

func (d *Doctor) confirm(prompt string) bool {
	fmt.Fprintf(d.Out, "%s [y/n]: ", prompt)
	answer, _ := d.reader.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (d *Doctor) checkHotkey() bool {
	if d.Hotkey == nil {
		fmt.Fprintln(d.Out, "  SKIP: hotkey disabled")
		return true
	}
	fmt.Fprintln(d.Out, "Press Ctrl+Shift+Space...")
	if err := d.Hotkey.Register(); err != nil {
		fmt.Fprintf(d.Out, "  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer d.Hotkey.Unregister()

	select {
	case <-d.Hotkey.Pressed():
		fmt.Fprintln(d.Out, "  PASS: hotkey detected")
		resetTerminal()
		return true
	case <-time.After(d.HotkeyTimeout):
		fmt.Fprintln(d.Out, "  FAIL: timeout waiting for hotkey")
		return false
	}
}

func (d *Doctor) checkMic() bool {
	name := "system default"
	if d.Device != nil {
		name = d.Device.Name
		if audio.IsBluetooth(name) {
			fmt.Fprintln(d.Out, "  Warning: Bluetooth microphones switch the headset to a low quality profile")
		}
	}
	fmt.Fprintf(d.Out, "Speak for %.0f seconds into %s...\n", d.MicDuration.Seconds(), name)

	rms, n, err := measure(d.Audio, d.Device, d.MicDuration)
	if err != nil {
		fmt.Fprintf(d.Out, "  FAIL: microphone unavailable: %v\n", err)
		return false
	}
	if n == 0 {
		fmt.Fprintln(d.Out, "  FAIL: no audio captured")
		return false
	}
	fmt.Fprintf(d.Out, "  Captured %.1fs, level %.4f\n", float64(n)/pcm.InputSampleRate, rms)
	if rms < silenceRMS {
		fmt.Fprintln(d.Out, "  FAIL: microphone is silent (muted or wrong device?)")
		return false
	}
	fmt.Fprintln(d.Out, "  PASS: microphone level ok")
	return true
}

// measure captures for dur and returns the overall RMS and sample count.
func measure(ctx audio.Context, device *audio.DeviceInfo, dur time.Duration) (float64, int, error) {
	dev, err := ctx.NewCapture(device, audio.CaptureConfig{SampleRate: pcm.InputSampleRate, Channels: 1})
	if err != nil {
		return 0, 0, err
	}
	defer dev.Close()

	var (
		mu    sync.Mutex
		sumSq float64
		n     int
	)
	dev.SetCallback(func(samples []float32) {
		mu.Lock()
		for _, s := range samples {
			sumSq += float64(s) * float64(s)
		}
		n += len(samples)
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		return 0, 0, err
	}
	time.Sleep(dur)
	dev.ClearCallback()
	dev.Stop()

	mu.Lock()
	defer mu.Unlock()
	if n == 0 {
		return 0, 0, nil
	}
	return math.Sqrt(sumSq / float64(n)), n, nil
}

func (d *Doctor) checkSpeaker() bool {
	fmt.Fprintln(d.Out, "Playing a test tone...")
	if err := beep.New(d.Audio).PlaySync(beep.Start); err != nil {
		fmt.Fprintf(d.Out, "  FAIL: output unavailable: %v\n", err)
		return false
	}
	if !d.confirm("Did you hear the tone?") {
		fmt.Fprintln(d.Out, "  FAIL: tone not confirmed")
		return false
	}
	fmt.Fprintln(d.Out, "  PASS: speaker verified by user")
	return true
}

func (d *Doctor) checkTransport() bool {
	if d.Transport == nil {
		fmt.Fprintln(d.Out, "  FAIL: no transport configured")
		return false
	}
	fmt.Fprintf(d.Out, "Connecting via %s...\n", d.Transport.Name())

	ctx, cancel := context.WithTimeout(context.Background(), d.ConnectTimeout)
	defer cancel()

	opened := make(chan struct{})
	failed := make(chan error, 1)
	var once sync.Once
	start := time.Now()
	sess, err := d.Transport.Open(ctx, transport.DefaultConfig(), func(ev transport.Event) {
		switch ev := ev.(type) {
		case transport.Opened:
			once.Do(func() { close(opened) })
		case transport.Errored:
			select {
			case failed <- ev.Err:
			default:
			}
		case transport.Closed:
			select {
			case failed <- fmt.Errorf("closed: %s", ev.Reason):
			default:
			}
		}
	})
	if err != nil {
		fmt.Fprintf(d.Out, "  FAIL: %v\n", err)
		return false
	}
	defer sess.Close()

	select {
	case <-opened:
		fmt.Fprintf(d.Out, "  PASS: session ready in %dms\n", time.Since(start).Milliseconds())
		return true
	case err := <-failed:
		fmt.Fprintf(d.Out, "  FAIL: %v\n", err)
	case <-ctx.Done():
		fmt.Fprintln(d.Out, "  FAIL: timeout waiting for the session to open")
	}
	return false
}

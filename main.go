package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"omnimind/audio"
	"omnimind/beep"
	"omnimind/doctor"
	"omnimind/encoder"
	"omnimind/hotkey"
	"omnimind/log"
	"omnimind/metrics"
	"omnimind/session"
	"omnimind/shutdown"
	"omnimind/transport"
)

var version = "dev"

type options struct {
	transport      string
	model          string
	instruction    string
	recordFormat   string
	outDir         string
	device         string
	setup          bool
	tui            bool
	copy           bool
	logPath        string
	profile        string
	connectTimeout time.Duration
	testWAV        string
	doctor         bool
	version        bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("omnimind", flag.ContinueOnError)
	fs.StringVar(&o.transport, "transport", "genai", "Live transport: genai or ws")
	fs.StringVar(&o.model, "model", transport.DefaultModel, "Live model name")
	fs.StringVar(&o.instruction, "instruction", "", "System instruction for the assistant")
	fs.StringVar(&o.recordFormat, "record-format", "flac", "Recording format: flac or wav")
	fs.StringVar(&o.outDir, "out", ".", "Directory for saved recordings")
	fs.StringVar(&o.device, "device", "", "Use named microphone device")
	fs.BoolVar(&o.setup, "setup", false, "Select microphone device interactively")
	fs.BoolVar(&o.tui, "tui", true, "Run with terminal UI")
	fs.BoolVar(&o.copy, "copy", false, "Copy the transcript to the clipboard when a session ends")
	fs.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&o.profile, "profile", "", "Serve pprof and /metrics on this address (e.g., localhost:6060)")
	fs.DurationVar(&o.connectTimeout, "connect-timeout", session.DefaultConnectTimeout, "Give up if the live session is not open after this long")
	fs.StringVar(&o.testWAV, "test", "", "Test mode: replay WAV as the microphone, commands on stdin")
	fs.BoolVar(&o.doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.connectTimeout <= 0 {
		return nil, fmt.Errorf("connect-timeout must be positive")
	}
	return o, nil
}

func apiKey() string {
	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("GOOGLE_API_KEY")
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func serveProfile(addr string, reg *prometheus.Registry) {
	http.Handle("/metrics", metrics.Handler(reg))
	fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
	}
}

func exit(code int) {
	log.Close()
	os.Exit(code)
}

func run() {
	// A missing .env is normal.
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.version {
		fmt.Printf("omnimind %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(opts.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if opts.profile != "" {
		go serveProfile(opts.profile, reg)
	}

	format, err := encoder.ParseFormat(opts.recordFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
	cfg := session.Config{
		Transport:      transport.DefaultConfig(),
		RecordFormat:   format,
		ConnectTimeout: opts.connectTimeout,
	}
	cfg.Transport.Model = opts.model
	if opts.instruction != "" {
		cfg.Transport.SystemInstruction = opts.instruction
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if opts.testWAV != "" {
		exit(runTestMode(ctx, opts, cfg, m))
	}

	tr, err := transport.New(opts.transport, apiKey())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		exit(1)
	}
	defer actx.Close()

	switch {
	case opts.device != "":
		cfg.Device, err = audio.FindDevice(actx, opts.device)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v, using system default\n", err)
		}
	case opts.setup:
		cfg.Device, err = audio.SelectDevice(actx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v\nFalling back to default device\n", err)
		}
	}
	if cfg.Device != nil {
		log.Infof("microphone: %s", cfg.Device.Name)
	}

	if opts.doctor {
		exit(doctor.Run(&doctor.Doctor{
			Audio:          actx,
			Device:         cfg.Device,
			Transport:      tr,
			Hotkey:         hotkey.New(),
			ConnectTimeout: opts.connectTimeout,
		}))
	}

	ctrl := session.New(session.Deps{Audio: actx, Transport: tr, Metrics: m}, cfg)
	a := &app{
		ctx:    ctx,
		ctrl:   ctrl,
		beeps:  beep.New(actx),
		outDir: opts.outDir,
		copy:   opts.copy,
	}

	hk := hotkey.New()
	hkErr := hk.Register()
	if hkErr != nil {
		log.Warnf("hotkey unavailable: %v", hkErr)
	} else {
		defer hk.Unregister()
		go hotkey.Run(ctx, hk, a.toggle)
	}

	if opts.tui {
		runTUI(ctx, a, newTUIModel(tr.Name(), cfg, a.toggle))
		a.show = consoleView(os.Stdout)
	} else {
		if hkErr != nil {
			fmt.Fprintf(os.Stderr, "Error: hotkey unavailable: %v\n", hkErr)
			exit(1)
		}
		a.show = consoleView(os.Stdout)
		fmt.Printf("omnimind %s ready - press Ctrl+Shift+Space to talk\n", version)
		a.pump(ctx)
	}

	a.shutdown()
	log.Close()
}

func runTUI(ctx context.Context, a *app, model tuiModel) {
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	a.show = func(ev session.Event) { p.Send(eventMsg{ev}) }
	pumpCtx, cancel := context.WithCancel(ctx)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		a.pump(pumpCtx)
	}()
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		log.Errorf("TUI error: %v", err)
	}
	cancel()
	<-pumped
}

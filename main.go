// ABOUTME: Entry point for the clock-radio audio engine
// ABOUTME: Parses CLI flags and wires the engine, ingest, player, alarm, metrics and TUI
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/internal/discovery"
	"github.com/Resonate-Protocol/clockradio-go/internal/ingest"
	"github.com/Resonate-Protocol/clockradio-go/internal/logging"
	"github.com/Resonate-Protocol/clockradio-go/internal/metrics"
	"github.com/Resonate-Protocol/clockradio-go/internal/player"
	"github.com/Resonate-Protocol/clockradio-go/internal/ui"
	"github.com/Resonate-Protocol/clockradio-go/internal/version"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/eq"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/output"
	"github.com/Resonate-Protocol/clockradio-go/pkg/engine"
)

const shutdownWait = 6 * time.Second

var (
	addr        = flag.String("addr", "", "Listen address for the ingest server")
	port        = flag.Int("port", 8927, "Ingest server port (also advertised via mDNS)")
	name        = flag.String("name", "", "Radio friendly name (default: hostname-clockradio)")
	logFile     = flag.String("log-file", "clockradio.log", "Log file path")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	outputKind  = flag.String("output", "oto", "Audio output: oto or null")
	rate        = flag.Int("rate", audio.DefaultSampleRate, "Initial sample rate in Hz")
	volume      = flag.Int("volume", 200, "Stream volume 0-255")
	bass        = flag.Int("bass", eq.CenterStep, "Bass step 0-30 (15 is flat)")
	treble      = flag.Int("treble", eq.CenterStep, "Treble step 0-30 (15 is flat)")
	spectrumOn  = flag.Bool("spectrum", false, "Start the spectrum analyzer")
	ringKiB     = flag.Int("ring-kib", 0, "Jitter buffer size in KiB (default: largest tier)")
	memKiB      = flag.Int("mem-kib", 0, "Memory available for the jitter buffer in KiB")
	tones       = flag.Bool("tones", true, "Play connect and disconnect tones")
	folder      = flag.String("folder", "", "Music folder for the local player")
	repeat      = flag.String("repeat", "all", "Player repeat mode: all, one or shuffle")
	play        = flag.Bool("play", false, "Start the local player immediately")
	alarmFile   = flag.String("alarm-file", "", "Alarm file (default: built-in beep)")
	alarmFor    = flag.Duration("alarm-for", player.DefaultAlarmPlayFor, "How long each alarm cycle plays")
	alarmRepeat = flag.Int("alarm-repeats", 1, "Alarm cycles (1-5)")
	alarmEvery  = flag.Duration("alarm-every", player.DefaultAlarmRepeatEvery, "Time between alarm cycle starts")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Determine if we should use TUI or streaming logs
	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		logging.SetOutput(f)
	} else {
		logging.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	logging.SetLevel(zerolog.InfoLevel)
	if *debug {
		logging.SetLevel(zerolog.DebugLevel)
	}
	logger := logging.Component("main")

	if err := run(useTUI); err != nil {
		logger.Error().Err(err).Msg("clock radio failed")
		_ = f.Close()
		os.Exit(1)
	}
}

func run(useTUI bool) error {
	logger := *logging.GetDefaultLogger()
	mainLog := logging.Component("main")

	radioName := *name
	if radioName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		radioName = fmt.Sprintf("%s-clockradio", hostname)
	}
	mainLog.Info().Str("name", radioName).Str("version", version.Version).Msg("starting clock radio")

	repeatMode, err := player.ParseRepeatMode(*repeat)
	if err != nil {
		return err
	}

	ch, err := openChannel(*outputKind, *rate, logger)
	if err != nil {
		return err
	}

	cfg := engine.DefaultConfig()
	cfg.SampleRate = *rate
	cfg.Volume = clampByte(*volume)
	cfg.Bass = uint8(min(max(*bass, 0), eq.MaxStep))
	cfg.Treble = uint8(min(max(*treble, 0), eq.MaxStep))
	cfg.Spectrum = *spectrumOn
	if *ringKiB > 0 {
		cfg.RingBytes = *ringKiB * 1024
	}
	if *memKiB > 0 {
		cfg.AvailableMemory = *memKiB * 1024
	}

	eng, err := engine.New(cfg, ch, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer func() {
		if err := eng.Close(); err != nil {
			mainLog.Warn().Err(err).Msg("engine close failed")
		}
	}()

	// Metrics
	m := metrics.New()
	m.StartUpdater(ctx, eng, time.Second)

	// Ingest
	srv := ingest.New(ingest.Config{
		Addr:         *addr,
		Port:         *port,
		ConnectTones: *tones,
	}, eng, logger)
	srv.Handle("/metrics", m.Handler())

	srvErr := make(chan error, 1)
	srvDone := make(chan struct{})
	go func() {
		srvErr <- srv.Start()
		close(srvDone)
	}()
	defer func() {
		srv.Stop()
		select {
		case <-srvDone:
		case <-time.After(shutdownWait):
			mainLog.Warn().Msg("ingest server did not stop in time")
		}
	}()

	// Discovery
	if !*noMDNS {
		disc := discovery.NewManager(discovery.Config{
			ServiceName: radioName,
			Port:        *port,
			Path:        ingest.DefaultPath,
		}, logger)
		if err := disc.Advertise(); err != nil {
			mainLog.Warn().Err(err).Msg("mDNS advertisement failed")
		}
		defer disc.Stop()
	}

	// Local player and alarm
	var p *player.Player
	if *folder != "" {
		p = player.New(player.Config{
			Folder: *folder,
			Volume: cfg.Volume,
			Repeat: repeatMode,
		}, eng, logger)
		go p.Run(ctx)
		if *play {
			p.Play()
		}
	}

	alarm := player.NewAlarm(eng, logger)
	defer alarm.Stop()
	alarmCfg := player.AlarmConfig{
		Path:        *alarmFile,
		Volume:      cfg.Volume,
		PlayFor:     *alarmFor,
		Repeats:     *alarmRepeat,
		RepeatEvery: *alarmEvery,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if useTUI {
		opts := ui.Options{
			Name:     radioName,
			Alarm:    alarm,
			AlarmCfg: alarmCfg,
		}
		if p != nil {
			opts.Player = p
		}

		tuiErr := make(chan error, 1)
		go func() {
			tuiErr <- ui.Run(eng, opts)
		}()

		select {
		case err := <-tuiErr:
			if err != nil {
				return fmt.Errorf("tui failed: %w", err)
			}
			mainLog.Info().Msg("quit from TUI")
		case err := <-srvErr:
			return err
		case <-sigChan:
			mainLog.Info().Msg("shutdown signal received")
		}
	} else {
		select {
		case err := <-srvErr:
			return err
		case <-sigChan:
			mainLog.Info().Msg("shutdown signal received")
		}
	}

	mainLog.Info().Msg("clock radio stopped")
	return nil
}

func openChannel(kind string, sampleRate int, logger zerolog.Logger) (output.Channel, error) {
	switch kind {
	case "oto":
		ch, err := output.NewOtoChannel(sampleRate, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio output: %w", err)
		}
		return ch, nil
	case "null":
		return output.NewNullChannel(sampleRate), nil
	default:
		return nil, fmt.Errorf("unknown output %q (want oto or null)", kind)
	}
}

func clampByte(v int) uint8 {
	return uint8(min(max(v, 0), 255))
}

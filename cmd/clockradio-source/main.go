// ABOUTME: Streams an audio file to a clock radio like a phone over A2DP
// ABOUTME: Finds the radio via mDNS unless -radio is given, then paces PCM over the ingest socket
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/internal/client"
	"github.com/Resonate-Protocol/clockradio-go/internal/discovery"
	"github.com/Resonate-Protocol/clockradio-go/internal/logging"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/decode"
)

var (
	radioAddr = flag.String("radio", "", "Radio address host:port (skip mDNS)")
	audioFile = flag.String("file", "", "Audio file to stream (MP3, FLAC, WAV)")
	volume    = flag.Int("volume", -1, "Set the radio's stream volume 0-255 before playing")
	lead      = flag.Duration("lead", client.DefaultLead, "How far ahead of real time to send")
	browseFor = flag.Duration("browse-timeout", 10*time.Second, "How long to search for a radio")
	debug     = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logging.SetLevel(zerolog.InfoLevel)
	if *debug {
		logging.SetLevel(zerolog.DebugLevel)
	}
	logger := logging.Component("main")

	if *audioFile == "" {
		fmt.Fprintln(os.Stderr, "usage: clockradio-source -file song.mp3 [-radio host:port]")
		os.Exit(2)
	}

	if err := run(); err != nil {
		logger.Error().Err(err).Msg("streaming failed")
		os.Exit(1)
	}
}

func run() error {
	logger := *logging.GetDefaultLogger()
	mainLog := logging.Component("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := decode.Open(*audioFile)
	if err != nil {
		return err
	}
	defer s.Close()

	addr, path := *radioAddr, ""
	if addr == "" {
		mainLog.Info().Msg("searching for a radio")
		disc := discovery.NewManager(discovery.Config{}, logger)
		disc.Browse()
		select {
		case radio := <-disc.Radios():
			addr = fmt.Sprintf("%s:%d", radio.Host, radio.Port)
			path = radio.Path
			mainLog.Info().Str("name", radio.Name).Str("addr", addr).Msg("discovered radio")
		case <-time.After(*browseFor):
			disc.Stop()
			return fmt.Errorf("no radio found after %v", *browseFor)
		case <-ctx.Done():
			disc.Stop()
			return ctx.Err()
		}
		disc.Stop()
	}

	c := client.NewClient(client.Config{RadioAddr: addr, Path: path, Lead: *lead}, logger)
	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Configure(s.SampleRate()); err != nil {
		return err
	}
	if *volume >= 0 {
		if _, err := c.SetVolume(*volume); err != nil {
			return err
		}
	}
	st, err := c.Start()
	if err != nil {
		return err
	}
	mainLog.Info().
		Str("file", *audioFile).
		Int("rate", s.SampleRate()).
		Int("channels", s.Channels()).
		Str("session", st.Session).
		Msg("streaming")

	res, err := c.Stream(ctx, s)
	if err != nil && ctx.Err() == nil {
		return err
	}
	mainLog.Info().Dur("sent", res.Duration(s.SampleRate())).Msg("done")

	// let the radio play out what it has buffered
	select {
	case <-time.After(*lead):
	case <-ctx.Done():
	}
	if _, err := c.Suspend(); err != nil {
		mainLog.Warn().Err(err).Msg("suspend failed")
	}
	return nil
}

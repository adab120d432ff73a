// ABOUTME: File player streaming a music folder through the audio engine
// ABOUTME: Command-driven task with play, pause, stop, skip and repeat modes
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/decode"
)

const (
	// CommandQueueDepth bounds pending player commands.
	CommandQueueDepth = 8

	pausePoll = 20 * time.Millisecond
)

// State is the player transport state.
type State int32

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Config holds player settings.
type Config struct {
	// Folder is scanned for .mp3, .wav and .flac files.
	Folder string
	Volume uint8
	Repeat RepeatMode
	Seed   uint64
}

type commandKind int

const (
	cmdPlay commandKind = iota
	cmdPlayFile
	cmdPause
	cmdStop
	cmdNext
	cmdPrev
	cmdRescan
	cmdSetRepeat
)

type command struct {
	kind   commandKind
	path   string
	repeat RepeatMode
}

type request int

const (
	reqNone request = iota
	reqStop
	reqNext
	reqPrev
	reqJump
)

// Player plays files as the Player owner. It never preempts another producer.
type Player struct {
	cfg    Config
	eng    Engine
	out    *output
	logger zerolog.Logger
	cmds   chan command

	mu     sync.Mutex
	list   *playlist
	repeat atomic.Int32

	state   atomic.Int32
	elapsed atomic.Int64
	tracks  atomic.Uint64

	// owned by the Run goroutine
	req       request
	streaming bool
	samples   []int16
}

// New creates a player. Call Run to start its task.
func New(cfg Config, eng Engine, logger zerolog.Logger) *Player {
	if cfg.Volume == 0 {
		cfg.Volume = 200
	}
	p := &Player{
		cfg:     cfg,
		eng:     eng,
		out:     newOutput(eng, cfg.Volume),
		logger:  logger.With().Str("component", "player").Logger(),
		cmds:    make(chan command, CommandQueueDepth),
		list:    newPlaylist(cfg.Seed),
		samples: make([]int16, ReadBytes/audio.BytesPerSample),
	}
	p.list.repeat = cfg.Repeat
	p.repeat.Store(int32(cfg.Repeat))
	return p
}

func (p *Player) Play()                  { p.send(command{kind: cmdPlay}) }
func (p *Player) Pause()                 { p.send(command{kind: cmdPause}) }
func (p *Player) Stop()                  { p.send(command{kind: cmdStop}) }
func (p *Player) Next()                  { p.send(command{kind: cmdNext}) }
func (p *Player) Prev()                  { p.send(command{kind: cmdPrev}) }
func (p *Player) Rescan()                { p.send(command{kind: cmdRescan}) }
func (p *Player) SetRepeat(m RepeatMode) { p.send(command{kind: cmdSetRepeat, repeat: m}) }

// PlayFile replaces the track list with a single file and plays it.
func (p *Player) PlayFile(path string) {
	p.send(command{kind: cmdPlayFile, path: path})
}

func (p *Player) send(c command) {
	select {
	case p.cmds <- c:
	default:
		p.logger.Warn().Int("kind", int(c.kind)).Msg("player command queue full, dropping")
	}
}

// State returns the transport state.
func (p *Player) State() State {
	return State(p.state.Load())
}

// Repeat returns the repeat mode.
func (p *Player) Repeat() RepeatMode {
	return RepeatMode(p.repeat.Load())
}

// Elapsed returns the position in the current track.
func (p *Player) Elapsed() time.Duration {
	return time.Duration(p.elapsed.Load()) * time.Millisecond
}

// TracksPlayed counts tracks that streamed to their end or were skipped.
func (p *Player) TracksPlayed() uint64 {
	return p.tracks.Load()
}

// Track returns the current position in the play order and the track count.
func (p *Player) Track() (index, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.list.index, len(p.list.tracks)
}

// Current returns the path of the current track.
func (p *Player) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.list.current()
}

func (p *Player) SetVolume(v uint8) { p.out.SetVolume(v) }
func (p *Player) Volume() uint8     { return p.out.Volume() }

func (p *Player) setState(s State) {
	if old := State(p.state.Swap(int32(s))); old != s {
		p.logger.Debug().Stringer("from", old).Stringer("to", s).Msg("player state")
	}
}

// Run processes commands and streams tracks until ctx is cancelled.
func (p *Player) Run(ctx context.Context) {
	p.logger.Debug().Msg("player task started")
	defer p.logger.Debug().Msg("player task stopped")

	if p.cfg.Folder != "" {
		p.rescan()
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			p.setState(StateStopped)
			return
		}
		if p.State() != StatePlaying {
			select {
			case <-ctx.Done():
				p.setState(StateStopped)
				return
			case c := <-p.cmds:
				p.handle(c)
			}
			continue
		}

		p.mu.Lock()
		path, count := p.list.current(), len(p.list.tracks)
		p.mu.Unlock()
		if path == "" {
			p.setState(StateStopped)
			continue
		}

		if !p.eng.OwnerAcquire(audio.OwnerPlayer, false) {
			p.logger.Warn().Stringer("owner", p.eng.OwnerGet()).Msg("sink busy, player stopped")
			p.setState(StateStopped)
			p.req = reqNone
			continue
		}
		p.eng.ToneStop()

		err := p.playFile(ctx, path)
		if err != nil {
			failures++
			p.logger.Warn().Err(err).Str("track", filepath.Base(path)).Msg("track failed")
			if p.req == reqNone {
				p.req = reqNext
			}
			if failures >= count {
				p.logger.Warn().Int("tracks", count).Msg("no playable tracks")
				p.req = reqStop
			}
		} else {
			failures = 0
			p.tracks.Add(1)
		}

		req := p.req
		p.req = reqNone
		p.eng.OwnerRelease(audio.OwnerPlayer)
		p.advance(req)
	}
}

func (p *Player) handle(c command) {
	switch c.kind {
	case cmdPlay:
		switch p.State() {
		case StatePaused:
			p.setState(StatePlaying)
		case StateStopped:
			p.mu.Lock()
			empty := len(p.list.tracks) == 0
			p.mu.Unlock()
			if empty {
				p.rescan()
			}
			p.mu.Lock()
			empty = len(p.list.tracks) == 0
			p.mu.Unlock()
			if !empty {
				p.setState(StatePlaying)
			}
		}
	case cmdPlayFile:
		p.mu.Lock()
		p.list.set([]string{c.path})
		p.list.index = 0
		p.mu.Unlock()
		if p.streaming {
			p.req = reqJump
		}
		p.setState(StatePlaying)
	case cmdPause:
		if p.State() == StatePlaying {
			p.setState(StatePaused)
		}
	case cmdStop:
		p.setState(StateStopped)
		if p.streaming {
			p.req = reqStop
		}
	case cmdNext, cmdPrev:
		if p.streaming {
			p.req = reqNext
			if c.kind == cmdPrev {
				p.req = reqPrev
			}
		} else {
			p.mu.Lock()
			if c.kind == cmdNext {
				p.list.next(true)
			} else {
				p.list.prev(true)
			}
			p.mu.Unlock()
		}
		p.setState(StatePlaying)
	case cmdRescan:
		p.rescan()
	case cmdSetRepeat:
		p.mu.Lock()
		p.list.setRepeat(c.repeat)
		p.mu.Unlock()
		p.repeat.Store(int32(c.repeat))
	}
}

func (p *Player) drainCommands() {
	for {
		select {
		case c := <-p.cmds:
			p.handle(c)
		default:
			return
		}
	}
}

func (p *Player) rescan() {
	if p.cfg.Folder == "" {
		return
	}
	tracks, err := ScanFolder(p.cfg.Folder)
	if err != nil {
		p.logger.Warn().Err(err).Msg("folder scan failed")
		return
	}
	p.mu.Lock()
	p.list.set(tracks)
	p.mu.Unlock()
	p.logger.Info().Str("folder", p.cfg.Folder).Int("tracks", len(tracks)).Msg("folder scanned")
}

// advance moves the play position after a track ends.
func (p *Player) advance(req request) {
	p.mu.Lock()
	ok := true
	switch req {
	case reqStop:
		ok = false
	case reqNext:
		ok = p.list.next(true)
	case reqPrev:
		ok = p.list.prev(true)
	case reqJump:
	default:
		if p.State() == StatePlaying {
			ok = p.list.next(false)
		}
	}
	p.mu.Unlock()

	if !ok {
		p.setState(StateStopped)
		p.elapsed.Store(0)
	}
}

// playFile streams one file. It returns nil when the file ends or playback
// is interrupted, and an error when the file cannot be decoded.
func (p *Player) playFile(ctx context.Context, path string) error {
	s, err := decode.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := p.eng.I2SSetSampleRate(s.SampleRate()); err != nil {
		return fmt.Errorf("set sample rate %d: %w", s.SampleRate(), err)
	}

	p.logger.Info().
		Str("track", filepath.Base(path)).
		Int("rate", s.SampleRate()).
		Int("channels", s.Channels()).
		Msg("playing")

	p.streaming = true
	defer func() { p.streaming = false }()
	p.elapsed.Store(0)

	var frames int64
	for {
		p.drainCommands()
		if ctx.Err() != nil {
			p.req = reqStop
		}
		if p.req != reqNone || p.State() == StateStopped {
			return nil
		}
		if p.State() == StatePaused {
			time.Sleep(pausePoll)
			continue
		}
		if owner := p.eng.OwnerGet(); owner != audio.OwnerPlayer {
			p.logger.Info().Stringer("owner", owner).Msg("player preempted")
			p.setState(StateStopped)
			p.req = reqStop
			return nil
		}

		n, rerr := s.Read(p.samples)
		if n > 0 {
			if _, werr := p.out.write(p.samples[:n], s.Channels()); werr != nil {
				p.logger.Warn().Err(werr).Msg("player write failed")
			}
			frames += int64(n / s.Channels())
			p.elapsed.Store(frames * 1000 / int64(s.SampleRate()))
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("decode %s: %w", filepath.Base(path), rerr)
		}
	}
}

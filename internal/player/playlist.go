// ABOUTME: Track list built from a music folder with repeat and shuffle ordering
// ABOUTME: Decides which file plays next when a track ends or the user skips
package player

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MaxTracks caps how many files a folder scan keeps.
const MaxTracks = 64

// RepeatMode selects what happens at the end of a track.
type RepeatMode int

const (
	RepeatAll RepeatMode = iota
	RepeatOne
	RepeatShuffle
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	case RepeatShuffle:
		return "shuffle"
	default:
		return "unknown"
	}
}

// ParseRepeatMode maps a flag value to a RepeatMode.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(s) {
	case "all", "":
		return RepeatAll, nil
	case "one":
		return RepeatOne, nil
	case "shuffle":
		return RepeatShuffle, nil
	default:
		return RepeatAll, fmt.Errorf("unknown repeat mode %q", s)
	}
}

// IsPlayable reports whether name has an extension the decoders handle.
func IsPlayable(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3", ".wav", ".flac":
		return true
	}
	return false
}

// ScanFolder lists the playable files in dir in name order.
func ScanFolder(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	var tracks []string
	for _, e := range entries {
		if e.IsDir() || !IsPlayable(e.Name()) {
			continue
		}
		tracks = append(tracks, filepath.Join(dir, e.Name()))
		if len(tracks) >= MaxTracks {
			break
		}
	}
	sort.Strings(tracks)
	return tracks, nil
}

type playlist struct {
	tracks []string
	order  []int
	index  int
	repeat RepeatMode
	rng    *rand.Rand
}

func newPlaylist(seed uint64) *playlist {
	return &playlist{rng: rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))}
}

func (p *playlist) set(tracks []string) {
	p.tracks = tracks
	p.build()
}

func (p *playlist) setRepeat(m RepeatMode) {
	p.repeat = m
	p.build()
}

// build resets the play order, shuffling it in shuffle mode.
func (p *playlist) build() {
	n := len(p.tracks)
	p.order = make([]int, n)
	for i := range p.order {
		p.order[i] = i
	}
	if p.repeat != RepeatShuffle || n < 2 {
		if p.index >= n {
			p.index = 0
		}
		return
	}
	for i := n - 1; i > 0; i-- {
		j := p.rng.IntN(i + 1)
		p.order[i], p.order[j] = p.order[j], p.order[i]
	}
	p.index = 0
}

func (p *playlist) current() string {
	if len(p.tracks) == 0 || p.index >= len(p.order) {
		return ""
	}
	return p.tracks[p.order[p.index]]
}

// next advances the position. Automatic advances stay put in RepeatOne.
// It returns false when playback should stop.
func (p *playlist) next(manual bool) bool {
	if len(p.tracks) == 0 {
		return false
	}
	if !manual && p.repeat == RepeatOne {
		return true
	}
	if p.index+1 < len(p.tracks) {
		p.index++
		return true
	}
	p.build()
	p.index = 0
	return true
}

func (p *playlist) prev(manual bool) bool {
	if len(p.tracks) == 0 {
		return false
	}
	if !manual && p.repeat == RepeatOne {
		return true
	}
	if p.index > 0 {
		p.index--
		return true
	}
	p.build()
	p.index = len(p.tracks) - 1
	return true
}

// ABOUTME: Waveform renderers for square, Karplus-Strong pluck and ADSR chord
// ABOUTME: Renders 256-frame stereo chunks and writes them through the sink
package tone

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

const (
	// Amplitude is the square wave peak at full volume.
	Amplitude = 16000

	// ChunkFrames is the render block size; stop is polled once per block.
	ChunkFrames = 256

	// WriteTimeout bounds each sink write.
	WriteTimeout = 5 * time.Second

	ksMaxDelay    = 512
	ksDefaultDamp = 32560
	ksMinDamp     = 30000
	ksMaxDamp     = 32760
	ksMinAmp      = 600
	ksMaxAmp      = 12000
	ksAttack      = 2 * time.Millisecond
	ksRelease     = 18 * time.Millisecond
	sineLUTSize   = 1024
	sineLUTMask   = sineLUTSize - 1
	chordLPFAlpha = 13631
	q15One        = 32767
)

var sineLUT = func() [sineLUTSize]int16 {
	var lut [sineLUTSize]int16
	for i := range lut {
		v := math.Sin(2 * math.Pi * float64(i) / sineLUTSize)
		lut[i] = int16(v * 32767)
	}
	return lut
}()

// Envelope is an ADSR layout in frames.
type Envelope struct {
	Attack  int
	Decay   int
	Sustain int
	Release int
}

// TrimEnvelope fits attack+decay+release into total frames, shortening
// release first, then decay, then attack. Sustain takes the remainder.
func TrimEnvelope(attack, decay, release, total int) Envelope {
	if excess := attack + decay + release - total; excess > 0 {
		cut := min(release, excess)
		release -= cut
		excess -= cut

		cut = min(decay, excess)
		decay -= cut
		excess -= cut

		cut = min(attack, excess)
		attack -= cut
	}
	return Envelope{
		Attack:  attack,
		Decay:   decay,
		Sustain: max(total-attack-decay-release, 0),
		Release: release,
	}
}

// renderer holds the per-goroutine scratch buffers.
type renderer struct {
	s     *Synth
	rate  int
	frame []int16
	pcm   []byte
	ks    [ksMaxDelay]int16
}

func newRenderer(s *Synth) *renderer {
	return &renderer{
		s:     s,
		frame: make([]int16, ChunkFrames*audio.Channels),
		pcm:   make([]byte, ChunkFrames*audio.BytesPerFrame),
	}
}

func (r *renderer) frames(d time.Duration) int {
	return int(int64(r.rate) * d.Milliseconds() / 1000)
}

// render dispatches one command. Volume 0 renders silence.
func (r *renderer) render(cmd Command) {
	r.rate = r.s.sink.SampleRate()
	if r.rate <= 0 {
		r.rate = audio.DefaultSampleRate
	}

	if volumeOf(cmd) == 0 {
		r.silence(cmd.Length())
		return
	}

	switch c := cmd.(type) {
	case Square:
		r.square(c.Freq, c.Duration, c.Volume)
	case Pluck:
		r.pluck(c)
	case Chord:
		r.chord(c)
	default:
		r.silence(cmd.Length())
	}
}

// emit writes the first n frames of r.frame, mono-duplicated already.
func (r *renderer) emit(n int) {
	bytes := audio.Int16ToBytes(r.pcm, r.frame[:n*audio.Channels])
	if _, err := r.s.sink.Write(r.pcm[:bytes], WriteTimeout); err != nil {
		r.s.logger.Debug().Err(err).Msg("tone write failed")
	}
}

func (r *renderer) put(i int, sample int16) {
	r.frame[i*2] = sample
	r.frame[i*2+1] = sample
}

func (r *renderer) silence(d time.Duration) {
	total := r.frames(d)
	clear(r.frame)
	for offset := 0; offset < total; {
		if r.s.stop.Load() {
			return
		}
		n := min(total-offset, ChunkFrames)
		r.emit(n)
		offset += n
	}
}

func (r *renderer) square(freq uint16, d time.Duration, volume uint8) {
	if freq == 0 || d <= 0 {
		r.silence(d)
		return
	}
	period := r.rate / int(freq)
	if period < 2 {
		return
	}

	amp := int16(Amplitude * int(volume) / 255)
	half := period / 2
	total := r.frames(d)

	for offset := 0; offset < total; {
		if r.s.stop.Load() {
			return
		}
		n := min(total-offset, ChunkFrames)
		for i := 0; i < n; i++ {
			if (offset+i)%period < half {
				r.put(i, amp)
			} else {
				r.put(i, -amp)
			}
		}
		r.emit(n)
		offset += n
	}
}

func (r *renderer) pluck(c Pluck) {
	if c.Freq == 0 || c.Duration <= 0 {
		r.silence(c.Duration)
		return
	}
	delay := r.rate / int(c.Freq)
	if delay < 2 || delay > ksMaxDelay {
		r.square(c.Freq, c.Duration, c.Volume)
		return
	}

	damping := int32(c.Damping)
	if damping < ksMinDamp || damping > ksMaxDamp {
		damping = ksDefaultDamp
	}

	amp := int32(Amplitude) * int32(c.Volume) / 255
	amp = min(max(amp, ksMinAmp), ksMaxAmp)

	r.s.rngMu.Lock()
	for i := 0; i < delay; i++ {
		rnd := int32(r.s.rng.Uint32()&0xFFFF) - 32768
		r.ks[i] = int16(rnd * amp / 32768)
	}
	r.s.rngMu.Unlock()

	total := max(r.frames(c.Duration), 1)
	attack := r.frames(ksAttack)
	release := min(r.frames(ksRelease), total/2)

	idx := 0
	for offset := 0; offset < total; {
		if r.s.stop.Load() {
			return
		}
		n := min(total-offset, ChunkFrames)
		for i := 0; i < n; i++ {
			pos := offset + i
			next := idx + 1
			if next >= delay {
				next = 0
			}

			out := int32(r.ks[idx])
			avg := (int32(r.ks[idx]) + int32(r.ks[next])) / 2
			r.ks[idx] = clamp16((avg * damping) >> 15)
			idx = next

			sample := out
			if attack > 0 && pos < attack {
				sample = sample * int32(pos) / int32(attack)
			} else if release > 0 && pos >= total-release {
				sample = sample * int32(total-pos) / int32(release)
			}
			r.put(i, int16(sample))
		}
		r.emit(n)
		offset += n
	}
}

// phaseIncrement returns the Q16 LUT step for freq, 0 if inaudible.
func phaseIncrement(freq float64, rate int) uint32 {
	if freq <= 0 {
		return 0
	}
	inc := freq * sineLUTSize * 65536 / float64(rate)
	if inc < 1 {
		return 0
	}
	if inc > math.MaxUint32 {
		inc = math.MaxUint32
	}
	return uint32(inc + 0.5)
}

func (r *renderer) chord(c Chord) {
	if c.Duration <= 0 {
		return
	}

	total := max(r.frames(c.Duration), 1)
	env := TrimEnvelope(r.frames(c.Attack), r.frames(c.Decay), r.frames(c.Release), total)
	sustain := int64(min(c.Sustain, q15One))

	var phase, inc [3]uint32
	for i, p := range c.Partials {
		if p.Freq == 0 {
			continue
		}
		detune := math.Pow(2, float64(p.DetuneCents)/1200)
		inc[i] = phaseIncrement(float64(p.Freq)*detune, r.rate)
	}

	releaseStart := total - env.Release
	var lp int32

	for offset := 0; offset < total; {
		if r.s.stop.Load() {
			return
		}
		n := min(total-offset, ChunkFrames)
		for i := 0; i < n; i++ {
			pos := int64(offset + i)
			var level int64
			switch {
			case env.Attack > 0 && pos < int64(env.Attack):
				level = pos * q15One / int64(env.Attack)
			case env.Decay > 0 && pos < int64(env.Attack+env.Decay):
				t := pos - int64(env.Attack)
				level = q15One - (q15One-sustain)*t/int64(env.Decay)
			case pos < int64(env.Attack+env.Decay+env.Sustain):
				level = sustain
			case env.Release > 0 && pos >= int64(releaseStart):
				rel := pos - int64(releaseStart)
				level = sustain * (int64(env.Release) - rel) / int64(env.Release)
			}

			var mix, active int32
			for v := range inc {
				if inc[v] == 0 {
					continue
				}
				phase[v] += inc[v]
				mix += int32(sineLUT[(phase[v]>>16)&sineLUTMask])
				active++
			}

			var sample int32
			if active > 0 {
				mix /= active
				sample = mix * Amplitude / q15One
				sample = sample * int32(c.Volume) / 255
				sample = int32(int64(sample) * level / q15One)
			}
			lp += ((sample - lp) * chordLPFAlpha) >> 15
			r.put(i, clamp16(lp))
		}
		r.emit(n)
		offset += n
	}
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

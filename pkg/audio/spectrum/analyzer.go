// ABOUTME: Four-band spectrum analyzer fed from the Bluetooth consumer
// ABOUTME: Ping-pong 512-sample blocks, Hann window + FFT, adaptive gain, quantized levels
package spectrum

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

const (
	// BlockSize is the FFT length.
	BlockSize = 512
	half      = BlockSize / 2

	// Bands is the number of reported levels.
	Bands = 4

	// MinInterval is the minimum gap between two analysis runs.
	MinInterval = 20 * time.Millisecond

	// StaleAfter forces levels to zero when no update happened for this long.
	StaleAfter = 250 * time.Millisecond

	logK        = 2.0e-6
	agcDecay    = 0.990
	agcHeadroom = 1.45
	agcMin      = 1.0e-6

	levelT0 = 0.20
	levelT1 = 0.45
	levelT2 = 0.70
)

var (
	bandStartHz = [Bands]float64{50, 300, 1200, 3500}
	bandEndHz   = [Bands]float64{150, 1000, 3000, 12000}
	bandGain    = [Bands]float64{3.6, 1.3, 1.1, 1.5}
	bandAttack  = [Bands]float64{0.75, 0.55, 0.50, 0.65}
	bandRelease = [Bands]float64{0.05, 0.08, 0.10, 0.15}
)

// Config for an Analyzer.
type Config struct {
	SampleRate int
	Now        func() time.Time
}

type bandLayout struct {
	start     [Bands]int
	end       [Bands]int
	weight    [Bands][half + 1]float64
	weightSum [Bands]float64
}

// Analyzer turns the Bluetooth PCM stream into four 0..3 levels.
type Analyzer struct {
	enabled atomic.Bool

	feedMu sync.Mutex
	bufs   [2][BlockSize]int16
	ready  [2]atomic.Bool
	active int
	idx    int
	notify chan struct{}

	rate   atomic.Int64
	layout atomic.Pointer[bandLayout]
	window []float64
	work   []float64

	stateMu   sync.Mutex
	epoch     atomic.Uint64
	bandMax   [Bands]float64
	bandLevel [Bands]float64
	lastRun   time.Time

	packed     atomic.Uint32
	lastUpdate atomic.Int64
	updates    atomic.Uint64
	dropped    atomic.Uint64

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	now    func() time.Time
	logger zerolog.Logger
}

// New creates a disabled analyzer.
func New(cfg Config, logger zerolog.Logger) *Analyzer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	a := &Analyzer{
		notify: make(chan struct{}, 1),
		window: window.Hann(BlockSize),
		work:   make([]float64, BlockSize),
		now:    cfg.Now,
		logger: logger.With().Str("component", "spectrum").Logger(),
	}
	a.rate.Store(int64(cfg.SampleRate))
	a.layout.Store(computeLayout(cfg.SampleRate))
	a.resetState()
	return a
}

// Enable starts or stops the analysis goroutine. Enabling resets all state.
func (a *Analyzer) Enable(on bool) {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	if on {
		if a.enabled.Load() {
			return
		}
		a.resetBuffers()
		a.resetState()
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.done = make(chan struct{})
		a.enabled.Store(true)
		go a.run(ctx, a.done)
		a.logger.Debug().Msg("spectrum enabled")
		return
	}

	if !a.enabled.Load() {
		return
	}
	a.enabled.Store(false)
	a.cancel()
	<-a.done
	a.cancel = nil
	a.resetBuffers()
	a.resetState()
	a.logger.Debug().Msg("spectrum disabled")
}

// Enabled reports whether analysis is running.
func (a *Analyzer) Enabled() bool {
	return a.enabled.Load()
}

// SetSampleRate recomputes the band-to-bin layout. Zero is ignored.
func (a *Analyzer) SetSampleRate(sampleRate int) {
	if sampleRate <= 0 {
		return
	}
	a.rate.Store(int64(sampleRate))
	a.layout.Store(computeLayout(sampleRate))
}

// Reset clears levels and pending blocks, e.g. when a new stream starts.
func (a *Analyzer) Reset() {
	if a.enabled.Load() {
		a.resetBuffers()
	}
	a.resetState()
}

// Feed downmixes interleaved samples into the active block. Full blocks are
// handed to the analysis goroutine; when both blocks are pending the rest of
// the input is dropped.
func (a *Analyzer) Feed(samples []int16, channels int) {
	if len(samples) == 0 || !a.enabled.Load() {
		return
	}
	if channels <= 0 {
		channels = audio.Channels
	}

	a.feedMu.Lock()
	defer a.feedMu.Unlock()

	frames := len(samples) / channels
	for i := 0; i < frames; i++ {
		if a.ready[a.active].Load() {
			other := a.active ^ 1
			if a.ready[other].Load() {
				a.dropped.Add(1)
				return
			}
			a.active = other
			a.idx = 0
		}

		var mono int32
		base := i * channels
		for c := 0; c < channels; c++ {
			mono += int32(samples[base+c])
		}
		mono /= int32(channels)

		a.bufs[a.active][a.idx] = int16(mono)
		a.idx++
		if a.idx >= BlockSize {
			a.ready[a.active].Store(true)
			a.idx = 0
			a.active ^= 1
			select {
			case a.notify <- struct{}{}:
			default:
			}
		}
	}
}

// Levels returns the last quantized levels, or zeros when disabled, never
// updated or stale.
func (a *Analyzer) Levels() [Bands]uint8 {
	var out [Bands]uint8
	if !a.enabled.Load() {
		return out
	}
	last := a.lastUpdate.Load()
	if last == 0 {
		return out
	}
	if a.now().UnixNano()-last > int64(StaleAfter) {
		a.packed.Store(0)
		return out
	}
	return unpack(a.packed.Load())
}

// Updates returns the number of completed analysis runs.
func (a *Analyzer) Updates() uint64 {
	return a.updates.Load()
}

// Dropped returns the number of feeds cut short by backpressure.
func (a *Analyzer) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *Analyzer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	poll := time.NewTimer(MinInterval)
	defer poll.Stop()

	for {
		if !a.ready[0].Load() && !a.ready[1].Load() {
			poll.Reset(MinInterval)
			select {
			case <-ctx.Done():
				return
			case <-a.notify:
			case <-poll.C:
			}
			continue
		}

		a.stateMu.Lock()
		since := a.now().Sub(a.lastRun)
		a.stateMu.Unlock()
		if since < MinInterval {
			poll.Reset(MinInterval - since)
			select {
			case <-ctx.Done():
				return
			case <-poll.C:
			}
			continue
		}

		var block [BlockSize]int16
		epoch, ok := a.takeBlock(&block)
		if !ok {
			continue
		}
		a.analyze(&block, epoch)
	}
}

// takeBlock copies the oldest pending block out and hands its slot back to
// Feed. The returned epoch identifies the reset the block belongs to.
func (a *Analyzer) takeBlock(dst *[BlockSize]int16) (uint64, bool) {
	a.feedMu.Lock()
	defer a.feedMu.Unlock()

	buf := 0
	if !a.ready[0].Load() {
		if !a.ready[1].Load() {
			return 0, false
		}
		buf = 1
	}
	*dst = a.bufs[buf]
	a.ready[buf].Store(false)
	return a.epoch.Load(), true
}

// processBlock analyzes one block and publishes the new levels.
func (a *Analyzer) processBlock(src *[BlockSize]int16) {
	a.analyze(src, a.epoch.Load())
}

// analyze publishes levels for src unless a reset happened since epoch.
func (a *Analyzer) analyze(src *[BlockSize]int16, epoch uint64) {
	const scale = 1.0 / 32768.0

	var mean float64
	for _, s := range src {
		mean += float64(s) * scale
	}
	mean /= BlockSize

	for i, s := range src {
		a.work[i] = (float64(s)*scale - mean) * a.window[i]
	}

	spec := fft.FFTReal(a.work)

	// discrete Hartley recombination
	var fht [BlockSize]float64
	fht[0] = real(spec[0])
	fht[half] = real(spec[half])
	for k := 1; k < half; k++ {
		re, im := real(spec[k]), imag(spec[k])
		fht[k] = re - im
		fht[BlockSize-k] = re + im
	}

	layout := a.layout.Load()
	var power [Bands]float64
	for b := 0; b < Bands; b++ {
		sumW := layout.weightSum[b]
		if sumW <= 1e-12 {
			continue
		}
		var sumWP float64
		for k := layout.start[b]; k <= layout.end[b]; k++ {
			w := layout.weight[b][k]
			if w <= 0 {
				continue
			}
			sumWP += w * binPower(&fht, k)
		}
		power[b] = sumWP / sumW * bandGain[b]
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if a.epoch.Load() != epoch {
		return
	}

	var levels [Bands]uint8
	for i := 0; i < Bands; i++ {
		x := math.Log10(1 + logK*power[i])

		maxv := a.bandMax[i]
		if x > maxv {
			maxv = x * agcHeadroom
		} else {
			maxv *= agcDecay
		}
		maxv = math.Max(maxv, agcMin)
		a.bandMax[i] = maxv

		norm := math.Min(math.Max(x/maxv, 0), 1)

		y := a.bandLevel[i]
		alpha := bandRelease[i]
		if norm > y {
			alpha = bandAttack[i]
		}
		y += alpha * (norm - y)
		a.bandLevel[i] = y

		levels[i] = quantize(y)
	}

	now := a.now()
	a.lastRun = now
	a.packed.Store(pack(levels))
	a.lastUpdate.Store(now.UnixNano())
	a.updates.Add(1)
}

func binPower(h *[BlockSize]float64, k int) float64 {
	if k <= 0 || k >= half {
		return h[k] * h[k]
	}
	h1, h2 := h[k], h[BlockSize-k]
	return 0.5 * (h1*h1 + h2*h2)
}

func quantize(y float64) uint8 {
	switch {
	case y < levelT0:
		return 0
	case y < levelT1:
		return 1
	case y < levelT2:
		return 2
	default:
		return 3
	}
}

func pack(l [Bands]uint8) uint32 {
	return uint32(l[0]) | uint32(l[1])<<8 | uint32(l[2])<<16 | uint32(l[3])<<24
}

func unpack(p uint32) [Bands]uint8 {
	return [Bands]uint8{uint8(p), uint8(p >> 8), uint8(p >> 16), uint8(p >> 24)}
}

func (a *Analyzer) resetBuffers() {
	a.feedMu.Lock()
	a.active = 0
	a.idx = 0
	a.ready[0].Store(false)
	a.ready[1].Store(false)
	a.feedMu.Unlock()
}

func (a *Analyzer) resetState() {
	a.stateMu.Lock()
	a.epoch.Add(1)
	for i := range a.bandMax {
		a.bandMax[i] = agcMin
		a.bandLevel[i] = 0
	}
	a.lastRun = time.Time{}
	a.stateMu.Unlock()
	a.packed.Store(0)
	a.lastUpdate.Store(0)
}

// computeLayout maps the band edges onto FFT bins with triangular weights.
// Bands never share a bin.
func computeLayout(sampleRate int) *bandLayout {
	fs := float64(sampleRate)
	nyq := fs * 0.5
	binHz := fs / BlockSize

	l := &bandLayout{}
	prevEnd := 0
	for i := 0; i < Bands; i++ {
		f0 := math.Min(bandStartHz[i], nyq)
		f1 := math.Min(bandEndHz[i], nyq)
		b0 := int(math.Ceil(f0 * BlockSize / fs))
		b1 := int(math.Floor(f1 * BlockSize / fs))
		b0 = max(b0, 1)
		b1 = min(b1, half)
		if b0 <= prevEnd {
			b0 = prevEnd + 1
		}
		if b1 < b0 {
			b1 = b0
		}
		// a band pushed past Nyquist stays empty
		if b0 > half {
			l.start[i], l.end[i] = b0, b0-1
			prevEnd = b0
			continue
		}
		l.start[i], l.end[i] = b0, b1
		prevEnd = b1

		lo := float64(b0) * binHz
		hi := float64(b1) * binHz
		center := 0.5 * (lo + hi)
		halfBW := 0.5 * (hi - lo)
		count := b1 - b0 + 1

		var sum float64
		for k := b0; k <= b1; k++ {
			w := 1.0
			if count > 3 && halfBW > 0 {
				w = math.Max(1-math.Abs(float64(k)*binHz-center)/halfBW, 0)
			}
			l.weight[i][k] = w
			sum += w
		}
		l.weightSum[i] = sum
	}
	return l
}

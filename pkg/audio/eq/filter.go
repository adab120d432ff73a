// ABOUTME: Two-band shelving EQ applied inline on the sink write path
// ABOUTME: Coefficients are published as an immutable snapshot through an atomic pointer
package eq

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

const (
	LowShelfHz  = 150.0
	HighShelfHz = 5000.0

	MaxStep    = 30
	CenterStep = 15

	// RangeDB is the boost or cut at step 0 and step 30.
	RangeDB = 12.0
)

// Biquad holds normalized coefficients (a0 == 1).
type Biquad struct {
	B0, B1, B2 float32
	A1, A2     float32
}

var identity = Biquad{B0: 1}

// Coefficients is one published filter configuration.
type Coefficients struct {
	Low, High  Biquad
	Flat       bool
	LowStep    uint8
	HighStep   uint8
	SampleRate int
}

// Filter is a low-shelf plus high-shelf cascade over stereo 16-bit PCM.
//
// SetSteps and SetSampleRate may be called from any goroutine. Process must
// only be called by the single writer that owns the history cells (the sink,
// under its lock).
type Filter struct {
	mu  sync.Mutex
	cur atomic.Pointer[Coefficients]

	applied *Coefficients
	lowZ1   [2]float32
	lowZ2   [2]float32
	highZ1  [2]float32
	highZ2  [2]float32
}

// NewFilter creates a flat filter at the given sample rate.
func NewFilter(sampleRate int) *Filter {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	f := &Filter{}
	f.cur.Store(design(sampleRate, CenterStep, CenterStep))
	return f
}

// StepToDB converts a 0..30 step into a shelf gain in dB.
func StepToDB(step uint8) float32 {
	if step > MaxStep {
		step = MaxStep
	}
	return float32(int(step)-CenterStep) * (RangeDB / CenterStep)
}

// SetSteps sets bass and treble steps, clamped to 0..30.
func (f *Filter) SetSteps(low, high uint8) {
	if low > MaxStep {
		low = MaxStep
	}
	if high > MaxStep {
		high = MaxStep
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur.Store(design(f.cur.Load().SampleRate, low, high))
}

// SetSampleRate redesigns both shelves for a new rate. Zero is ignored.
func (f *Filter) SetSampleRate(sampleRate int) {
	if sampleRate <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cur.Load()
	f.cur.Store(design(sampleRate, c.LowStep, c.HighStep))
}

// IsFlat reports whether both shelves are at unity gain.
func (f *Filter) IsFlat() bool {
	return f.cur.Load().Flat
}

// Steps returns the current bass and treble steps.
func (f *Filter) Steps() (low, high uint8) {
	c := f.cur.Load()
	return c.LowStep, c.HighStep
}

// Coefficients returns the currently published snapshot.
func (f *Filter) Coefficients() Coefficients {
	return *f.cur.Load()
}

// Process filters interleaved samples in place. Mono input filters channel 0;
// with more than two channels only the first two are filtered.
func (f *Filter) Process(samples []int16, channels int) {
	if len(samples) == 0 || channels <= 0 {
		return
	}
	c := f.cur.Load()
	if c != f.applied {
		f.applied = c
		f.lowZ1, f.lowZ2 = [2]float32{}, [2]float32{}
		f.highZ1, f.highZ2 = [2]float32{}, [2]float32{}
	}
	if c.Flat {
		return
	}

	filtered := channels
	if filtered > 2 {
		filtered = 2
	}
	frames := len(samples) / channels
	for i := 0; i < frames; i++ {
		base := i * channels
		for ch := 0; ch < filtered; ch++ {
			x := float32(samples[base+ch]) * (1.0 / 32768.0)
			x = step(&c.Low, x, &f.lowZ1[ch], &f.lowZ2[ch])
			x = step(&c.High, x, &f.highZ1[ch], &f.highZ2[ch])
			samples[base+ch] = audio.ClampInt16(float64(x * 32768.0))
		}
	}
}

// transposed direct form II
func step(bq *Biquad, x float32, z1, z2 *float32) float32 {
	y := bq.B0*x + *z1
	*z1 = bq.B1*x - bq.A1*y + *z2
	*z2 = bq.B2*x - bq.A2*y
	return y
}

func design(sampleRate int, low, high uint8) *Coefficients {
	lowDB := StepToDB(low)
	highDB := StepToDB(high)

	fs := float32(sampleRate)
	nyq := 0.5 * fs
	lowHz := float32(LowShelfHz)
	highHz := float32(HighShelfHz)
	if lowHz > nyq*0.45 {
		lowHz = nyq * 0.45
	}
	if highHz > nyq*0.9 {
		highHz = nyq * 0.9
	}

	return &Coefficients{
		Low:        shelf(fs, lowHz, lowDB, false),
		High:       shelf(fs, highHz, highDB, true),
		Flat:       lowDB == 0 && highDB == 0,
		LowStep:    low,
		HighStep:   high,
		SampleRate: sampleRate,
	}
}

// shelf designs an RBJ cookbook shelving section with slope S = 1.
func shelf(fs, freq, gainDB float32, highShelf bool) Biquad {
	if gainDB == 0 {
		return identity
	}

	a := float32(math.Pow(10, float64(gainDB)/40))
	w0 := 2 * math.Pi * float64(freq) / float64(fs)
	if w0 > math.Pi*0.99 {
		w0 = math.Pi * 0.99
	}
	cosw0 := float32(math.Cos(w0))
	sinw0 := float32(math.Sin(w0))
	sqrtA := float32(math.Sqrt(float64(a)))
	alpha := sinw0 / 2 * float32(math.Sqrt2)
	k := 2 * sqrtA * alpha

	var b0, b1, b2, a0, a1, a2 float32
	if highShelf {
		b0 = a * ((a + 1) + (a-1)*cosw0 + k)
		b1 = -2 * a * ((a - 1) + (a+1)*cosw0)
		b2 = a * ((a + 1) + (a-1)*cosw0 - k)
		a0 = (a + 1) - (a-1)*cosw0 + k
		a1 = 2 * ((a - 1) - (a+1)*cosw0)
		a2 = (a + 1) - (a-1)*cosw0 - k
	} else {
		b0 = a * ((a + 1) - (a-1)*cosw0 + k)
		b1 = 2 * a * ((a - 1) - (a+1)*cosw0)
		b2 = a * ((a + 1) - (a-1)*cosw0 - k)
		a0 = (a + 1) + (a-1)*cosw0 + k
		a1 = -2 * ((a - 1) + (a+1)*cosw0)
		a2 = (a + 1) + (a-1)*cosw0 - k
	}

	return Biquad{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: a1 / a0,
		A2: a2 / a0,
	}
}

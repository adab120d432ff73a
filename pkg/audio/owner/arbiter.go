// ABOUTME: Ownership arbiter deciding which producer may write to the sink
// ABOUTME: Mutex-guarded compare-and-set with a lock-free current-owner snapshot
package owner

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

// Arbiter grants exclusive use of the sink to one producer at a time.
type Arbiter struct {
	mu       sync.Mutex
	cur      atomic.Int32
	logger   zerolog.Logger
	onChange func(prev, next audio.Owner)
	failures atomic.Uint64
}

// NewArbiter creates an arbiter with no owner.
func NewArbiter(logger zerolog.Logger) *Arbiter {
	return &Arbiter{
		logger: logger.With().Str("component", "owner").Logger(),
	}
}

// OnChange installs a hook invoked (under the arbiter lock) after every
// ownership transition. Must be set before concurrent use.
func (a *Arbiter) OnChange(fn func(prev, next audio.Owner)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// CanPreempt reports whether next may take the sink from cur when forced.
func CanPreempt(cur, next audio.Owner) bool {
	switch next {
	case audio.OwnerAlarm:
		return true
	case audio.OwnerTone:
		return cur == audio.OwnerBluetooth
	default:
		return false
	}
}

// Acquire tries to take the sink for o. It succeeds when the sink is free or
// already held by o, or when force is set and o may preempt the holder.
func (a *Arbiter) Acquire(o audio.Owner, force bool) bool {
	if o == audio.OwnerNone {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cur := audio.Owner(a.cur.Load())
	if cur == audio.OwnerNone || cur == o {
		a.set(cur, o)
		return true
	}

	if force && CanPreempt(cur, o) {
		a.logger.Info().Stringer("from", cur).Stringer("to", o).Msg("preempting sink owner")
		a.set(cur, o)
		return true
	}

	a.failures.Add(1)
	a.logger.Warn().Stringer("owner", cur).Stringer("requested", o).Bool("force", force).Msg("sink busy")
	return false
}

// Release clears ownership only when o is the current holder.
func (a *Arbiter) Release(o audio.Owner) {
	if o == audio.OwnerNone {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if audio.Owner(a.cur.Load()) == o {
		a.set(o, audio.OwnerNone)
	}
}

// Get returns the current owner without locking.
func (a *Arbiter) Get() audio.Owner {
	return audio.Owner(a.cur.Load())
}

// Failures returns the number of refused acquisitions.
func (a *Arbiter) Failures() uint64 {
	return a.failures.Load()
}

func (a *Arbiter) set(prev, next audio.Owner) {
	a.cur.Store(int32(next))
	if prev != next && a.onChange != nil {
		a.onChange(prev, next)
	}
}

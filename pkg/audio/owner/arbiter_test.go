// ABOUTME: Tests for the ownership arbiter
// ABOUTME: Covers the preemption table, stale releases and concurrent acquisition
package owner

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

func TestAcquirePolicy(t *testing.T) {
	tests := []struct {
		name     string
		holder   audio.Owner
		request  audio.Owner
		force    bool
		expected bool
	}{
		{"free sink", audio.OwnerNone, audio.OwnerPlayer, false, true},
		{"same owner", audio.OwnerBluetooth, audio.OwnerBluetooth, false, true},
		{"tone over bt unforced", audio.OwnerBluetooth, audio.OwnerTone, false, false},
		{"tone over bt forced", audio.OwnerBluetooth, audio.OwnerTone, true, true},
		{"tone over player forced", audio.OwnerPlayer, audio.OwnerTone, true, false},
		{"tone over alarm forced", audio.OwnerAlarm, audio.OwnerTone, true, false},
		{"alarm over bt forced", audio.OwnerBluetooth, audio.OwnerAlarm, true, true},
		{"alarm over player forced", audio.OwnerPlayer, audio.OwnerAlarm, true, true},
		{"alarm over tone forced", audio.OwnerTone, audio.OwnerAlarm, true, true},
		{"alarm over player unforced", audio.OwnerPlayer, audio.OwnerAlarm, false, false},
		{"player over bt forced", audio.OwnerBluetooth, audio.OwnerPlayer, true, false},
		{"bt over tone forced", audio.OwnerTone, audio.OwnerBluetooth, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArbiter(zerolog.Nop())
			if tt.holder != audio.OwnerNone {
				require.True(t, a.Acquire(tt.holder, false))
			}

			result := a.Acquire(tt.request, tt.force)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}

			want := tt.holder
			if tt.expected {
				want = tt.request
			}
			assert.Equal(t, want, a.Get())
		})
	}
}

func TestAcquireNoneFails(t *testing.T) {
	a := NewArbiter(zerolog.Nop())
	assert.False(t, a.Acquire(audio.OwnerNone, true))
	assert.Equal(t, audio.OwnerNone, a.Get())
}

func TestStaleReleaseIsNoop(t *testing.T) {
	a := NewArbiter(zerolog.Nop())
	require.True(t, a.Acquire(audio.OwnerBluetooth, false))
	require.True(t, a.Acquire(audio.OwnerTone, true))

	// bluetooth cleanup arriving late must not evict the tone
	a.Release(audio.OwnerBluetooth)
	assert.Equal(t, audio.OwnerTone, a.Get())

	a.Release(audio.OwnerTone)
	assert.Equal(t, audio.OwnerNone, a.Get())
}

func TestOnChangeHook(t *testing.T) {
	a := NewArbiter(zerolog.Nop())
	var transitions [][2]audio.Owner
	a.OnChange(func(prev, next audio.Owner) {
		transitions = append(transitions, [2]audio.Owner{prev, next})
	})

	a.Acquire(audio.OwnerBluetooth, false)
	a.Acquire(audio.OwnerBluetooth, false)
	a.Acquire(audio.OwnerAlarm, true)
	a.Release(audio.OwnerAlarm)

	assert.Equal(t, [][2]audio.Owner{
		{audio.OwnerNone, audio.OwnerBluetooth},
		{audio.OwnerBluetooth, audio.OwnerAlarm},
		{audio.OwnerAlarm, audio.OwnerNone},
	}, transitions)
}

func TestFailuresCounted(t *testing.T) {
	a := NewArbiter(zerolog.Nop())
	a.Acquire(audio.OwnerPlayer, false)
	a.Acquire(audio.OwnerTone, true)
	a.Acquire(audio.OwnerBluetooth, false)
	assert.Equal(t, uint64(2), a.Failures())
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		a := NewArbiter(zerolog.Nop())
		contenders := []audio.Owner{audio.OwnerBluetooth, audio.OwnerPlayer, audio.OwnerTone}

		var wg sync.WaitGroup
		results := make([]bool, len(contenders))
		for i, o := range contenders {
			wg.Add(1)
			go func(i int, o audio.Owner) {
				defer wg.Done()
				results[i] = a.Acquire(o, false)
			}(i, o)
		}
		wg.Wait()

		winners := 0
		for i, ok := range results {
			if ok {
				winners++
				assert.Equal(t, contenders[i], a.Get())
			}
		}
		if winners != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners)
		}
	}
}

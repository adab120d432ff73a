// ABOUTME: Tests for audio types
// ABOUTME: Tests sample conversion, volume scaling and owner names
package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleToInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int32
		depth    int
		expected int16
	}{
		{"16bit passthrough", -1234, 16, -1234},
		{"24bit positive", 100 << 8, 24, 100},
		{"24bit negative", -100 << 8, 24, -100},
		{"24bit truncates", 1000000, 24, 3906},
		{"8bit widens", 100, 8, 100 << 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleToInt16(tt.input, tt.depth)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1000}
	buf := make([]byte, len(samples)*2)
	assert.Equal(t, len(buf), Int16ToBytes(buf, samples))
	assert.Equal(t, []byte{0, 0, 1, 0, 0xff, 0xff}, buf[:6])

	out := make([]int16, len(samples))
	assert.Equal(t, len(samples), BytesToInt16(out, buf))
	assert.Equal(t, samples, out)
}

func TestToStereo(t *testing.T) {
	tests := []struct {
		name     string
		src      []int16
		channels int
		expected []int16
	}{
		{"mono duplicated", []int16{1, 2, 3}, 1, []int16{1, 1, 2, 2, 3, 3}},
		{"stereo copied", []int16{1, -1, 2, -2}, 2, []int16{1, -1, 2, -2}},
		{"extra channels dropped", []int16{1, 2, 3, 4, 5, 6}, 3, []int16{1, 2, 4, 5}},
		{"partial frame ignored", []int16{1, 2, 3}, 2, []int16{1, 2}},
		{"no channels", []int16{1, 2}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]int16, 16)
			frames := ToStereo(dst, tt.src, tt.channels)
			got := dst[:frames*2]
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d samples, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("sample %d: expected %d, got %d", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestToStereoClampsToDestination(t *testing.T) {
	dst := make([]int16, 4)
	frames := ToStereo(dst, []int16{1, 2, 3, 4, 5}, 1)
	if frames != 2 {
		t.Errorf("expected 2 frames, got %d", frames)
	}
}

func TestApplyVolume(t *testing.T) {
	tests := []struct {
		name     string
		volume   uint8
		input    int16
		expected int16
	}{
		{"unity", 255, 10000, 10000},
		{"mute", 0, 10000, 0},
		{"half", 128, 10000, 5019},
		{"negative", 128, -10000, -5019},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 2)
			Int16ToBytes(buf, []int16{tt.input})
			ApplyVolume(buf, tt.volume)
			out := make([]int16, 1)
			BytesToInt16(out, buf)
			if out[0] != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, out[0])
			}
		})
	}
}

func TestClampInt16(t *testing.T) {
	assert.Equal(t, int16(32767), ClampInt16(40000))
	assert.Equal(t, int16(-32768), ClampInt16(-40000))
	assert.Equal(t, int16(2), ClampInt16(2.5))
	assert.Equal(t, int16(4), ClampInt16(3.5))
}

func TestOwnerString(t *testing.T) {
	assert.Equal(t, "none", OwnerNone.String())
	assert.Equal(t, "bt", OwnerBluetooth.String())
	assert.Equal(t, "player", OwnerPlayer.String())
	assert.Equal(t, "alarm", OwnerAlarm.String())
	assert.Equal(t, "tone", OwnerTone.String())
}

// ABOUTME: Tests for the player output stage
// ABOUTME: Tests volume scaling and mute through the output stage
package player

import (
	"encoding/binary"
	"testing"
)

func TestEffectiveVolume(t *testing.T) {
	tests := []struct {
		volume   uint8
		muted    bool
		expected uint8
	}{
		{255, false, 255},
		{128, false, 128},
		{0, false, 0},
		{200, true, 0}, // Muted overrides volume
	}

	for _, tt := range tests {
		result := effectiveVolume(tt.volume, tt.muted)
		if result != tt.expected {
			t.Errorf("volume=%d, muted=%v: expected %d, got %d",
				tt.volume, tt.muted, tt.expected, result)
		}
	}
}

func TestOutputWriteAppliesVolume(t *testing.T) {
	eng := newFakeEngine()
	out := newOutput(eng, 51)

	frames, err := out.write([]int16{1000, -1000}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frames != 2 {
		t.Errorf("expected 2 frames, got %d", frames)
	}

	data := eng.bytes()
	if len(data) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(data))
	}
	want := []int16{200, 200, -200, -200}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if got != w {
			t.Errorf("sample %d: expected %d, got %d", i, w, got)
		}
	}

	out.SetMuted(true)
	if !out.IsMuted() {
		t.Error("expected muted")
	}
	out.write([]int16{1000}, 1)
	data = eng.bytes()
	for i := 8; i < len(data); i++ {
		if data[i] != 0 {
			t.Fatalf("expected silence while muted, got byte %d = %d", i, data[i])
		}
	}
}

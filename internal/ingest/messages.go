// ABOUTME: Control messages exchanged on the Bluetooth ingest socket
// ABOUTME: JSON text frames for codec config and stream control, binary frames carry PCM
package ingest

import (
	"github.com/Resonate-Protocol/clockradio-go/pkg/engine"
)

// Message types accepted from the source.
const (
	TypeConfig  = "audio/config"
	TypeStart   = "audio/start"
	TypeSuspend = "audio/suspend"
	TypeVolume  = "audio/volume"
	TypeStatus  = "engine/status"
	TypeError   = "engine/error"
)

// Message is a control frame from the source.
type Message struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Volume     *int   `json:"volume,omitempty"`
}

// Status is sent back after every control frame.
type Status struct {
	Type       string   `json:"type"`
	Owner      string   `json:"owner"`
	Bluetooth  bool     `json:"bluetooth"`
	Session    string   `json:"session,omitempty"`
	SampleRate int      `json:"sample_rate"`
	Volume     int      `json:"volume"`
	RingMode   string   `json:"ring_mode,omitempty"`
	RingFill   int      `json:"ring_fill"`
	Levels     [4]uint8 `json:"levels"`
}

// ErrorReply reports a rejected control frame.
type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func statusFrom(s engine.Snapshot) Status {
	st := Status{
		Type:       TypeStatus,
		Owner:      s.Owner.String(),
		Bluetooth:  s.Bluetooth,
		Session:    s.Session,
		SampleRate: s.SampleRate,
		Volume:     int(s.Volume),
		Levels:     s.Levels,
	}
	if s.RingReserved {
		st.RingMode = s.Ring.Mode.String()
		st.RingFill = s.Ring.Count
	}
	return st
}

// ABOUTME: Tests for the WebSocket ingest
// ABOUTME: Dials an httptest server and checks the calls made on a fake engine
package ingest

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/output"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/tone"
	"github.com/Resonate-Protocol/clockradio-go/pkg/engine"
)

type fakeEngine struct {
	mu        sync.Mutex
	rates     []int
	starts    int
	stops     int
	resets    int
	ringBytes int
	volume    uint8
	tones     []tone.SystemTone
	startErr  error
}

func (f *fakeEngine) ConfigureCodec(rate int) error {
	if rate <= 0 {
		return output.ErrInvalidRate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = append(f.rates, rate)
	return nil
}

func (f *fakeEngine) StartBluetooth() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeEngine) StopBluetooth() engine.ShutdownResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return engine.ShutdownStopped
}

func (f *fakeEngine) ResetRing() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeEngine) RingWrite(p []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ringBytes += len(p)
	return len(p)
}

func (f *fakeEngine) SetVolume(v uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

func (f *fakeEngine) PlaySystemTone(t tone.SystemTone) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tones = append(f.tones, t)
	return true
}

func (f *fakeEngine) Snapshot() engine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.Snapshot{
		Owner:      audio.OwnerBluetooth,
		Bluetooth:  f.starts > f.stops,
		SampleRate: 48000,
		Volume:     f.volume,
	}
}

func (f *fakeEngine) read(fn func(f *fakeEngine) bool) func() bool {
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return fn(f)
	}
}

func startServer(t *testing.T, cfg Config) (*Server, *fakeEngine, string) {
	t.Helper()
	eng := &fakeEngine{}
	s := New(cfg, eng, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
	return s, eng, url
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, msg string) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestBinaryFramesReachRing(t *testing.T) {
	s, eng, url := startServer(t, Config{})
	conn := dial(t, url)

	packet := make([]byte, 3400)
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, packet))
	}

	require.Eventually(t, eng.read(func(f *fakeEngine) bool {
		return f.ringBytes == 3*3400
	}), 2*time.Second, 5*time.Millisecond)

	st := s.Stats()
	assert.Equal(t, uint64(3), st.Packets)
	assert.Equal(t, uint64(3*3400), st.Bytes)
	assert.Zero(t, st.Short)
	assert.True(t, st.Active)
}

func TestControlFrames(t *testing.T) {
	_, eng, url := startServer(t, Config{})
	conn := dial(t, url)

	reply := sendControl(t, conn, `{"type":"audio/config","sample_rate":48000}`)
	assert.Equal(t, TypeStatus, reply["type"])
	assert.Equal(t, "bt", reply["owner"])

	reply = sendControl(t, conn, `{"type":"audio/start"}`)
	assert.Equal(t, TypeStatus, reply["type"])
	assert.Equal(t, true, reply["bluetooth"])

	reply = sendControl(t, conn, `{"type":"audio/volume","volume":100}`)
	assert.Equal(t, float64(100), reply["volume"])

	sendControl(t, conn, `{"type":"audio/suspend"}`)

	eng.mu.Lock()
	assert.Equal(t, []int{48000}, eng.rates)
	assert.Equal(t, 1, eng.starts)
	assert.Equal(t, 1, eng.stops)
	assert.Equal(t, uint8(100), eng.volume)
	eng.mu.Unlock()
}

func TestControlErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"invalid json", `{"type":`},
		{"bad rate", `{"type":"audio/config","sample_rate":0}`},
		{"missing volume", `{"type":"audio/volume"}`},
		{"volume out of range", `{"type":"audio/volume","volume":300}`},
		{"unknown type", `{"type":"audio/rewind"}`},
	}

	_, _, url := startServer(t, Config{})
	conn := dial(t, url)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := sendControl(t, conn, tt.msg)
			assert.Equal(t, TypeError, reply["type"])
			assert.NotEmpty(t, reply["message"])
		})
	}
}

func TestStartRefused(t *testing.T) {
	_, eng, url := startServer(t, Config{})
	eng.mu.Lock()
	eng.startErr = engine.ErrOwnerBusy
	eng.mu.Unlock()
	conn := dial(t, url)

	reply := sendControl(t, conn, `{"type":"audio/start"}`)
	assert.Equal(t, TypeError, reply["type"])
	assert.Contains(t, reply["message"], "another producer")
}

func TestDisconnectStopsBluetooth(t *testing.T) {
	s, eng, url := startServer(t, Config{ConnectTones: true})
	conn := dial(t, url)

	require.Eventually(t, func() bool { return s.Stats().Active }, 2*time.Second, 5*time.Millisecond)
	sendControl(t, conn, `{"type":"audio/start"}`)
	conn.Close()

	require.Eventually(t, func() bool { return !s.Stats().Active }, 2*time.Second, 5*time.Millisecond)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, 1, eng.stops)
	assert.Equal(t, 1, eng.resets)
	assert.Equal(t, []tone.SystemTone{tone.SystemToneBTConnect, tone.SystemToneBTDisconnect}, eng.tones)
}

func TestConnectToneFollowsStart(t *testing.T) {
	s, eng, url := startServer(t, Config{ConnectTones: true})
	conn := dial(t, url)
	require.Eventually(t, func() bool { return s.Stats().Active }, 2*time.Second, 5*time.Millisecond)

	tones := func() []tone.SystemTone {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return append([]tone.SystemTone(nil), eng.tones...)
	}

	sendControl(t, conn, `{"type":"audio/config","sample_rate":44100}`)
	assert.Empty(t, tones(), "no tone before the stream starts")

	reply := sendControl(t, conn, `{"type":"audio/start"}`)
	assert.Equal(t, TypeStatus, reply["type"])
	assert.Equal(t, []tone.SystemTone{tone.SystemToneBTConnect}, tones())

	sendControl(t, conn, `{"type":"audio/suspend"}`)
	reply = sendControl(t, conn, `{"type":"audio/start"}`)
	assert.Equal(t, TypeStatus, reply["type"])
	assert.Equal(t, []tone.SystemTone{tone.SystemToneBTConnect}, tones(), "one connect tone per session")
}

func TestRefusedStartPlaysNoTone(t *testing.T) {
	_, eng, url := startServer(t, Config{ConnectTones: true})
	eng.mu.Lock()
	eng.startErr = engine.ErrOwnerBusy
	eng.mu.Unlock()
	conn := dial(t, url)

	reply := sendControl(t, conn, `{"type":"audio/start"}`)
	assert.Equal(t, TypeError, reply["type"])
	eng.mu.Lock()
	assert.Empty(t, eng.tones)
	eng.mu.Unlock()
}

func TestSecondSourceRejected(t *testing.T) {
	s, _, url := startServer(t, Config{})
	dial(t, url)
	require.Eventually(t, func() bool { return s.Stats().Active }, 2*time.Second, 5*time.Millisecond)

	second := dial(t, url)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, uint64(1), s.Stats().Sessions)
}

func TestServerStartStop(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1", Port: 0}, &fakeEngine{}, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

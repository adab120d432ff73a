// ABOUTME: WebSocket ingest standing in for the Bluetooth A2DP sink
// ABOUTME: Feeds binary PCM into the jitter buffer and maps control frames onto the engine
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/tone"
	"github.com/Resonate-Protocol/clockradio-go/pkg/engine"
)

const (
	// DefaultPath is the WebSocket endpoint.
	DefaultPath = "/a2dp"

	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendQueue     = 16
)

// ErrSourceConnected rejects a second source while one is streaming.
var ErrSourceConnected = errors.New("a source is already connected")

// Engine is the part of the audio engine the ingest drives.
type Engine interface {
	ConfigureCodec(sampleRate int) error
	StartBluetooth() error
	StopBluetooth() engine.ShutdownResult
	ResetRing()
	RingWrite(p []byte) int
	SetVolume(v uint8)
	PlaySystemTone(t tone.SystemTone) bool
	Snapshot() engine.Snapshot
}

// Config holds server settings.
type Config struct {
	Addr string
	Port int
	Path string

	// ConnectTones plays the connect notification after the first stream start
	// of a connection and the disconnect notification when it closes.
	ConnectTones bool
}

// Server accepts one streaming source at a time.
type Server struct {
	config   Config
	eng      Engine
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mux        *http.ServeMux
	httpServer *http.Server

	active atomic.Bool
	connMu sync.Mutex
	conn   *websocket.Conn

	packets  atomic.Uint64
	bytes    atomic.Uint64
	short    atomic.Uint64
	sessions atomic.Uint64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Stats counts ingest traffic.
type Stats struct {
	Packets  uint64
	Bytes    uint64
	Short    uint64
	Sessions uint64
	Active   bool
}

// New creates an ingest server.
func New(config Config, eng Engine, logger zerolog.Logger) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	s := &Server{
		config: config,
		eng:    eng,
		logger: logger.With().Str("component", "ingest").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 1024,
			// sources run on the local network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:      http.NewServeMux(),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	return s
}

// Handle registers an extra handler, e.g. /metrics.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Stats returns traffic counters.
func (s *Server) Stats() Stats {
	return Stats{
		Packets:  s.packets.Load(),
		Bytes:    s.bytes.Load(),
		Short:    s.short.Load(),
		Sessions: s.sessions.Load(),
		Active:   s.active.Load(),
	}
}

// Start serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	s.logger.Info().Str("addr", addr).Str("path", s.config.Path).Msg("ingest listening")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		s.logger.Info().Msg("ingest shutting down")
	case err := <-errChan:
		serverErr = err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("http shutdown error")
	}
	s.closeSource()
	s.wg.Wait()

	if serverErr != nil {
		return fmt.Errorf("ingest server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// closeSource drops the connected source, unblocking its reader.
func (s *Server) closeSource() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn, r.RemoteAddr)
}

func (s *Server) handleConnection(conn *websocket.Conn, remote string) {
	defer conn.Close()
	logger := s.logger.With().Str("remote", remote).Logger()

	if !s.active.CompareAndSwap(false, true) {
		logger.Warn().Msg("rejecting second source")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ErrSourceConnected.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.sessions.Add(1)
	logger.Info().Msg("source connected")
	sess := &session{}

	send := make(chan any, sendQueue)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writer(conn, send, logger)
	}()

	defer func() {
		close(send)
		<-writerDone
		s.disconnect(logger)
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket error")
			}
			return
		}
		select {
		case <-s.stopChan:
			return
		default:
		}

		switch kind {
		case websocket.BinaryMessage:
			s.handleAudio(data)
		case websocket.TextMessage:
			if reply := s.handleControl(data, sess, logger); reply != nil {
				select {
				case send <- reply:
				default:
					logger.Warn().Msg("reply queue full, dropping")
				}
			}
		}
	}
}

// disconnect mirrors an A2DP link loss: stop the consumer and drop buffered audio.
func (s *Server) disconnect(logger zerolog.Logger) {
	res := s.eng.StopBluetooth()
	s.eng.ResetRing()
	if s.config.ConnectTones {
		s.eng.PlaySystemTone(tone.SystemToneBTDisconnect)
	}
	s.connMu.Lock()
	s.conn = nil
	s.connMu.Unlock()
	s.active.Store(false)
	logger.Info().Stringer("shutdown", res).Msg("source disconnected")
}

func (s *Server) handleAudio(data []byte) {
	s.packets.Add(1)
	n := s.eng.RingWrite(data)
	s.bytes.Add(uint64(n))
	if n < len(data) {
		s.short.Add(1)
	}
}

// session is the per-connection control state.
type session struct {
	announced bool
}

func (s *Server) handleControl(data []byte, sess *session, logger zerolog.Logger) any {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn().Err(err).Msg("bad control frame")
		return ErrorReply{Type: TypeError, Message: "invalid json"}
	}

	switch msg.Type {
	case TypeConfig:
		if err := s.eng.ConfigureCodec(msg.SampleRate); err != nil {
			logger.Warn().Err(err).Int("rate", msg.SampleRate).Msg("codec config rejected")
			return ErrorReply{Type: TypeError, Message: err.Error()}
		}
	case TypeStart:
		if err := s.eng.StartBluetooth(); err != nil {
			logger.Warn().Err(err).Msg("stream start refused")
			return ErrorReply{Type: TypeError, Message: err.Error()}
		}
		// the connect tone preempts Bluetooth, so it follows the start
		if s.config.ConnectTones && !sess.announced {
			sess.announced = true
			s.eng.PlaySystemTone(tone.SystemToneBTConnect)
		}
	case TypeSuspend:
		res := s.eng.StopBluetooth()
		logger.Info().Stringer("shutdown", res).Msg("stream suspended")
	case TypeVolume:
		if msg.Volume == nil || *msg.Volume < 0 || *msg.Volume > 255 {
			return ErrorReply{Type: TypeError, Message: "volume must be 0..255"}
		}
		s.eng.SetVolume(uint8(*msg.Volume))
	default:
		logger.Debug().Str("type", msg.Type).Msg("unknown control frame")
		return ErrorReply{Type: TypeError, Message: "unknown type " + msg.Type}
	}
	return statusFrom(s.eng.Snapshot())
}

// writer sends queued replies and keepalive pings.
func (s *Server) writer(conn *websocket.Conn, send <-chan any, logger zerolog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warn().Err(err).Msg("marshal reply failed")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Msg("reply write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

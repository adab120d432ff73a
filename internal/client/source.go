// ABOUTME: WebSocket source client for the clock radio's ingest endpoint
// ABOUTME: Sends codec and stream control frames and pushes PCM as binary frames
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/internal/ingest"
)

const replyTimeout = 5 * time.Second

// ErrNotConnected is returned when the socket is closed.
var ErrNotConnected = errors.New("not connected")

// Config holds client configuration
type Config struct {
	RadioAddr string
	Path      string

	// Lead is how far ahead of real time Stream may run.
	Lead time.Duration
}

// Client streams to one radio.
type Client struct {
	config Config
	logger zerolog.Logger

	conn *websocket.Conn
	mu   sync.RWMutex

	// reqMu serializes control requests so replies match in order.
	reqMu   sync.Mutex
	replies chan reply

	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

type reply struct {
	status ingest.Status
	err    error
}

// NewClient creates a new source client
func NewClient(config Config, logger zerolog.Logger) *Client {
	if config.Path == "" {
		config.Path = ingest.DefaultPath
	}
	if config.Lead <= 0 {
		config.Lead = DefaultLead
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:  config,
		logger:  logger.With().Str("component", "source").Logger(),
		replies: make(chan reply, 4),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connect dials the radio.
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.RadioAddr, Path: c.config.Path}
	c.logger.Info().Str("url", u.String()).Msg("connecting")

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readMessages()
	return nil
}

// Configure announces the stream sample rate.
func (c *Client) Configure(sampleRate int) (ingest.Status, error) {
	return c.request(ingest.Message{Type: ingest.TypeConfig, SampleRate: sampleRate})
}

// Start asks the radio to take the speaker for this stream.
func (c *Client) Start() (ingest.Status, error) {
	return c.request(ingest.Message{Type: ingest.TypeStart})
}

// Suspend stops playback but keeps the connection.
func (c *Client) Suspend() (ingest.Status, error) {
	return c.request(ingest.Message{Type: ingest.TypeSuspend})
}

// SetVolume sets the radio's stream volume (0..255).
func (c *Client) SetVolume(volume int) (ingest.Status, error) {
	return c.request(ingest.Message{Type: ingest.TypeVolume, Volume: &volume})
}

func (c *Client) request(msg ingest.Message) (ingest.Status, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.sendJSON(msg); err != nil {
		return ingest.Status{}, fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}

	select {
	case r := <-c.replies:
		if r.err != nil {
			return ingest.Status{}, fmt.Errorf("%s: %w", msg.Type, r.err)
		}
		return r.status, nil
	case <-time.After(replyTimeout):
		return ingest.Status{}, fmt.Errorf("%s: no reply within %v", msg.Type, replyTimeout)
	case <-c.ctx.Done():
		return ingest.Status{}, ErrNotConnected
	}
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg ingest.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(msg)
}

// WriteAudio sends one PCM frame.
func (c *Client) WriteAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// readMessages reads status and error replies
func (c *Client) readMessages() {
	defer c.Close()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.handleJSONMessage(data)
	}
}

func (c *Client) handleJSONMessage(data []byte) {
	var head struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.logger.Warn().Err(err).Msg("failed to parse reply")
		return
	}

	var r reply
	switch head.Type {
	case ingest.TypeStatus:
		if err := json.Unmarshal(data, &r.status); err != nil {
			c.logger.Warn().Err(err).Msg("failed to parse status")
			return
		}
	case ingest.TypeError:
		r.err = errors.New(head.Message)
	default:
		c.logger.Debug().Str("type", head.Type).Msg("unknown reply")
		return
	}

	select {
	case c.replies <- r:
	default:
		c.logger.Warn().Str("type", head.Type).Msg("unclaimed reply dropped")
	}
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.conn.Close()
		c.logger.Info().Msg("connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ABOUTME: WebSocket client for the timesync protocol
// ABOUTME: Handles connection, handshake and routing of time replies to Exchange
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// WebSocketPath is the server endpoint for WebSocket clients.
	WebSocketPath = "/timesync"

	// DefaultHandshakeTimeout bounds the wait for server/hello.
	DefaultHandshakeTimeout = 5 * time.Second
)

var (
	// ErrNotConnected is returned when sending on a client that has not
	// connected yet or has been closed.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost is returned by a pending Exchange when the read loop
	// stops.
	ErrConnectionLost = errors.New("connection lost")
)

// Config holds client configuration
type Config struct {
	ServerAddr string // host:port
	ClientID   string // generated when empty
	Name       string
	Logger     logrus.FieldLogger

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

// exchangeResult is what the read loop hands to a waiting Exchange.
type exchangeResult struct {
	reply timesync.Reply
	err   error
}

// Client is a WebSocket connection to a timesync server. It implements
// timesync.Exchanger; concurrent Exchange calls are serialized since only
// one probe may be outstanding.
type Client struct {
	config Config
	log    logrus.FieldLogger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	server    ServerHello

	writeMu sync.Mutex

	// exchangeMu serializes Exchange; pendingMu guards expected.
	exchangeMu sync.Mutex
	pendingMu  sync.Mutex
	expected   *int64
	results    chan exchangeResult

	done chan struct{}
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Client{
		config:  config,
		log:     log.WithField("client_id", config.ClientID),
		results: make(chan exchangeResult, 1),
		done:    make(chan struct{}),
	}
}

// ClientID returns the id sent in client/hello.
func (c *Client) ClientID() string {
	return c.config.ClientID
}

// Server returns the server/hello received during the handshake.
func (c *Client) Server() ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// Connect establishes WebSocket connection and performs handshake
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: WebSocketPath}
	c.log.WithField("url", u.String()).Info("Connecting to server")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake performs the protocol handshake
func (c *Client) handshake() error {
	hello := ClientHello{
		ClientID: c.config.ClientID,
		Name:     c.config.Name,
		Version:  ProtocolVersion,
	}
	if err := c.sendJSON(Message{Type: TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}

	switch msg.Type {
	case TypeServerHello:
	case TypeServerError:
		var serverErr ServerError
		if err := msg.DecodePayload(&serverErr); err != nil {
			return err
		}
		return serverErr
	default:
		return fmt.Errorf("expected server/hello, got %s", msg.Type)
	}

	var server ServerHello
	if err := msg.DecodePayload(&server); err != nil {
		return err
	}
	if server.Version != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version %d", server.Version)
	}

	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"server_id": server.ServerID,
		"server":    server.Name,
		"role":      server.Role,
	}).Info("Handshake complete")
	return nil
}

// Exchange sends one client/time probe and waits for the matching
// server/time. Replies that do not echo the outstanding t1 are dropped.
func (c *Client) Exchange(ctx context.Context, req timesync.Request) (timesync.Reply, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	// a reply to an abandoned probe may still sit in the buffer
	select {
	case <-c.results:
	default:
	}

	t1 := req.T1.Micros()
	c.pendingMu.Lock()
	c.expected = &t1
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		c.expected = nil
		c.pendingMu.Unlock()
	}()

	if err := c.sendJSON(Message{Type: TypeClientTime, Payload: TimeRequest(req)}); err != nil {
		return timesync.Reply{}, fmt.Errorf("failed to send client/time: %w", err)
	}

	select {
	case res := <-c.results:
		return res.reply, res.err
	case <-ctx.Done():
		return timesync.Reply{}, ctx.Err()
	case <-c.done:
		return timesync.Reply{}, ErrConnectionLost
	}
}

// deliver hands a result to the waiting Exchange if it answers the
// outstanding probe.
func (c *Client) deliver(t1 int64, res exchangeResult) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.expected == nil || *c.expected != t1 {
		return false
	}
	c.expected = nil
	select {
	case c.results <- res:
	default:
	}
	return true
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer close(c.done)
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Read loop stopped")
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.log.WithField("ws_type", messageType).Debug("Ignoring non-text message")
			continue
		}
		c.handleJSONMessage(data)
	}
}

// handleJSONMessage routes JSON messages
func (c *Client) handleJSONMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.WithError(err).Warn("Failed to parse JSON message")
		return
	}

	switch msg.Type {
	case TypeServerTime:
		var timeMsg ServerTime
		if err := msg.DecodePayload(&timeMsg); err != nil {
			c.log.WithError(err).Warn("Dropping server/time")
			return
		}
		if !c.deliver(timeMsg.ClientTransmitted, exchangeResult{reply: timeMsg.Reply()}) {
			c.log.WithField("t1", timeMsg.ClientTransmitted).Debug("Dropping stale server/time")
		}

	case TypeServerError:
		var serverErr ServerError
		if err := msg.DecodePayload(&serverErr); err != nil {
			c.log.WithError(err).Warn("Dropping server/error")
			return
		}
		if !c.deliver(serverErr.ClientTransmitted, exchangeResult{err: serverErr}) {
			c.log.WithField("code", serverErr.Code).Warn("Server error outside an exchange")
		}

	default:
		c.log.WithField("type", msg.Type).Debug("Unknown message type")
	}
}

// SendGoodbye sends a client/goodbye message before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.sendJSON(Message{Type: TypeClientGoodbye, Payload: ClientGoodbye{Reason: reason}})
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.conn.Close()
		c.log.Debug("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

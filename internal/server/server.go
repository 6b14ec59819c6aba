// ABOUTME: Network server answering timesync probes
// ABOUTME: Serves the responder over WebSocket and HTTP, plus Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/discovery"
	"github.com/Resonate-Protocol/timesync-go/internal/metrics"
	"github.com/Resonate-Protocol/timesync-go/pkg/protocol"
	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// MetricsPath serves Prometheus metrics.
	MetricsPath = "/metrics"

	// DefaultProbeRate is the sustained probes per second allowed per
	// connection or remote host.
	DefaultProbeRate = 20

	// DefaultProbeBurst is the probe burst allowed per connection or remote
	// host.
	DefaultProbeBurst = 10

	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	helloTimeout  = 10 * time.Second
)

// Roles reported in server/hello.
const (
	RoleAuthority = "authority"
	RoleRelay     = "relay"
)

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	UseTUI     bool

	// ProbeRate and ProbeBurst bound probes per connection (WebSocket) or
	// per remote host (HTTP). Zero uses the defaults.
	ProbeRate  float64
	ProbeBurst int

	// UpstreamInterval refreshes a relay's upstream offset in the
	// background. Zero leaves upstream syncs to the answer path.
	UpstreamInterval time.Duration
}

// Server serves a timesync.Responder
type Server struct {
	config    Config
	serverID  string
	responder *timesync.Responder
	metrics   *metrics.Metrics
	log       logrus.FieldLogger

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux
	routesOnce sync.Once

	// Client management
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// HTTP probe limiters by remote host
	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex

	mdnsManager *discovery.Manager

	tui       *ServerTUI
	startTime time.Time

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client represents a connected WebSocket client
type Client struct {
	ID   string
	Name string
	Conn *websocket.Conn

	limiter  *rate.Limiter
	sendChan chan interface{}

	mu        sync.RWMutex
	probes    int64
	lastProbe time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records probe counters in m and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Default: the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a new server instance
func New(config Config, responder *timesync.Responder, opts ...Option) *Server {
	if config.ProbeRate <= 0 {
		config.ProbeRate = DefaultProbeRate
	}
	if config.ProbeBurst <= 0 {
		config.ProbeBurst = DefaultProbeBurst
	}

	s := &Server{
		config:    config,
		serverID:  uuid.New().String(),
		responder: responder,
		mux:       http.NewServeMux(),
		clients:   make(map[string]*Client),
		limiters:  make(map[string]*rate.Limiter),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("server_id", s.serverID)

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Probes carry no credentials; any origin may measure its offset.
			if origin := r.Header.Get("Origin"); origin != "" {
				s.log.WithField("origin", origin).Debug("Accepting WebSocket from browser origin")
			}
			return true
		},
	}
	return s
}

// ID returns the server id sent in server/hello.
func (s *Server) ID() string {
	return s.serverID
}

// Role returns the role reported in server/hello.
func (s *Server) Role() string {
	if s.responder.IsAuthority() {
		return RoleAuthority
	}
	return RoleRelay
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(func() {
		s.mux.HandleFunc(protocol.WebSocketPath, s.handleWebSocket)
		s.mux.HandleFunc(protocol.ProbePath, s.handleProbe)
		s.mux.Handle(MetricsPath, s.metrics.Handler())
	})
	return s.mux
}

// Start runs the server until Stop is called, the TUI quits or the
// listener fails
func (s *Server) Start() error {
	if s.config.UseTUI {
		s.tui = NewServerTUI()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.tui.Start(s.status()); err != nil {
				s.log.WithError(err).Error("TUI stopped")
			}
		}()
	}

	s.log.WithFields(logrus.Fields{"name": s.config.Name, "role": s.Role()}).Info("Server starting")

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        protocol.WebSocketPath,
			Role:        s.Role(),
			Logger:      s.log,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			s.log.WithError(err).Warn("Failed to start mDNS advertisement")
		}
	}

	upstreamCtx, stopUpstream := context.WithCancel(context.Background())
	defer stopUpstream()
	if !s.responder.IsAuthority() && s.config.UpstreamInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.refreshUpstream(upstreamCtx)
		}()
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.log.WithField("addr", addr).Info("Listening")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	select {
	case <-s.stopChan:
		s.log.Info("Server shutting down")
	case <-tuiQuitChan:
		s.log.Info("TUI quit requested, shutting down")
	case err := <-errChan:
		s.log.WithError(err).Error("HTTP server error")
		serverErr = err
	}

	// Mark server as shutting down to reject new connections
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}
	stopUpstream()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("HTTP server shutdown error")
	}
	s.closeClients()

	s.wg.Wait()
	s.log.Info("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// refreshUpstream keeps a relay's upstream offset fresh.
func (s *Server) refreshUpstream(ctx context.Context) {
	ticker := time.NewTicker(s.config.UpstreamInterval)
	defer ticker.Stop()

	for {
		res, err := s.responder.SyncUpstream(ctx)
		s.metrics.ObserveSync(res, err)
		if err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("Upstream sync failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShutdown
}

// closeClients drops hijacked WebSocket connections, which Shutdown does not
// track.
func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	s.log.WithField("remote", r.RemoteAddr).Debug("New WebSocket connection")
	s.handleConnection(conn)
}

// handleConnection manages a client connection
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		s.log.WithError(err).Debug("Error reading hello")
		return
	}
	conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.WithError(err).Debug("Error unmarshaling message")
		return
	}

	if msg.Type != protocol.TypeClientHello {
		s.rejectHello(conn, fmt.Sprintf("expected %s, got %s", protocol.TypeClientHello, msg.Type))
		return
	}

	var hello protocol.ClientHello
	if err := msg.DecodePayload(&hello); err != nil {
		s.rejectHello(conn, err.Error())
		return
	}

	if hello.ClientID == "" {
		s.rejectHello(conn, "client hello missing client_id")
		return
	}
	if hello.Version != protocol.ProtocolVersion {
		s.rejectHello(conn, fmt.Sprintf("unsupported protocol version %d", hello.Version))
		return
	}

	client := &Client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Conn:     conn,
		limiter:  rate.NewLimiter(rate.Limit(s.config.ProbeRate), s.config.ProbeBurst),
		sendChan: make(chan interface{}, 100),
	}
	clog := s.log.WithFields(logrus.Fields{"client_id": client.ID, "client": client.Name})

	// Check for duplicate client ID and register atomically
	s.clientsMu.Lock()
	if _, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		clog.Warn("Client ID already connected, rejecting duplicate")
		s.rejectHello(conn, "client id already connected")
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	s.metrics.Clients.Inc()
	s.updateTUI()
	clog.Info("Client connected")

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		close(client.sendChan)

		s.metrics.Clients.Dec()
		s.updateTUI()
		clog.Info("Client disconnected")
	}()

	serverHello := protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  protocol.ProtocolVersion,
		Role:     s.Role(),
	}
	if err := s.sendMessage(client, protocol.TypeServerHello, serverHello); err != nil {
		clog.WithError(err).Warn("Error sending server hello")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client, clog)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				clog.WithError(err).Debug("WebSocket error")
			}
			return
		}

		if !s.handleClientMessage(client, clog, data) {
			return
		}
	}
}

// rejectHello answers a failed handshake with server/error.
func (s *Server) rejectHello(conn *websocket.Conn, reason string) {
	s.log.WithField("reason", reason).Debug("Rejecting handshake")
	errorMsg := protocol.Message{
		Type: protocol.TypeServerError,
		Payload: protocol.ServerError{
			Code:    protocol.CodeBadRequest,
			Message: reason,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	conn.WriteJSON(errorMsg)
}

// clientWriter sends messages to the client
func (s *Server) clientWriter(client *Client, clog logrus.FieldLogger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				clog.WithError(err).Error("Error marshaling message")
				continue
			}
			client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				clog.WithError(err).Debug("Error writing message")
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// handleClientMessage processes messages from clients. It returns false
// when the connection should close.
func (s *Server) handleClientMessage(client *Client, clog logrus.FieldLogger, data []byte) bool {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		clog.WithError(err).Debug("Error unmarshaling message")
		return true
	}

	switch msg.Type {
	case protocol.TypeClientTime:
		s.handleTimeSync(client, clog, msg)
	case protocol.TypeClientGoodbye:
		var bye protocol.ClientGoodbye
		_ = msg.DecodePayload(&bye)
		clog.WithField("reason", bye.Reason).Debug("Client said goodbye")
		return false
	default:
		clog.WithField("type", msg.Type).Debug("Unknown message type")
	}
	return true
}

// handleTimeSync responds to time synchronization requests
func (s *Server) handleTimeSync(client *Client, clog logrus.FieldLogger, msg protocol.Message) {
	var clientTime protocol.ClientTime
	if err := msg.DecodePayload(&clientTime); err != nil {
		clog.WithError(err).Debug("Error unmarshaling client time")
		return
	}

	if !client.limiter.Allow() {
		s.metrics.ObserveAnswer("ws", errRateLimited)
		s.sendMessage(client, protocol.TypeServerError, protocol.ServerError{
			ClientTransmitted: clientTime.ClientTransmitted,
			Code:              protocol.CodeRateLimited,
			Message:           "probe rate exceeded",
		})
		return
	}

	// The send stamp is taken before the reply is queued to the writer, so
	// writer latency shows up as extra round trip rather than offset error.
	reply, err := s.responder.AnswerClient(context.Background(), clientTime.Request())
	s.metrics.ObserveAnswer("ws", err)
	if err != nil {
		clog.WithError(err).Warn("Cannot answer probe")
		s.sendMessage(client, protocol.TypeServerError, answerError(clientTime.ClientTransmitted, err))
		return
	}

	clog.WithFields(logrus.Fields{
		"t1": reply.T1, "t2": reply.T2, "t3": reply.T3,
	}).Debug("Answered probe")

	client.mu.Lock()
	client.probes++
	client.lastProbe = time.Now()
	client.mu.Unlock()

	if err := s.sendMessage(client, protocol.TypeServerTime, protocol.TimeReply(reply)); err != nil {
		clog.WithError(err).Warn("Error sending server time")
	}
	s.updateTUI()
}

var errRateLimited = errors.New("rate limited")

// answerError maps a responder failure to its wire form.
func answerError(t1 int64, err error) protocol.ServerError {
	code := protocol.CodeUpstream
	if errors.Is(err, timesync.ErrNoUpstreamConfigured) {
		code = protocol.CodeNoUpstream
	}
	return protocol.ServerError{ClientTransmitted: t1, Code: code, Message: err.Error()}
}

// handleProbe answers one binary probe over HTTP
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, protocol.RequestSize+1))
	if err != nil {
		writeProbeError(w, http.StatusBadRequest, protocol.ServerError{Code: protocol.CodeBadRequest, Message: err.Error()})
		return
	}
	req, err := protocol.DecodeRequest(body)
	if err != nil {
		writeProbeError(w, http.StatusBadRequest, protocol.ServerError{Code: protocol.CodeBadRequest, Message: err.Error()})
		return
	}

	if !s.hostLimiter(r.RemoteAddr).Allow() {
		s.metrics.ObserveAnswer("http", errRateLimited)
		writeProbeError(w, http.StatusTooManyRequests, protocol.ServerError{
			ClientTransmitted: req.T1.Micros(),
			Code:              protocol.CodeRateLimited,
			Message:           "probe rate exceeded",
		})
		return
	}

	reply, err := s.responder.AnswerClient(r.Context(), req)
	s.metrics.ObserveAnswer("http", err)
	if err != nil {
		s.log.WithError(err).Warn("Cannot answer probe")
		writeProbeError(w, http.StatusServiceUnavailable, answerError(req.T1.Micros(), err))
		return
	}

	w.Header().Set("Content-Type", protocol.ContentTypeProbe)
	w.Write(protocol.EncodeReply(reply))
}

func writeProbeError(w http.ResponseWriter, status int, serverErr protocol.ServerError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(serverErr)
}

// hostLimiter returns the probe limiter for the remote host of addr.
func (s *Server) hostLimiter(addr string) *rate.Limiter {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.config.ProbeRate), s.config.ProbeBurst)
		s.limiters[host] = limiter
	}
	return limiter
}

// sendMessage queues a JSON message to a client
func (s *Server) sendMessage(client *Client, msgType string, payload interface{}) error {
	msg := protocol.Message{
		Type:    msgType,
		Payload: payload,
	}

	select {
	case client.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// Clients returns a snapshot of connected clients ordered by name.
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, client := range s.clients {
		client.mu.RLock()
		clients = append(clients, ClientInfo{
			Name:      client.Name,
			ID:        client.ID,
			Probes:    client.probes,
			LastProbe: client.lastProbe,
		})
		client.mu.RUnlock()
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].Name != clients[j].Name {
			return clients[i].Name < clients[j].Name
		}
		return clients[i].ID < clients[j].ID
	})
	return clients
}

func (s *Server) status() ServerStatus {
	return ServerStatus{
		Name:      s.config.Name,
		Port:      s.config.Port,
		Role:      s.Role(),
		StartTime: s.startTime,
		Clients:   s.Clients(),
	}
}

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}
	s.tui.Update(s.status())
}

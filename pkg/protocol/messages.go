// ABOUTME: Timesync wire protocol message type definitions
// ABOUTME: JSON envelope and payloads exchanged over the WebSocket transport
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
)

// ProtocolVersion is the version advertised in both hellos.
const ProtocolVersion = 1

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeClientTime    = "client/time"
	TypeServerTime    = "server/time"
	TypeServerError   = "server/error"
	TypeClientGoodbye = "client/goodbye"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// DecodePayload re-decodes a generic payload into out. Messages read off the
// wire carry their payload as a map until the type is known.
func (m Message) DecodePayload(out interface{}) error {
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("failed to re-encode %s payload: %w", m.Type, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", m.Type, err)
	}
	return nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
	// Role is "authority" or "relay"
	Role string `json:"role"`
}

// ClientTime is sent for clock synchronization
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // Client timestamp in microseconds
}

// ServerTime is the response to client/time
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // Echoed client timestamp
	ServerReceived    int64 `json:"server_received"`    // Server receive timestamp
	ServerTransmitted int64 `json:"server_transmitted"` // Server send timestamp
}

// ServerError reports a probe the server could not answer, e.g. a relay
// whose upstream is unreachable
type ServerError struct {
	ClientTransmitted int64  `json:"client_transmitted"`
	Code              string `json:"code"`
	Message           string `json:"message"`
}

// Error codes carried in ServerError
const (
	CodeUpstream    = "upstream_unavailable"
	CodeNoUpstream  = "no_upstream"
	CodeRateLimited = "rate_limited"
	CodeBadRequest  = "bad_request"
)

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "restart", "user_request"
}

// TimeRequest converts a probe request to its wire form.
func TimeRequest(req timesync.Request) ClientTime {
	return ClientTime{ClientTransmitted: req.T1.Micros()}
}

// Request returns the probe request carried by the message.
func (m ClientTime) Request() timesync.Request {
	return timesync.Request{T1: timesync.Timestamp(m.ClientTransmitted)}
}

// TimeReply converts a probe reply to its wire form.
func TimeReply(reply timesync.Reply) ServerTime {
	return ServerTime{
		ClientTransmitted: reply.T1.Micros(),
		ServerReceived:    reply.T2.Micros(),
		ServerTransmitted: reply.T3.Micros(),
	}
}

// Reply returns the probe reply carried by the message.
func (m ServerTime) Reply() timesync.Reply {
	return timesync.Reply{
		T1: timesync.Timestamp(m.ClientTransmitted),
		T2: timesync.Timestamp(m.ServerReceived),
		T3: timesync.Timestamp(m.ServerTransmitted),
	}
}

// Error implements error so a ServerError can be returned from Exchange.
func (e ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// ABOUTME: Builds the exchanger a session probes through
// ABOUTME: WebSocket client, HTTP probe endpoint or an NTP server
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/timesync-go/internal/config"
	"github.com/Resonate-Protocol/timesync-go/internal/reference"
	"github.com/Resonate-Protocol/timesync-go/pkg/protocol"
	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/sirupsen/logrus"
)

// Transport is a connected exchanger and what it learned about the server.
type Transport struct {
	Exchanger timesync.Exchanger
	Kind      string
	Server    string // name reported by the server, or its address
	Role      string // empty when the transport has no handshake

	close func()
}

// Close releases the connection, if any.
func (t *Transport) Close() {
	if t.close != nil {
		t.close()
	}
}

// Dial connects to addr using the named transport. clock must be the clock
// the session reads; the NTP transport stamps replies against it.
func Dial(ctx context.Context, kind, addr, name string, clock timesync.Clock, log logrus.FieldLogger) (*Transport, error) {
	switch kind {
	case config.TransportWebSocket:
		client := protocol.NewClient(protocol.Config{
			ServerAddr: addr,
			Name:       name,
			Logger:     log,
		})
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		hello := client.Server()
		return &Transport{
			Exchanger: client,
			Kind:      kind,
			Server:    hello.Name,
			Role:      hello.Role,
			close: func() {
				_ = client.SendGoodbye("shutdown")
				client.Close()
			},
		}, nil

	case config.TransportHTTP:
		base := addr
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			base = "http://" + base
		}
		return &Transport{
			Exchanger: protocol.NewHTTPExchanger(base, nil),
			Kind:      kind,
			Server:    addr,
		}, nil

	case config.TransportNTP:
		return &Transport{
			Exchanger: reference.NewNTPExchanger(addr, reference.WithBase(clock), reference.WithLogger(log)),
			Kind:      kind,
			Server:    addr,
			Role:      "ntp",
		}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}

// ABOUTME: mDNS service discovery for timesync servers
// ABOUTME: Handles advertisement by servers and browsing by clients
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

const (
	// ServiceType is the DNS-SD service advertised by timesync servers.
	ServiceType = "_timesync._tcp"

	// Domain is the mDNS domain browsed.
	Domain = "local"

	defaultQueryTimeout = 3 * time.Second
)

// ErrNoServer is returned by Lookup when nothing answered in time.
var ErrNoServer = errors.New("no timesync server discovered")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // advertised in the TXT record, e.g. "/timesync"
	Role        string // "authority" or "relay", advertised in the TXT record

	// QueryTimeout bounds each browse query. Default 3s.
	QueryTimeout time.Duration

	Logger logrus.FieldLogger
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	log     logrus.FieldLogger
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Role string
}

// Addr returns host:port.
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = defaultQueryTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Manager{
		config:  config,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// txtRecords builds the TXT entries for the advertised service.
func (c Config) txtRecords() []string {
	var txt []string
	if c.Path != "" {
		txt = append(txt, "path="+c.Path)
	}
	if c.Role != "" {
		txt = append(txt, "role="+c.Role)
	}
	return txt
}

// Advertise advertises this server via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.config.txtRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"service": m.config.ServiceName,
		"port":    m.config.Port,
		"type":    ServiceType,
	}).Info("Advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for timesync servers until Stop is called
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for servers
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.query(func(server *ServerInfo) bool {
			select {
			case m.servers <- server:
				return true
			case <-m.ctx.Done():
				return false
			}
		})
	}
}

// query runs one mDNS query, handing each entry to found until it returns
// false.
func (m *Manager) query(found func(*ServerInfo) bool) {
	entries := make(chan *mdns.ServiceEntry, 10)
	done := make(chan struct{})

	go func() {
		defer close(done)
		accepting := true
		for entry := range entries {
			if !accepting {
				continue
			}
			server := entryToServer(entry)
			if server == nil {
				continue
			}
			m.log.WithFields(logrus.Fields{
				"server": server.Name,
				"addr":   server.Addr(),
			}).Debug("Discovered server")
			accepting = found(server)
		}
	}()

	params := &mdns.QueryParam{
		Service:     ServiceType,
		Domain:      Domain,
		Timeout:     m.config.QueryTimeout,
		Entries:     entries,
		DisableIPv6: true,
	}

	if err := mdns.Query(params); err != nil {
		m.log.WithError(err).Debug("mDNS query failed")
	}
	close(entries)
	<-done
}

// Lookup returns the first server that answers within timeout.
func (m *Manager) Lookup(ctx context.Context, timeout time.Duration) (*ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan *ServerInfo, 1)
	go func() {
		for ctx.Err() == nil {
			m.query(func(server *ServerInfo) bool {
				select {
				case result <- server:
				default:
				}
				return false
			})
			if len(result) > 0 {
				return
			}
		}
	}()

	select {
	case server := <-result:
		return server, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrNoServer
		}
		return nil, ctx.Err()
	}
}

// entryToServer converts a DNS-SD answer, skipping entries without an IPv4
// address.
func entryToServer(entry *mdns.ServiceEntry) *ServerInfo {
	if entry == nil || entry.AddrV4 == nil {
		return nil
	}
	server := &ServerInfo{
		Name: entry.Name,
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		if len(field) > 5 && field[:5] == "role=" {
			server.Role = field[5:]
		}
	}
	return server
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}

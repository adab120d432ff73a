// ABOUTME: mDNS advertisement and browsing for the clock radio's ingest endpoint
// ABOUTME: Lets streaming sources find the radio the way a phone finds an A2DP sink
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/internal/version"
)

// ServiceType is the advertised mDNS service.
const ServiceType = "_clockradio-a2dp._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	radios chan *RadioInfo
}

// RadioInfo describes a discovered clock radio
type RadioInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// NewManager creates a discovery manager
func NewManager(config Config, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if config.Path == "" {
		config.Path = "/a2dp"
	}

	return &Manager{
		config: config,
		logger: logger.With().Str("component", "discovery").Logger(),
		ctx:    ctx,
		cancel: cancel,
		radios: make(chan *RadioInfo, 10),
	}
}

// TXT returns the TXT records advertised with the service.
func (m *Manager) TXT() []string {
	return []string{"path=" + m.config.Path, "version=" + version.Version}
}

// Advertise advertises this radio via mDNS
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
		m.TXT(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.logger.Info().
		Str("name", m.config.ServiceName).
		Int("port", m.config.Port).
		Str("type", ServiceType).
		Msg("advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for clock radios until Stop is called.
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		go func() {
			for entry := range entries {
				radio := radioFromEntry(entry)
				m.logger.Debug().Str("name", radio.Name).Str("host", radio.Host).Int("port", radio.Port).Msg("discovered radio")

				select {
				case m.radios <- radio:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: 3 * time.Second,
			Entries: entries,
		}
		if err := mdns.Query(params); err != nil {
			m.logger.Warn().Err(err).Msg("mDNS query failed")
		}
		close(entries)
	}
}

func radioFromEntry(entry *mdns.ServiceEntry) *RadioInfo {
	radio := &RadioInfo{
		Name: entry.Name,
		Port: entry.Port,
		Path: "/a2dp",
	}
	if entry.AddrV4 != nil {
		radio.Host = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		radio.Host = entry.AddrV6.String()
	} else {
		radio.Host = entry.Host
	}
	for _, field := range entry.InfoFields {
		if path, ok := strings.CutPrefix(field, "path="); ok && path != "" {
			radio.Path = path
		}
	}
	return radio
}

// Radios returns the channel of discovered radios
func (m *Manager) Radios() <-chan *RadioInfo {
	return m.radios
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

// ABOUTME: Tests for mDNS discovery
// ABOUTME: Tests manager setup and service entry parsing
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/clockradio-go/internal/version"
)

func TestNewManager(t *testing.T) {
	config := Config{
		ServiceName: "Bedside Radio",
		Port:        8927,
	}

	mgr := NewManager(config, zerolog.Nop())
	if mgr == nil {
		t.Fatal("expected manager to be created")
	}
	if mgr.config.Path != "/a2dp" {
		t.Errorf("expected default path /a2dp, got %s", mgr.config.Path)
	}
	txt := mgr.TXT()
	if len(txt) != 2 || txt[0] != "path=/a2dp" || txt[1] != "version="+version.Version {
		t.Errorf("expected path and version records, got %v", txt)
	}
	mgr.Stop()
}

func TestRadioFromEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *mdns.ServiceEntry
		wantHost string
		wantPath string
	}{
		{
			name: "ipv4 with path",
			entry: &mdns.ServiceEntry{
				Name:       "Bedside Radio._clockradio-a2dp._tcp.local.",
				AddrV4:     net.ParseIP("192.168.1.20"),
				Port:       8927,
				InfoFields: []string{"path=/stream"},
			},
			wantHost: "192.168.1.20",
			wantPath: "/stream",
		},
		{
			name: "host fallback and default path",
			entry: &mdns.ServiceEntry{
				Name: "Kitchen._clockradio-a2dp._tcp.local.",
				Host: "kitchen.local.",
				Port: 8927,
			},
			wantHost: "kitchen.local.",
			wantPath: "/a2dp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := radioFromEntry(tt.entry)
			if radio.Host != tt.wantHost {
				t.Errorf("expected host %s, got %s", tt.wantHost, radio.Host)
			}
			if radio.Path != tt.wantPath {
				t.Errorf("expected path %s, got %s", tt.wantPath, radio.Path)
			}
			if radio.Port != tt.entry.Port {
				t.Errorf("expected port %d, got %d", tt.entry.Port, radio.Port)
			}
		})
	}
}

func TestGetLocalIPsSkipsLoopback(t *testing.T) {
	ips, err := getLocalIPs()
	if err != nil {
		t.Skipf("no interfaces: %v", err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() {
			t.Errorf("unexpected loopback address %s", ip)
		}
	}
}

package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type rkflash event servers advertise
	ServiceType = "_rkflash._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// InstancePrefix starts every advertised instance name
	InstancePrefix = "rkflash"

	// DefaultEventsPath is the WebSocket path when the TXT record has none
	DefaultEventsPath = "/events"

	// DefaultBrowseTimeout is the default timeout for peer discovery
	DefaultBrowseTimeout = 5 * time.Second
)

// InstanceName returns the mDNS instance name for a device id ("1:14")
func InstanceName(deviceID string) string {
	if deviceID == "" {
		return InstancePrefix
	}
	return InstancePrefix + "-" + strings.ReplaceAll(deviceID, ":", "-")
}

// Browser finds rkflash event servers on the local network
type Browser struct {
	// Timeout is the maximum time to wait for advertisements
	Timeout time.Duration
}

// NewBrowser creates a browser with default settings
func NewBrowser() *Browser {
	return &Browser{
		Timeout: DefaultBrowseTimeout,
	}
}

// BrowsePeers collects every peer advertised within Timeout
func (b *Browser) BrowsePeers(ctx context.Context) ([]*Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	peers := make([]*Peer, 0)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			if peer := parseServiceEntry(entry); peer != nil {
				mu.Lock()
				peers = append(peers, peer)
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]*Peer(nil), peers...), nil
}

// FirstPeer returns the first peer that answers within Timeout
func (b *Browser) FirstPeer(ctx context.Context) (*Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Peer, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			if peer := parseServiceEntry(entry); peer != nil {
				found <- peer
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case peer := <-found:
		return peer, nil
	case <-ctx.Done():
		select {
		case peer := <-found:
			return peer, nil
		default:
		}
		return nil, fmt.Errorf("no rkflash event server found within %s", b.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Peer.
// Returns nil if the entry is not an rkflash instance or has no address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Peer {
	if !strings.HasPrefix(entry.Instance, InstancePrefix) {
		return nil
	}

	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port == 0 {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Peer{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// Package mdns finds NetSDR receivers advertised over DNS-SD.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// DefaultService is the DNS-SD service type browsed when none is given.
const DefaultService = "_netsdr._tcp"

// Host is one advertised receiver.
type Host struct {
	Instance  string // Advertised name: "NetSDR 1234"
	Hostname  string // DNS hostname: "netsdr.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Address returns a dialable host:port, preferring IPv4. It falls back to
// the hostname when no address was resolved.
func (h Host) Address() string {
	port := strconv.Itoa(h.Port)
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			return net.JoinHostPort(ip.String(), port)
		}
	}
	if len(h.Addresses) > 0 {
		return net.JoinHostPort(h.Addresses[0].String(), port)
	}
	return net.JoinHostPort(strings.TrimSuffix(h.Hostname, "."), port)
}

// Discover browses service (DefaultService when empty) in the local domain
// until ctx is done and returns the deduplicated hosts sorted by instance.
func Discover(ctx context.Context, service string) ([]Host, error) {
	if service == "" {
		service = DefaultService
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Host, 1)
	go func() { done <- collect(ctx, entries) }()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}
	return <-done, nil
}

// collect drains entries until the channel closes or ctx is done.
func collect(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) []Host {
	byKey := make(map[string]Host)
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return sortedHosts(byKey)
			}
			if e == nil {
				continue
			}
			addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			addrs = append(addrs, e.AddrIPv4...)
			addrs = append(addrs, e.AddrIPv6...)

			key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
			byKey[key] = Host{
				Instance:  cleanInstance(e.Instance),
				Hostname:  e.HostName,
				Addresses: addrs,
				Port:      e.Port,
				TXT:       append([]string{}, e.Text...),
			}
		case <-ctx.Done():
			return sortedHosts(byKey)
		}
	}
}

func sortedHosts(m map[string]Host) []Host {
	out := make([]Host, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}

// Package discovery announces relays on the local network and finds them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brutella/dnssd"
)

const (
	ServiceType   = "_huddle._tcp"
	DefaultDomain = "local"
)

// Relay is a relay server found on the local network.
type Relay struct {
	Name    string
	Host    string
	Addr    net.IP
	Port    int
	Version string
}

// Domain is the host:port form accepted by the --server flag.
func (r Relay) Domain() string {
	host := r.Host
	if r.Addr != nil {
		host = r.Addr.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(r.Port))
}

// Announce advertises a relay named name on port until ctx ends.
func Announce(ctx context.Context, name string, port int, version string) error {
	cfg := dnssd.Config{
		Name:   name,
		Type:   ServiceType,
		Domain: DefaultDomain,
		// the responder answers on every multicast interface
		IPs:  nil,
		Text: map[string]string{"version": version, "path": "/ws"},
		Port: port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}
	if _, err := rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	slog.Info("announcing relay on the local network", "name", name, "port", port)
	err = rp.Respond(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// resolveTimeout bounds the TXT lookups made for relays whose browse
// answer carried no version.
const resolveTimeout = time.Second

// lookupInstance is swapped out in tests.
var lookupInstance = dnssd.LookupInstance

type sighting struct {
	relay    Relay
	instance string
}

// Discover browses for relays until ctx ends and returns what it saw, sorted
// by name. Relays that said goodbye before then are left out.
func Discover(ctx context.Context) ([]Relay, error) {
	var (
		mu    sync.Mutex
		found = make(map[string]sighting)
	)

	add := func(e dnssd.BrowseEntry) {
		r, ok := relayFromEntry(e)
		if !ok {
			return
		}
		slog.Debug("found relay", "name", r.Name, "addr", r.Domain(), "iface", e.IfaceName)
		mu.Lock()
		found[entryKey(e)] = sighting{relay: r, instance: e.EscapedServiceInstanceName()}
		mu.Unlock()
	}
	remove := func(e dnssd.BrowseEntry) {
		mu.Lock()
		delete(found, entryKey(e))
		mu.Unlock()
	}

	err := dnssd.LookupType(ctx, ServiceType+"."+DefaultDomain+".", add, remove)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("mDNS lookup failed: %w", err)
	}

	mu.Lock()
	sightings := make([]sighting, 0, len(found))
	for _, s := range found {
		sightings = append(sightings, s)
	}
	mu.Unlock()

	// The first answer for an instance can come from the responder's announcement,
	// which has no TXT record.
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	defer cancel()
	resolveVersions(resolveCtx, sightings)

	relays := make([]Relay, 0, len(sightings))
	for _, s := range sightings {
		relays = append(relays, s.relay)
	}
	slices.SortFunc(relays, func(a, b Relay) int {
		return strings.Compare(a.Name, b.Name)
	})
	return relays, nil
}

func resolveVersions(ctx context.Context, sightings []sighting) {
	var wg sync.WaitGroup
	for i := range sightings {
		s := &sightings[i]
		if s.relay.Version != "" || s.instance == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv, err := lookupInstance(ctx, s.instance)
			if err != nil {
				slog.Debug("relay version unresolved", "name", s.relay.Name, "error", err)
				return
			}
			s.relay.Version = srv.Text["version"]
		}()
	}
	wg.Wait()
}

func entryKey(e dnssd.BrowseEntry) string {
	return fmt.Sprintf("%s:%s:%s", e.Name, e.Type, e.Domain)
}

// relayFromEntry prefers an IPv4 address, which every platform can dial.
func relayFromEntry(e dnssd.BrowseEntry) (Relay, bool) {
	if e.Port == 0 || (len(e.IPs) == 0 && e.Host == "") {
		return Relay{}, false
	}

	var addr net.IP
	for _, ip := range e.IPs {
		if ip.To4() != nil {
			addr = ip
			break
		}
	}
	if addr == nil && len(e.IPs) > 0 {
		addr = e.IPs[0]
	}

	return Relay{
		Name:    e.Name,
		Host:    e.Host,
		Addr:    addr,
		Port:    e.Port,
		Version: e.Text["version"],
	}, true
}

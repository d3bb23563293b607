// Package discovery advertises a running harness over mDNS and lets simulated
// devices find it.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	ServiceType = "_netstimtest._tcp"
	Domain      = "local."

	// MaxInstanceNameLen is the DNS-SD limit for an instance label.
	MaxInstanceNameLen = 63
)

// ErrNotFound is returned by Lookup when no harness answered in time.
var ErrNotFound = errors.New("no harness found")

// Config selects where and how services are advertised or browsed.
type Config struct {
	// Interface limits mDNS to one network interface. Empty means all.
	Interface string
	// TTL overrides the record TTL when positive.
	TTL time.Duration
}

func (c Config) interfaces() []net.Interface {
	if c.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(c.Interface)
	if err != nil {
		slog.Warn("unknown mDNS interface, using all", "interface", c.Interface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

// InstanceName returns the mDNS instance label for a harness run.
func InstanceName(runID string) string {
	name := "netstimtest-" + runID
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// Advertiser publishes the harness listening port.
type Advertiser struct {
	config Config
}

func NewAdvertiser(config Config) *Advertiser {
	return &Advertiser{config: config}
}

// Advertise registers the service and blocks until ctx is done, then
// withdraws it.
func (a *Advertiser) Advertise(ctx context.Context, port int, info Info) error {
	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		InstanceName(info.RunID),
		ServiceType,
		Domain,
		port,
		EncodeTXT(info),
		a.config.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register harness service: %w", err)
	}
	slog.Info("advertising harness", "service", ServiceType, "port", port)

	<-ctx.Done()
	server.Shutdown()
	return nil
}

// Service is a harness found on the network.
type Service struct {
	Instance string
	Addr     string
	Info     Info
}

// Lookup browses for a harness and returns the first one that has an IPv4
// address. It gives up with ErrNotFound after timeout, returns the browse
// error if browsing fails and ctx's error if ctx ends first.
func Lookup(ctx context.Context, config Config, timeout time.Duration) (Service, error) {
	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)

	var opts []zeroconf.ClientOption
	if ifaces := config.interfaces(); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	go func() {
		browseErr <- zeroconf.Browse(browseCtx, ServiceType, Domain, entries, removed, opts...)
	}()

	return awaitService(ctx, browseCtx, entries, removed, browseErr)
}

func awaitService(ctx, browseCtx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, browseErr <-chan error) (Service, error) {
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if svc, ok := toService(entry); ok {
				return svc, nil
			}
		case <-removed:
		case err := <-browseErr:
			if err != nil && browseCtx.Err() == nil {
				return Service{}, fmt.Errorf("browsing for %s: %w", ServiceType, err)
			}
			browseErr = nil
		case <-browseCtx.Done():
			if err := ctx.Err(); err != nil {
				return Service{}, err
			}
			return Service{}, ErrNotFound
		}
	}
}

func toService(entry *zeroconf.ServiceEntry) (Service, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return Service{}, false
	}
	return Service{
		Instance: entry.Instance,
		Addr:     net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(entry.Port)),
		Info:     DecodeTXT(entry.Text),
	}, true
}

package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

const (
	defaultDialTimeout         = 30 * time.Second //nolint:mnd
	defaultKeepAlive           = 30 * time.Second //nolint:mnd
	defaultTLSHandshakeTimeout = 10 * time.Second
	dnsRefreshInterval         = 5 * time.Minute
)

// resolver caches successful lookups across probes. Under retry the same host
// is resolved on every attempt, so a cache keeps a flapping DNS server from
// turning into a flood of queries. RefreshDNS keeps entries current.
var resolver = &dnscache.Resolver{} //nolint:gochecknoglobals

// RefreshDNS refreshes cached entries every interval until ctx is done.
// Entries that were not used since the previous refresh are dropped.
func RefreshDNS(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = dnsRefreshInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolver.Refresh(true)
		}
	}
}

// dialContext resolves the host through the cache and dials each address in
// turn until one connects.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAlive,
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ips, err := lookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	var errs []error

	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}

		errs = append(errs, err)
	}

	return nil, errors.Join(errs...)
}

// lookupHost resolves host through the cache. The cache keeps failed lookups
// until the next refresh, so a failure is re-checked against the upstream
// resolver: a host that did not resolve on one attempt may exist by the next.
func lookupHost(ctx context.Context, host string) ([]string, error) {
	ips, err := resolver.LookupHost(ctx, host)
	if err == nil {
		return ips, nil
	}

	// The cached lookup runs detached from ctx and may finish after it.
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	return upstream().LookupHost(ctx, host)
}

func upstream() dnscache.DNSResolver {
	if resolver.Resolver != nil {
		return resolver.Resolver
	}

	return net.DefaultResolver
}

// newTransport builds a transport that dials through the DNS cache and never
// reuses connections, so every check opens a fresh one.
func newTransport(insecure bool) *http.Transport {
	trans := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialContext,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
	}

	if insecure {
		trans.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via ?insecure=true
	}

	return trans
}

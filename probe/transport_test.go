package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/amp-labs/amp-retry/retry"
	"github.com/rs/dnscache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// lateDNS fails the first lookups and resolves every host to loopback after.
type lateDNS struct {
	failures int64
	lookups  atomic.Int64
}

func (d *lateDNS) LookupHost(_ context.Context, host string) ([]string, error) {
	if d.lookups.Inc() <= d.failures {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}

	return []string{"127.0.0.1"}, nil
}

func (d *lateDNS) LookupAddr(context.Context, string) ([]string, error) {
	return nil, nil
}

// useResolver swaps the shared cache for the duration of the test. Callers
// must not run in parallel.
func useResolver(t *testing.T, dns dnscache.DNSResolver) {
	t.Helper()

	prev := resolver
	resolver = &dnscache.Resolver{Resolver: dns}

	t.Cleanup(func() { resolver = prev })
}

func listen(t *testing.T) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}

			_ = conn.Close()
		}
	}()

	_, port, err := net.SplitHostPort(lis.Addr().String())
	require.NoError(t, err)

	return port
}

func TestDialContext_RetriesFailedLookup(t *testing.T) { //nolint:paralleltest
	dns := &lateDNS{failures: 2}
	useResolver(t, dns)

	tcp, err := NewTCP(net.JoinHostPort("db.late.internal", listen(t)))
	require.NoError(t, err)

	attempts := atomic.NewInt32(0)

	err = retry.Do(t.Context(), retry.Policy{MaxAttempts: 5}, func(ctx context.Context) error {
		attempts.Inc()

		return tcp.Check(ctx)
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), attempts.Load(), "the host resolves on the second attempt")
	assert.Equal(t, int64(3), dns.lookups.Load())
}

func TestDialContext_CachesSuccess(t *testing.T) { //nolint:paralleltest
	dns := &lateDNS{}
	useResolver(t, dns)

	tcp, err := NewTCP(net.JoinHostPort("db.cached.internal", listen(t)))
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, tcp.Check(t.Context()))
	}

	assert.Equal(t, int64(1), dns.lookups.Load())
}

func TestDialContext_CanceledLookupNotRepeated(t *testing.T) { //nolint:paralleltest
	dns := &lateDNS{failures: 100}
	useResolver(t, dns)

	ctx, cancel := context.WithTimeout(t.Context(), time.Minute)
	cancel()

	_, err := dialContext(ctx, "tcp", "db.canceled.internal:5432")
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, dns.lookups.Load(), int64(1))
}

func TestRefreshDNS_ReplacesCachedFailure(t *testing.T) { //nolint:paralleltest
	dns := &lateDNS{failures: 1}
	useResolver(t, dns)

	_, err := lookupHost(t.Context(), "db.refresh.internal")
	require.NoError(t, err, "a failed cached lookup falls through to upstream")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})

	go func() {
		defer close(done)

		RefreshDNS(ctx, time.Millisecond)
	}()

	// The refresh replaces the cached failure with the recovered address.
	require.Eventually(t, func() bool {
		ips, err := resolver.LookupHost(t.Context(), "db.refresh.internal")

		return err == nil && len(ips) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

package probe

import (
	"context"
	"net"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultNATSTimeout = 5 * time.Second

// NATS connects to the server at URL and flushes to confirm a round trip.
type NATS struct {
	URL string

	// Timeout bounds the connect handshake. The check also returns when ctx
	// is done, abandoning a connect that is still in progress.
	Timeout time.Duration
}

var _ Probe = (*NATS)(nil)

func (n *NATS) Kind() string {
	return "nats"
}

func (n *NATS) String() string {
	return redact(n.URL)
}

func (n *NATS) Check(ctx context.Context) error {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultNATSTimeout
	}

	type connected struct {
		conn *nats.Conn
		err  error
	}

	// nats.Connect does not take a context, so race it against ctx and close
	// a connection that arrives after the caller gave up.
	done := make(chan connected, 1)

	go func() {
		conn, err := nats.Connect(n.URL,
			nats.Name("retryprobe"),
			nats.Timeout(timeout),
			nats.NoReconnect(),
			nats.SetCustomDialer(natsDialer{}),
		)
		done <- connected{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return annotate(n, res.err)
		}

		defer res.conn.Close()

		// FlushWithContext refuses contexts without a deadline.
		flushCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return annotate(n, res.conn.FlushWithContext(flushCtx))
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()

		return annotate(n, context.Cause(ctx))
	}
}

// natsDialer routes NATS connections through the cached resolver.
type natsDialer struct{}

func (natsDialer) Dial(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	return dialContext(ctx, network, address)
}

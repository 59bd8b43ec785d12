package probe

import (
	"context"
	"fmt"
	"net"
)

// TCP succeeds once a connection to Addr is accepted.
type TCP struct {
	Addr string
}

var _ Probe = (*TCP)(nil)

// NewTCP validates addr as host:port.
func NewTCP(addr string) (*TCP, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" || port == "" {
		return nil, fmt.Errorf("%w: tcp target %q needs host:port", ErrInvalidTarget, addr)
	}

	return &TCP{Addr: addr}, nil
}

func (t *TCP) Kind() string {
	return "tcp"
}

func (t *TCP) String() string {
	return "tcp://" + t.Addr
}

func (t *TCP) Check(ctx context.Context) error {
	conn, err := dialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return annotate(t, err)
	}

	return conn.Close()
}

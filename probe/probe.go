// Package probe checks whether a dependency is reachable. Each probe performs
// one cancellation-aware check and is meant to run as a retry operation:
//
//	p, err := probe.Parse("postgres://app@db:5432/app")
//	if err != nil {
//	    return err
//	}
//
//	err = retry.Do(ctx, policy, p.Check, retry.WithName(p.String()))
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/amp-labs/amp-retry/logger"
)

var (
	ErrInvalidTarget      = errors.New("invalid probe target")
	ErrUnsupportedScheme  = errors.New("unsupported probe scheme")
	ErrUnexpectedStatus   = errors.New("unexpected HTTP status")
	ErrBucketMissing      = errors.New("bucket does not exist")
	ErrMissingCredentials = errors.New("missing object store credentials")
)

// Probe is a single reachability check.
type Probe interface {
	// Check returns nil when the dependency answered. It must return promptly
	// once ctx is done.
	Check(ctx context.Context) error

	// Kind names the protocol, e.g. "http" or "postgres".
	Kind() string

	// String is the target with credentials redacted, safe for logs.
	String() string
}

// Parse builds a probe from a target URL, choosing the probe by scheme:
//
//	http://, https://         HTTP GET, expecting a 2xx or 3xx status
//	tcp://host:port           TCP connect
//	postgres://, postgresql:// connect and ping
//	nats://, tls://           connect and flush
//	s3://host:port/bucket     bucket exists (or list buckets when no bucket is given)
func Parse(target string) (Probe, error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidTarget, target)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTP(u)
	case "tcp":
		return NewTCP(u.Host)
	case "postgres", "postgresql":
		return &Postgres{DSN: u.String()}, nil
	case "nats", "tls":
		return &NATS{URL: u.String()}, nil
	case "s3":
		return NewObjectStore(u)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// annotate attaches the probe identity to err for structured logging.
func annotate(p Probe, err error) error {
	return logger.AnnotateError(err, "probe", p.Kind(), "target", p.String())
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.Redacted()
}

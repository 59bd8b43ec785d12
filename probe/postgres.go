package probe

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const closeTimeout = time.Second

// Postgres connects with DSN and pings the server.
type Postgres struct {
	DSN string
}

var _ Probe = (*Postgres)(nil)

func (p *Postgres) Kind() string {
	return "postgres"
}

func (p *Postgres) String() string {
	return redact(p.DSN)
}

func (p *Postgres) Check(ctx context.Context) error {
	cfg, err := pgx.ParseConfig(p.DSN)
	if err != nil {
		return annotate(p, err)
	}

	cfg.DialFunc = dialContext

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return annotate(p, err)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()

		_ = conn.Close(closeCtx)
	}()

	return annotate(p, conn.Ping(ctx))
}

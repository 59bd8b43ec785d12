// Command retryprobe waits for network dependencies to become reachable.
//
//	retryprobe -attempts 10 -timeout 2s -deadline 1m -backoff exp:200ms:5s \
//	    postgres://app@db:5432/app nats://bus:4222 http://api:8080/healthz
//
// Each target is probed under its own retry run. The retry policy comes from
// -config, then RETRYPROBE_* environment variables, then flags, each layer
// overriding the one before.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/amp-labs/amp-retry/shutdown"
)

const (
	appName   = "retryprobe"
	envPrefix = "RETRYPROBE"

	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	stackBufLen = 4096
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, stackBufLen)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(exitUsage)
		}
	}()

	ctx := shutdown.SetupHandler(context.Background())

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

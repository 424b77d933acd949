package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ReqContext derives a context that is cancelled on SIGTERM, SIGINT or SIGHUP.
func ReqContext(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx, done := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 2)
	go func() {
		select {
		case <-sigChan:
			done()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	return ctx
}

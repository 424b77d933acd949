package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/hashicorp/go-multierror"
)

type StopFunc func(context.Context) error

type ShutdownHandler struct {
	Component string
	StopFunc  StopFunc
}

// MonitorShutdown runs every handler, in order, once a signal arrives or
// triggerCh closes. The returned channel closes when all handlers are done.
func MonitorShutdown(triggerCh <-chan struct{}, handlers ...ShutdownHandler) <-chan struct{} {
	sigCh := make(chan os.Signal, 2)
	out := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logs.GetLogger().Warnf("received shutdown, signal: %s", sig)
		case <-triggerCh:
			logs.GetLogger().Warn("received shutdown")
		}

		logs.GetLogger().Warn("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := StopAll(ctx, handlers...); err != nil {
			logs.GetLogger().Errorf("shutdown finished with errors: %+v", err)
		} else {
			logs.GetLogger().Warn("Graceful shutdown successful")
		}

		close(out)
	}()

	signal.Reset(syscall.SIGTERM, syscall.SIGINT)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	return out
}

// StopAll calls every handler even when some fail.
func StopAll(ctx context.Context, handlers ...ShutdownHandler) error {
	var result *multierror.Error
	for _, h := range handlers {
		if err := h.StopFunc(ctx); err != nil {
			logs.GetLogger().Errorf("shutting down %s failed: %s", h.Component, err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", h.Component, err))
			continue
		}
		logs.GetLogger().Infof("%s shut down successfully ", h.Component)
	}
	return result.ErrorOrNil()
}

// ServeHttp serves h on addr, over TLS when both certFile and keyFile are set.
func ServeHttp(h http.Handler, name string, addr string, certFile, keyFile string) (StopFunc, error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 60 * time.Second,
	}

	tls := certFile != "" && keyFile != ""
	if tls {
		if _, err := os.Stat(certFile); err != nil {
			return nil, fmt.Errorf("need to manually generate the wss authentication certificate, error: %w", err)
		}
	}

	go func() {
		var err error
		if tls {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.GetLogger().Fatalf("service: %s, listen: %s\n", name, err)
		}
	}()

	return srv.Shutdown, nil
}

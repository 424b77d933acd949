package util

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStopAll(t *testing.T) {
	var stopped []string
	stop := func(name string, err error) ShutdownHandler {
		return ShutdownHandler{Component: name, StopFunc: func(context.Context) error {
			stopped = append(stopped, name)
			return err
		}}
	}

	err := StopAll(context.Background(), stop("http", nil), stop("sweeper", errors.New("stuck")), stop("db", nil))
	require.ErrorContains(t, err, "sweeper: stuck")
	require.Equal(t, []string{"http", "sweeper", "db"}, stopped)

	require.NoError(t, StopAll(context.Background(), stop("db", nil)))
}

func TestMonitorShutdown(t *testing.T) {
	trigger := make(chan struct{})
	var called bool
	done := MonitorShutdown(trigger, ShutdownHandler{Component: "db", StopFunc: func(context.Context) error {
		called = true
		return nil
	}})
	close(trigger)
	<-done
	require.True(t, called)
}

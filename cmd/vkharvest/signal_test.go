//go:build unix

package main

import (
	"context"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopOnCancel_RestoresDefaultSignalHandling(t *testing.T) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGUSR1)
	defer stop()

	stopped := make(chan struct{})
	go stopOnCancel(ctx, func() {
		stop()
		close(stopped)
	})

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("signal handling was not released after the first signal")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

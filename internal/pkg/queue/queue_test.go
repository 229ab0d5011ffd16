package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_RunsAllJobsBeforeShutdownReturns(t *testing.T) {
	p := NewPool(quietLogger(), 3, 10, 0)
	p.Start(context.Background())

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(Job{Name: "count", Run: func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return nil
		}}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	assert.EqualValues(t, 10, done.Load())
	assert.EqualValues(t, 10, p.Stats().Succeeded)
	assert.ErrorIs(t, p.Submit(Job{Run: func(context.Context) error { return nil }}), ErrClosed)
}

func TestPool_CountsFailuresAndPanics(t *testing.T) {
	p := NewPool(quietLogger(), 1, 5, 0)
	p.Start(context.Background())

	require.NoError(t, p.Submit(Job{Name: "fail", Run: func(context.Context) error { return errors.New("smtp down") }}))
	require.NoError(t, p.Submit(Job{Name: "panic", Run: func(context.Context) error { panic("boom") }}))
	require.NoError(t, p.Submit(Job{Name: "ok", Run: func(context.Context) error { return nil }}))

	require.NoError(t, p.Shutdown(context.Background()))

	st := p.Stats()
	assert.EqualValues(t, 1, st.Failed)
	assert.EqualValues(t, 1, st.Panics)
	assert.EqualValues(t, 1, st.Succeeded, "worker survives a panic")
}

func TestPool_SubmitWhenFull(t *testing.T) {
	p := NewPool(quietLogger(), 1, 1, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	p.Start(context.Background())

	require.NoError(t, p.Submit(Job{Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.NoError(t, p.Submit(Job{Run: func(context.Context) error { return nil }}))
	assert.ErrorIs(t, p.Submit(Job{Run: func(context.Context) error { return nil }}), ErrFull)
	assert.EqualValues(t, 1, p.Stats().Dropped)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ShutdownTimeoutCancelsRunningJob(t *testing.T) {
	p := NewPool(quietLogger(), 1, 1, 0)
	p.Start(context.Background())

	var cancelled sync.WaitGroup
	cancelled.Add(1)
	started := make(chan struct{})
	require.NoError(t, p.Submit(Job{Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
	cancelled.Wait()
}

func TestPool_JobTimeout(t *testing.T) {
	p := NewPool(quietLogger(), 1, 1, 10*time.Millisecond)
	p.Start(context.Background())

	require.NoError(t, p.Submit(Job{Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.EqualValues(t, 1, p.Stats().Failed)
}

func TestPool_RejectsNilRun(t *testing.T) {
	p := NewPool(quietLogger(), 1, 1, 0)
	assert.Error(t, p.Submit(Job{Name: "empty"}))
}

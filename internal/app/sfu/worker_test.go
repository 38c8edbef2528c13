package sfu

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/domain"
)

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func TestWorkerStartsLazily(t *testing.T) {
	w := NewWorker(Config{})
	defer w.Close()
	assert.False(t, w.Started())

	r, err := w.CreateRouter(context.Background())
	require.NoError(t, err)
	assert.True(t, w.Started())
	assert.NotEmpty(t, r.ID())
	assert.Len(t, r.Capabilities().Codecs, len(DefaultCodecs()))

	r2, err := w.CreateRouter(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, r.ID(), r2.ID())
}

func TestWorkerCreateRouterCanceled(t *testing.T) {
	w := NewWorker(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.CreateRouter(ctx)
	require.ErrorIs(t, err, domain.ErrEngineFailure)
	assert.False(t, w.Started())
}

func TestWorkerDiesOnPanic(t *testing.T) {
	w := NewWorker(Config{})
	w.Go("boom", func() { panic("media thread crashed") })

	select {
	case <-w.Died():
	case <-time.After(time.Second):
		t.Fatal("worker did not die")
	}
	require.ErrorIs(t, w.Err(), domain.ErrFatal)

	_, err := w.CreateRouter(context.Background())
	require.ErrorIs(t, err, domain.ErrFatal)
	w.Close()
}

func TestRouterWithoutProducers(t *testing.T) {
	w := NewWorker(Config{})
	defer w.Close()
	r, err := w.CreateRouter(context.Background())
	require.NoError(t, err)

	assert.False(t, r.CanConsume("ghost", r.Capabilities()))

	r.Close()
	r.Close()
	_, err = r.CreateTransport(context.Background(), domain.DirectionSend)
	require.ErrorIs(t, err, domain.ErrEngineFailure)
}

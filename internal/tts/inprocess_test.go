package tts

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type modelFunc func(context.Context, string) ([]float32, int, error)

func (f modelFunc) Generate(ctx context.Context, text string) ([]float32, int, error) {
	return f(ctx, text)
}

func TestInProcessSynthesize(t *testing.T) {
	s := NewInProcess(modelFunc(func(_ context.Context, text string) ([]float32, int, error) {
		return make([]float32, len(text)), 22050, nil
	}))

	samples, rate, err := s.Synthesize(context.Background(), " olá ")
	require.NoError(t, err)
	assert.Len(t, samples, len("olá"))
	assert.Equal(t, 22050, rate)
}

func TestInProcessDeadline(t *testing.T) {
	var running atomic.Int32
	s := NewInProcess(modelFunc(func(ctx context.Context, text string) ([]float32, int, error) {
		running.Add(1)
		defer running.Add(-1)
		if text == "slow" {
			<-ctx.Done()
			return nil, 0, ctx.Err()
		}
		return []float32{1}, 16000, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := s.Synthesize(ctx, "slow")
	assert.True(t, IsReason(err, ReasonTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, running.Load(), "generation outlived the deadline")

	// the next request gets its own budget
	ctx2, cancel2 := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel2()
	samples, _, err := s.Synthesize(ctx2, "fast")
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestInProcessCancelledBeforeStart(t *testing.T) {
	called := false
	s := NewInProcess(modelFunc(func(context.Context, string) ([]float32, int, error) {
		called = true
		return []float32{1}, 16000, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Synthesize(ctx, "olá")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestInProcessErrors(t *testing.T) {
	s := NewInProcess(modelFunc(func(_ context.Context, text string) ([]float32, int, error) {
		if text == "boom" {
			return nil, 0, errors.New("voice not loaded")
		}
		return nil, 16000, nil
	}))

	_, _, err := s.Synthesize(context.Background(), "boom")
	assert.True(t, IsReason(err, ReasonProcess))

	_, _, err = s.Synthesize(context.Background(), "silent")
	assert.True(t, IsReason(err, ReasonEmpty))
}

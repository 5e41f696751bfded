package compare

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batikanor/geoproof/internal/common"
)

func TestSessionCancelsPreviousRun(t *testing.T) {
	started := make(chan struct{})
	s := NewSession(func(ctx context.Context, req string) (string, error) {
		if req == "slow" {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return req + "-done", nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "slow")
		errc <- err
	}()
	<-started

	res, err := s.Run(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast-done", res)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, common.ErrStale)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded run was not cancelled")
	}

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, "fast-done", latest)
}

func TestSessionStaleResultNeverReplacesLatest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := NewSession(func(ctx context.Context, req int) (int, error) {
		if req == 1 {
			close(started)
			<-release // ignores cancellation and finishes late
		}
		return req * 10, nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), 1)
		errc <- err
	}()
	<-started

	res, err := s.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 20, res)

	close(release)
	assert.ErrorIs(t, <-errc, common.ErrStale)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, 20, latest)
}

func TestSessionCancel(t *testing.T) {
	started := make(chan struct{})
	s := NewSession(func(ctx context.Context, _ struct{}) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), struct{}{})
		errc <- err
	}()
	<-started
	s.Cancel()

	assert.ErrorIs(t, <-errc, common.ErrStale)
	_, ok := s.Latest()
	assert.False(t, ok)
}

func TestSessionKeepsLatestOnError(t *testing.T) {
	s := NewSession(func(_ context.Context, req int) (int, error) {
		if req < 0 {
			return 0, common.ErrInvalidRequest
		}
		return req, nil
	})

	_, err := s.Run(context.Background(), 5)
	require.NoError(t, err)
	_, err = s.Run(context.Background(), -1)
	assert.ErrorIs(t, err, common.ErrInvalidRequest)

	latest, _ := s.Latest()
	assert.Equal(t, 5, latest)
}

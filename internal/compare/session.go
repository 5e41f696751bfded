package compare

import (
	"context"
	"fmt"
	"sync"

	"github.com/batikanor/geoproof/internal/common"
)

// Session serializes runs for one client. Starting a run cancels the one
// in flight; a run that was superseded returns ErrStale and never replaces
// the latest result.
type Session[Req, Res any] struct {
	run func(ctx context.Context, req Req) (Res, error)

	mu        sync.Mutex
	gen       uint64
	cancel    context.CancelFunc
	latest    Res
	hasLatest bool
}

// NewSession wraps run
func NewSession[Req, Res any](run func(ctx context.Context, req Req) (Res, error)) *Session[Req, Res] {
	return &Session[Req, Res]{run: run}
}

// Run starts a new generation and waits for it
func (s *Session[Req, Res]) Run(ctx context.Context, req Req) (Res, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	res, err := s.run(runCtx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	var zero Res
	if gen != s.gen {
		return zero, fmt.Errorf("%w: generation %d replaced by %d", common.ErrStale, gen, s.gen)
	}
	s.cancel = nil
	if err != nil {
		return zero, err
	}
	s.latest, s.hasLatest = res, true
	return res, nil
}

// Latest returns the result of the newest successful run
func (s *Session[Req, Res]) Latest() (Res, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLatest
}

// Cancel stops the run in flight, which then reports ErrStale
func (s *Session[Req, Res]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

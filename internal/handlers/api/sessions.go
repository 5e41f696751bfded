package api

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/batikanor/geoproof/internal/compare"
)

// SessionHeader names the client session whose comparisons supersede each other
const SessionHeader = "X-Session-ID"

type compareSession = compare.Session[compare.Request, compare.Result]

// sessions keeps one comparison session per client id. Evicted sessions
// have their run cancelled.
type sessions struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, *compareSession]
	new func() *compareSession
}

func newSessions(size int, ttl time.Duration, factory func() *compareSession) *sessions {
	if size <= 0 {
		size = 1024
	}
	onEvict := func(_ string, s *compareSession) { s.Cancel() }
	return &sessions{
		lru: expirable.NewLRU[string, *compareSession](size, onEvict, ttl),
		new: factory,
	}
}

// get returns the session for id, creating it on first use
func (s *sessions) get(id string) *compareSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.lru.Get(id); ok {
		return sess
	}
	sess := s.new()
	s.lru.Add(id, sess)
	return sess
}

// peek returns an existing session without creating one
func (s *sessions) peek(id string) (*compareSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Peek(id)
}

func (s *sessions) len() int {
	return s.lru.Len()
}

// Package devcapture keeps the most recent verification code per target in memory so local
// clients can complete verification without a mail or SMS provider. Enabled only by
// DEV_CODE_CAPTURE and refused in production by config.
package devcapture

import (
	"context"
	"sync"
	"time"

	"ams-control-plane/backend/internal/notify"
)

type entry struct {
	code      string
	kind      notify.Kind
	expiresAt time.Time
}

// Store is a notify.Notifier that records codes instead of delivering them.
type Store struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewStore returns an empty capture store.
func NewStore() *Store {
	return &Store{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

// WithClock makes s read time from nowF and returns s. Used by tests.
func (s *Store) WithClock(nowF func() time.Time) *Store {
	s.nowF = nowF
	return s
}

// Send records msg.Code for msg.Target, replacing any earlier code for that target.
func (s *Store) Send(ctx context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key(msg.Channel, msg.Target)] = entry{code: msg.Code, kind: msg.Kind, expiresAt: msg.ExpiresAt}
	return nil
}

// Get returns the last code captured for (channel, target) if it has not expired.
// Expired entries are dropped on read.
func (s *Store) Get(ctx context.Context, channel, target string) (code string, kind notify.Kind, ok bool) {
	k := key(channel, target)
	s.mu.RLock()
	e, ok := s.m[k]
	s.mu.RUnlock()
	if !ok {
		return "", "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, k)
		s.mu.Unlock()
		return "", "", false
	}
	return e.code, e.kind, true
}

func key(channel, target string) string { return channel + "|" + target }

package server

import (
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache"
)

const sweepEvery = 1024

// seenRequests remembers every signed request accepted while its timestamp
// could still pass the age check, so each one is honored once.
type seenRequests struct {
	mu    sync.Mutex
	cache cache.Cache
	ttl   time.Duration
	sets  int
}

func newSeenRequests(ttl time.Duration) *seenRequests {
	// a timestamp is accepted ttl either side of now
	window := 2 * ttl
	c, err := cache.NewCache(cache.TTL(window))
	if err != nil {
		// TTL is the only option and never fails
		panic(err)
	}
	return &seenRequests{cache: c, ttl: window}
}

// firstUse records key and reports whether it was unseen.
func (s *seenRequests) firstUse(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache.Get(key); ok {
		return false
	}
	s.cache.Set(key, struct{}{}, s.ttl)
	s.sets++
	if s.sets%sweepEvery == 0 {
		s.cache.DeleteExpired()
	}
	return true
}

package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// refreshSlots holds at most one in-flight refresh per key. Callers that
// arrive while a refresh is running share its outcome. The slot is released
// by singleflight as soon as the refresh function returns, whatever the
// outcome, so a failed refresh never blocks the next caller.
type refreshSlots struct {
	group singleflight.Group

	mu     sync.Mutex
	active map[string]struct{}
	writes map[string]*keyLock
}

// slotResult is what every caller of one flight receives. Source is "cache",
// "store" or "refresh".
type slotResult struct {
	Token  string
	Source string
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newRefreshSlots() *refreshSlots {
	return &refreshSlots{active: map[string]struct{}{}, writes: map[string]*keyLock{}}
}

// lockWrites serializes record writes for key across refreshes and direct
// stores. The returned func releases the lock.
func (s *refreshSlots) lockWrites(key string) func() {
	s.mu.Lock()
	entry, ok := s.writes[key]
	if !ok {
		entry = &keyLock{}
		s.writes[key] = entry
	}
	entry.refs++
	s.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		s.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.writes, key)
		}
		s.mu.Unlock()
	}
}

// do joins or starts the refresh for key. The refresh itself is not bound to
// ctx; a caller whose ctx ends stops waiting and gets ctx.Err() while the
// remaining waiters still receive the result.
func (s *refreshSlots) do(ctx context.Context, key string, fn func() (slotResult, error)) (slotResult, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		s.mark(key)
		defer s.release(key)
		return runRecovered(fn)
	})

	select {
	case <-ctx.Done():
		return slotResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return slotResult{}, res.Err
		}
		out, _ := res.Val.(slotResult)
		return out, nil
	}
}

func (s *refreshSlots) inFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[key]
	return ok
}

func (s *refreshSlots) mark(key string) {
	s.mu.Lock()
	s.active[key] = struct{}{}
	s.mu.Unlock()
}

func (s *refreshSlots) release(key string) {
	s.mu.Lock()
	delete(s.active, key)
	s.mu.Unlock()
}

func runRecovered(fn func() (slotResult, error)) (out slotResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = slotResult{}
			err = fmt.Errorf("core: refresh panicked: %v", r)
		}
	}()
	return fn()
}

package identity

import (
	"sync"

	"shaman/internal/domain"
)

// State is the observable current user of a client. Until the first Set it
// reports loading.
type State struct {
	mu       sync.Mutex
	user     *domain.User
	loaded   bool
	watchers map[int]func(*domain.User, bool)
	nextID   int
}

func NewState() *State {
	return &State{watchers: map[int]func(*domain.User, bool){}}
}

// Set replaces the current user (nil when signed out) and notifies watchers.
func (s *State) Set(u *domain.User) {
	s.mu.Lock()
	if u != nil {
		cp := *u
		u = &cp
	}
	s.user = u
	s.loaded = true
	fns := make([]func(*domain.User, bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(copyUser(u), false)
	}
}

func (s *State) Current() (*domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.user), !s.loaded
}

// Watch calls fn with the current value right away and after every Set.
func (s *State) Watch(fn func(user *domain.User, loading bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	user, loading := copyUser(s.user), !s.loaded
	s.mu.Unlock()
	fn(user, loading)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

func copyUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

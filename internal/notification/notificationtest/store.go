// Package notificationtest provides in-memory notification collaborators for tests.
package notificationtest

import (
	"context"
	"sort"
	"sync"

	"attendance-portal/internal/notification"
)

// Store is an in-memory notification.Store.
type Store struct {
	mu    sync.Mutex
	items map[string]notification.Notification

	// Err, when set, is returned by every call.
	Err error
	// FailCreate makes Create fail while everything else works.
	FailCreate error
}

func New(seed ...notification.Notification) *Store {
	s := &Store{items: make(map[string]notification.Notification)}
	for _, n := range seed {
		s.items[n.ID] = n
	}
	return s
}

// All returns every notification ordered by timestamp then id.
func (s *Store) All() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Notification, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// For returns the notifications addressed to userID.
func (s *Store) For(userID string) []notification.Notification {
	var out []notification.Notification
	for _, n := range s.All() {
		if n.ToUserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) Create(_ context.Context, n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.FailCreate != nil {
		return s.FailCreate
	}
	s.items[n.ID] = n
	return nil
}

func (s *Store) Get(_ context.Context, id string) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return notification.Notification{}, s.Err
	}
	n, ok := s.items[id]
	if !ok {
		return notification.Notification{}, notification.ErrNotFound
	}
	return n, nil
}

func (s *Store) ListForUser(_ context.Context, userID string) ([]notification.Notification, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	list := s.For(userID)
	// newest first, like the repository
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (s *Store) Transition(_ context.Context, id string, from []notification.Status, to notification.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	n, ok := s.items[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if n.Status == st {
			n.Status = to
			s.items[id] = n
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.items[id]; !ok {
		return notification.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) DeleteAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for id, item := range s.items {
		if item.ToUserID == userID {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUnread(_ context.Context, userID string) (int, error) {
	if err := s.err(); err != nil {
		return 0, err
	}
	n := 0
	for _, item := range s.For(userID) {
		if item.Status == notification.StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *Store) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// Counter is an in-memory notification.Counter.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

func (c *Counter) Get(_ context.Context, userID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[userID]
	return n, ok, nil
}

func (c *Counter) Set(_ context.Context, userID string, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID] = n
	return nil
}

func (c *Counter) Forget(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, userID)
	return nil
}

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
)

// MemoryStore keeps records in process. Each key has its own lock so
// transactions on different jobs do not contend.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*Record
	profiles map[string]*profile.WorkerProfile
	locks    sync.Map // key -> *sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*Record),
		profiles: make(map[string]*profile.WorkerProfile),
	}
}

func (s *MemoryStore) lock(key string) func() {
	m, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *MemoryStore) CreateJob(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := rec.Job.ID()
	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("job %s: %w", id, ErrExists)
	}
	s.jobs[id] = rec.Clone()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	unlock := s.lock("job:" + id)
	defer unlock()

	cur, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(cur); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.jobs[id] = cur.Clone()
	s.mu.Unlock()
	return cur, nil
}

func (s *MemoryStore) ListJobs(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) PutProfile(_ context.Context, p *profile.WorkerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return fmt.Errorf("profile %s: %w", p.ID, ErrExists)
	}
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, id string) (*profile.WorkerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, fn func(*profile.WorkerProfile) error) (*profile.WorkerProfile, error) {
	unlock := s.lock("profile:" + id)
	defer unlock()

	cur, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(cur); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.profiles[id] = cur.Clone()
	s.mu.Unlock()
	return cur, nil
}

func (s *MemoryStore) TakeProfile(ctx context.Context, id string, fn func(*profile.WorkerProfile) error) (*profile.WorkerProfile, error) {
	unlock := s.lock("profile:" + id)
	defer unlock()

	cur, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(cur); err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.profiles, id)
	s.mu.Unlock()
	return cur, nil
}

package job

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Store is the durable keyed storage of Job records.
type Store interface {
	Create(ctx context.Context, sourcePath string) (*Job, error)
	Update(ctx context.Context, id string, u Update) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, statuses ...Status) ([]*Job, error)
}

// NewID returns an opaque identifier for a new job.
func NewID() string {
	return shortuuid.New()
}

// MemoryStore keeps jobs in process memory. Records do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	clock func() time.Time
	idGen func() string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*Job),
		clock: time.Now,
		idGen: NewID,
	}
}

func (s *MemoryStore) Create(ctx context.Context, sourcePath string) (*Job, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return nil, ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	j := &Job{
		ID:         s.idGen(),
		SourcePath: sourcePath,
		Status:     StatusPending,
		Artifacts:  Artifacts{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return j.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, u Update) error {
	if id == "" {
		return ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	next := current.Clone()
	if err := Apply(next, u); err != nil {
		return err
	}
	next.UpdatedAt = s.clock().UTC()
	s.jobs[id] = next
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// List returns jobs ordered by creation time, optionally filtered by status.
func (s *MemoryStore) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if len(statuses) > 0 && !containsStatus(statuses, j.Status) {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func containsStatus(statuses []Status, s Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

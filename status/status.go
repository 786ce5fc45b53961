// Package status answers polling clients with the most recently persisted job record.
package status

import (
	"context"
	"fmt"
	"strings"

	"vidpipe/job"
)

// Reader is the read half of job.Store.
type Reader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, statuses ...job.Status) ([]*job.Job, error)
}

type Service struct {
	reader Reader
}

func NewService(r Reader) *Service {
	return &Service{reader: r}
}

// Get returns the job or job.ErrNotFound. It never returns a partial record on error.
func (s *Service) Get(ctx context.Context, id string) (*job.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty job id", job.ErrNotFound)
	}
	j, err := s.reader.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Service) List(ctx context.Context, statuses ...job.Status) ([]*job.Job, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", job.ErrInvalidArgument, st)
		}
	}
	return s.reader.List(ctx, statuses...)
}

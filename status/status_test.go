package status

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vidpipe/job"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	j, _ := args.Get(0).(*job.Job)
	return j, args.Error(1)
}

func (m *mockReader) List(ctx context.Context, statuses ...job.Status) ([]*job.Job, error) {
	args := m.Called(ctx, statuses)
	jobs, _ := args.Get(0).([]*job.Job)
	return jobs, args.Error(1)
}

func TestGetNotFoundNeverPartial(t *testing.T) {
	reader := new(mockReader)
	reader.On("Get", mock.Anything, "missing").Return(&job.Job{ID: "missing"}, job.ErrNotFound)

	j, err := NewService(reader).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.Nil(t, j)
	reader.AssertExpectations(t)
}

func TestGetEmptyIDIsNotFound(t *testing.T) {
	reader := new(mockReader)
	got, err := NewService(reader).Get(context.Background(), "  ")
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.Nil(t, got)
	reader.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestGetIsRepeatable(t *testing.T) {
	store := job.NewMemoryStore()
	ctx := context.Background()
	created, err := store.Create(ctx, "uploads/a.mp4")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, created.ID, job.SetStatus(job.StatusProcessing)))
	for _, stage := range job.Stages() {
		require.NoError(t, store.Update(ctx, created.ID, job.SetArtifact(stage, "outputs/"+created.ID+"-"+string(stage))))
	}
	require.NoError(t, store.Update(ctx, created.ID, job.SetStatus(job.StatusCompleted)))

	svc := NewService(store)
	first, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	second, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Artifacts, second.Artifacts)
	assert.Len(t, first.Artifacts, 4)

	// Callers cannot mutate the stored record through a returned copy.
	first.Artifacts[job.StageTranscode] = "tampered"
	third, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", third.Artifacts[job.StageTranscode])
}

func TestListValidatesStatuses(t *testing.T) {
	reader := new(mockReader)
	reader.On("List", mock.Anything, []job.Status{job.StatusError}).Return([]*job.Job{{ID: "a"}}, nil)
	svc := NewService(reader)

	jobs, err := svc.List(context.Background(), job.StatusError)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = svc.List(context.Background(), job.Status("done"))
	assert.ErrorIs(t, err, job.ErrInvalidArgument)

	reader.On("List", mock.Anything, []job.Status(nil)).Return(nil, errors.New("db down"))
	_, err = svc.List(context.Background())
	assert.EqualError(t, err, "db down")
}

package exports

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []*Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newTestService(t *testing.T) (*Service, *runnerFixture, *recordingQueue) {
	t.Helper()
	f := newRunnerFixture(t, newRowsProducer("contacts", []string{"a"}, fiveRows()))
	queue := &recordingQueue{}
	svc := NewService(f.store, f.registry, NewGuard(f.store, 0), queue, f.assets, f.logger)
	return svc, f, queue
}

func TestServiceRequest(t *testing.T) {
	ctx := context.Background()
	svc, f, queue := newTestService(t)

	first, err := svc.Request(ctx, Request{OrgID: "org-1", Kind: "contacts", CreatedBy: "user-1", Params: map[string]string{"group": "g"}})
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.Equal(t, StatusPending, first.Job.Status)
	assert.Equal(t, "g", first.Job.Params["group"])
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, first.Job.ID, queue.jobs[0].ID)

	stored, err := f.store.GetJob(ctx, first.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	second, err := svc.Request(ctx, Request{OrgID: "org-1", Kind: "contacts", CreatedBy: "user-2"})
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Job.ID, second.Job.ID)
	assert.Len(t, queue.jobs, 1, "a reused export is not enqueued again")

	other, err := svc.Request(ctx, Request{OrgID: "org-2", Kind: "contacts"})
	require.NoError(t, err)
	assert.False(t, other.Reused)
	assert.NotEqual(t, first.Job.ID, other.Job.ID)
}

func TestServiceRequestValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, queue := newTestService(t)

	_, err := svc.Request(ctx, Request{Kind: "contacts"})
	assert.Equal(t, ErrorTypeValidation, GetErrorType(err))

	_, err = svc.Request(ctx, Request{OrgID: "org-1", Kind: "flows"})
	assert.Equal(t, ErrorTypeValidation, GetErrorType(err))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Empty(t, queue.jobs)
}

func TestServiceRequestQueueFull(t *testing.T) {
	svc, _, queue := newTestService(t)
	queue.err = ErrQueueFull

	result, err := svc.Request(context.Background(), Request{OrgID: "org-1", Kind: "contacts"})
	assert.ErrorIs(t, err, ErrQueueFull)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Job.ID)
}

func TestServiceGet(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Get(ctx, "missing")
	assert.Equal(t, ErrorTypeNotFound, GetErrorType(err))
	assert.ErrorIs(t, err, ErrJobNotFound)

	result, err := svc.Request(ctx, Request{OrgID: "org-1", Kind: "contacts"})
	require.NoError(t, err)
	job, err := svc.Get(ctx, result.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Job.ID, job.ID)

	jobs, err := svc.List(ctx, JobFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Len(t, svc.Kinds(), 1)
}

func TestServiceDownload(t *testing.T) {
	ctx := context.Background()
	svc, f, _ := newTestService(t)

	result, err := svc.Request(ctx, Request{OrgID: "org-1", Kind: "contacts"})
	require.NoError(t, err)
	job := result.Job

	_, err = svc.DownloadURL(ctx, job)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = svc.Open(ctx, job)
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, f.runner(f.store, f.assets).Run(ctx, job))

	link, err := svc.DownloadURL(ctx, job)
	require.NoError(t, err)
	assert.NotEmpty(t, link)

	rc, err := svc.Open(ctx, job)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "PK", string(data[:2]), "xlsx files are zip archives")

	require.NoError(t, f.assets.Delete(ctx, AssetKey(job)))
	_, err = svc.DownloadURL(ctx, job)
	assert.Equal(t, ErrorTypeNotFound, GetErrorType(err))
}

func TestServiceWithoutGuard(t *testing.T) {
	f := newRunnerFixture(t, newRowsProducer("contacts", []string{"a"}, nil))
	queue := &recordingQueue{}
	svc := NewService(f.store, f.registry, nil, queue, f.assets, nil)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	for i := 0; i < 2; i++ {
		result, err := svc.Request(context.Background(), Request{OrgID: "org-1", Kind: "contacts"})
		require.NoError(t, err)
		assert.False(t, result.Reused)
	}
	assert.Len(t, queue.jobs, 2)
}

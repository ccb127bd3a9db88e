package exports

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the JobStore contract against any implementation
func runStoreSuite(t *testing.T, newStore func(t *testing.T) JobStore) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		job := NewJob(contactsKind, "org-1", "user-1", map[string]string{"group": "vip"}, base)
		require.NoError(t, store.CreateJob(ctx, job))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, "org-1", got.OrgID)
		assert.Equal(t, "contacts", got.Kind)
		assert.Equal(t, StatusPending, got.Status)
		assert.Equal(t, "contacts_export", got.AnalyticsKey)
		assert.Equal(t, "contacts_export", got.AssetType)
		assert.Equal(t, "user-1", got.CreatedBy)
		assert.True(t, base.Equal(got.CreatedOn))
		assert.Nil(t, got.StartedOn)
		assert.Equal(t, map[string]string{"group": "vip"}, got.Params)

		assert.Error(t, store.CreateJob(ctx, job), "duplicate ids are rejected")
	})

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("update", func(t *testing.T) {
		store := newStore(t)
		job := NewJob(contactsKind, "org-1", "", nil, base)
		require.NoError(t, store.CreateJob(ctx, job))

		require.NoError(t, job.Transition(StatusProcessing, base.Add(time.Second)))
		require.NoError(t, job.Transition(StatusComplete, base.Add(3*time.Second)))
		job.ElapsedSeconds = 2
		job.Extension = "xlsx"
		require.NoError(t, store.UpdateJob(ctx, job))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusComplete, got.Status)
		require.NotNil(t, got.StartedOn)
		require.NotNil(t, got.CompletedOn)
		assert.True(t, base.Add(time.Second).Equal(*got.StartedOn))
		assert.True(t, base.Add(3*time.Second).Equal(*got.CompletedOn))
		assert.Equal(t, 2.0, got.ElapsedSeconds)
		assert.Equal(t, "xlsx", got.Extension)

		missing := NewJob(contactsKind, "org-1", "", nil, base)
		assert.ErrorIs(t, store.UpdateJob(ctx, missing), ErrJobNotFound)
	})

	t.Run("transition", func(t *testing.T) {
		store := newStore(t)
		job := NewJob(contactsKind, "org-1", "", nil, base)
		require.NoError(t, store.CreateJob(ctx, job))
		stale := job.Clone()

		require.NoError(t, job.Transition(StatusProcessing, base.Add(time.Second)))
		require.NoError(t, store.TransitionJob(ctx, job, StatusPending))

		// a second runner holding the Pending copy loses
		require.NoError(t, stale.Transition(StatusProcessing, base.Add(2*time.Second)))
		assert.ErrorIs(t, store.TransitionJob(ctx, stale, StatusPending), ErrInvalidTransition)

		require.NoError(t, job.Transition(StatusComplete, base.Add(3*time.Second)))
		require.NoError(t, store.TransitionJob(ctx, job, StatusProcessing))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusComplete, got.Status)
		require.NotNil(t, got.StartedOn)
		assert.True(t, base.Add(time.Second).Equal(*got.StartedOn))

		missing := NewJob(contactsKind, "org-1", "", nil, base)
		assert.ErrorIs(t, store.TransitionJob(ctx, missing, StatusPending), ErrJobNotFound)
	})

	t.Run("list filters and order", func(t *testing.T) {
		store := newStore(t)
		mk := func(org, kind string, offset time.Duration, status Status) *Job {
			job := NewJob(KindInfo{Kind: kind}, org, "", nil, base.Add(offset))
			job.Status = status
			require.NoError(t, store.CreateJob(ctx, job))
			return job
		}
		old := mk("org-1", "contacts", -5*time.Hour, StatusPending)
		first := mk("org-1", "contacts", -2*time.Hour, StatusProcessing)
		second := mk("org-1", "contacts", -1*time.Hour, StatusPending)
		done := mk("org-1", "contacts", -30*time.Minute, StatusComplete)
		mk("org-2", "contacts", -1*time.Hour, StatusPending)
		results := mk("org-1", "results", -10*time.Minute, StatusPending)

		jobs, err := store.ListJobs(ctx, JobFilter{OrgID: "org-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{old.ID, first.ID, second.ID, done.ID, results.ID}, ids(jobs))

		jobs, err = store.ListJobs(ctx, JobFilter{OrgID: "org-1", Kind: "contacts", Statuses: UnfinishedStatuses})
		require.NoError(t, err)
		assert.Equal(t, []string{old.ID, first.ID, second.ID}, ids(jobs))

		jobs, err = store.ListJobs(ctx, JobFilter{
			OrgID:        "org-1",
			Statuses:     UnfinishedStatuses,
			CreatedAfter: base.Add(-4 * time.Hour),
			NewestFirst:  true,
			Limit:        2,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{results.ID, second.ID}, ids(jobs))

		jobs, err = store.ListJobs(ctx, JobFilter{Statuses: TerminalStatuses, CreatedBefore: base})
		require.NoError(t, err)
		assert.Equal(t, []string{done.ID}, ids(jobs))

		jobs, err = store.ListJobs(ctx, JobFilter{OrgID: "nobody"})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		job := NewJob(contactsKind, "org-1", "", nil, base)
		require.NoError(t, store.CreateJob(ctx, job))
		require.NoError(t, store.DeleteJob(ctx, job.ID))

		_, err := store.GetJob(ctx, job.ID)
		assert.ErrorIs(t, err, ErrJobNotFound)
		assert.ErrorIs(t, store.DeleteJob(ctx, job.ID), ErrJobNotFound)
	})
}

func ids(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestMemoryJobStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) JobStore { return NewMemoryJobStore() })
}

func TestMemoryJobStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()
	job := NewJob(contactsKind, "org-1", "", nil, time.Now())
	require.NoError(t, store.CreateJob(ctx, job))

	job.Status = StatusFailed
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status, "store keeps its own copy")

	got.Status = StatusComplete
	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)

	assert.Equal(t, map[Status]int{StatusPending: 1}, store.GetStats())
}

func newSQLiteStore(t *testing.T) JobStore {
	t.Helper()
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "exports.db")
	store, err := NewSQLiteJobStore(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteJobStore(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

func TestSQLiteJobStoreReopen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "exports.db")

	store, err := NewSQLiteJobStore(cfg, nil)
	require.NoError(t, err)
	job := NewJob(contactsKind, "org-1", "", nil, time.Now())
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteJobStore(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestPostgresJobStore(t *testing.T) {
	dsn := os.Getenv("EXPORT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EXPORT_TEST_POSTGRES_DSN not set")
	}

	runStoreSuite(t, func(t *testing.T) JobStore {
		ctx := context.Background()
		store, err := NewPostgresJobStore(ctx, PostgresConfig{URL: dsn, MaxConns: 2}, nil)
		require.NoError(t, err)
		_, err = store.pool.Exec(ctx, "TRUNCATE export_jobs")
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestBuildListQuery(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildListQuery(JobFilter{
		OrgID:        "org-1",
		Statuses:     UnfinishedStatuses,
		CreatedAfter: after,
		NewestFirst:  true,
		Limit:        1,
	}, func(n int) string { return "$" + string(rune('0'+n)) }, func(t time.Time) interface{} { return t })

	assert.Contains(t, query, "WHERE org_id = $1 AND status IN ($2, $3) AND created_on > $4")
	assert.Contains(t, query, "ORDER BY created_on DESC, id DESC LIMIT 1")
	assert.Equal(t, []interface{}{"org-1", "pending", "processing", after}, args)
}

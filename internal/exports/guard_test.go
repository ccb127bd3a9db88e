package exports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardFindRecentUnfinished(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryJobStore()
	guard := NewGuard(store, 0)
	guard.now = func() time.Time { return now }
	assert.Equal(t, DefaultRecencyWindow, guard.Window())

	create := func(org, kind string, age time.Duration, status Status) *Job {
		job := NewJob(KindInfo{Kind: kind}, org, "", nil, now.Add(-age))
		job.Status = status
		require.NoError(t, store.CreateJob(ctx, job))
		return job
	}

	found, err := guard.FindRecentUnfinished(ctx, "org-1", "contacts")
	require.NoError(t, err)
	assert.Nil(t, found, "nothing to reuse yet")

	create("org-1", "contacts", 5*time.Hour, StatusPending)     // outside the window
	create("org-1", "contacts", 10*time.Minute, StatusComplete) // finished
	create("org-2", "contacts", 5*time.Minute, StatusPending)   // other org
	create("org-1", "results", 2*time.Minute, StatusProcessing) // other kind
	pending := create("org-1", "contacts", time.Hour, StatusPending)

	t.Run("returns the unfinished job", func(t *testing.T) {
		first, err := guard.FindRecentUnfinished(ctx, "org-1", "contacts")
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, pending.ID, first.ID)

		second, err := guard.FindRecentUnfinished(ctx, "org-1", "contacts")
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, first.ID, second.ID, "repeated checks return the same job")
	})

	t.Run("prefers the most recent", func(t *testing.T) {
		newer := create("org-1", "contacts", 30*time.Minute, StatusProcessing)
		found, err := guard.FindRecentUnfinished(ctx, "org-1", "contacts")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, newer.ID, found.ID)
	})

	t.Run("any kind", func(t *testing.T) {
		found, err := guard.FindRecentUnfinished(ctx, "org-1", "")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "results", found.Kind)
	})

	t.Run("window boundary", func(t *testing.T) {
		narrow := NewGuard(store, 20*time.Minute)
		narrow.now = guard.now
		found, err := narrow.FindRecentUnfinished(ctx, "org-1", "contacts")
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestListUnfinished(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()
	now := time.Now()

	var want []string
	for i, status := range []Status{StatusPending, StatusComplete, StatusProcessing, StatusFailed} {
		job := NewJob(contactsKind, "org-1", "", nil, now.Add(time.Duration(i)*time.Second))
		job.Status = status
		require.NoError(t, store.CreateJob(ctx, job))
		if !status.IsTerminal() {
			want = append(want, job.ID)
		}
	}

	jobs, err := ListUnfinished(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, want, ids(jobs))
}

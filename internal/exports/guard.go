package exports

import (
	"context"
	"fmt"
	"time"
)

// DefaultRecencyWindow is how far back the guard looks for unfinished jobs
const DefaultRecencyWindow = 4 * time.Hour

// Guard finds an export that is already underway for an organization so
// that a new request can reuse it. The check is advisory: two requests
// racing between the check and the create may both start a job.
type Guard struct {
	store  JobStore
	window time.Duration
	now    func() time.Time
}

// NewGuard creates a guard over store. A non-positive window uses
// DefaultRecencyWindow.
func NewGuard(store JobStore, window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	return &Guard{store: store, window: window, now: time.Now}
}

// Window returns the recency window
func (g *Guard) Window() time.Duration { return g.window }

// FindRecentUnfinished returns the most recently created Pending or
// Processing job of the organization created within the window, or nil.
// An empty kind matches every kind.
func (g *Guard) FindRecentUnfinished(ctx context.Context, orgID, kind string) (*Job, error) {
	jobs, err := g.store.ListJobs(ctx, JobFilter{
		OrgID:        orgID,
		Kind:         kind,
		Statuses:     UnfinishedStatuses,
		CreatedAfter: g.now().Add(-g.window),
		NewestFirst:  true,
		Limit:        1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up unfinished exports: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// ListUnfinished returns every Pending or Processing job, oldest first
func ListUnfinished(ctx context.Context, store JobStore) ([]*Job, error) {
	jobs, err := store.ListJobs(ctx, JobFilter{Statuses: UnfinishedStatuses})
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished exports: %w", err)
	}
	return jobs, nil
}

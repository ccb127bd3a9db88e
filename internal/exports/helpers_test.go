package exports

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Benevox/rapidpro/internal/assets"
	"github.com/Benevox/rapidpro/internal/exporter"
)

// rowsProducer writes a fixed set of rows through a session table
type rowsProducer struct {
	info    KindInfo
	columns []string
	rows    [][]interface{}
	// failAt makes Produce fail after writing that many rows when >= 0
	failAt   int
	panicMsg string
	seen     *Session
}

func newRowsProducer(kind string, columns []string, rows [][]interface{}) *rowsProducer {
	return &rowsProducer{info: KindInfo{Kind: kind}, columns: columns, rows: rows, failAt: -1}
}

var errRowSource = errors.New("row source broke")

func (p *rowsProducer) Info() KindInfo { return p.info }

func (p *rowsProducer) Produce(_ context.Context, s *Session) (*exporter.Output, error) {
	p.seen = s
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	table, err := s.NewTable("Contacts", p.columns)
	if err != nil {
		return nil, err
	}
	for i, row := range p.rows {
		if i == p.failAt {
			return nil, errRowSource
		}
		if err := table.WriteRow(row); err != nil {
			return nil, err
		}
	}
	return table.Finalize()
}

// failingAssets fails every Save
type failingAssets struct{ assets.Store }

func (failingAssets) Save(context.Context, assets.Key, io.Reader) error {
	return errors.New("bucket unavailable")
}

// flakyStore fails TransitionJob into the statuses listed
type flakyStore struct {
	JobStore
	failOn map[Status]bool
}

func (s *flakyStore) TransitionJob(ctx context.Context, job *Job, from Status) error {
	if s.failOn[job.Status] {
		return errors.New("database is locked")
	}
	return s.JobStore.TransitionJob(ctx, job, from)
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []*Job
	err  error
}

func (n *recordingNotifier) ExportFinished(_ context.Context, job *Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
	return n.err
}

func (n *recordingNotifier) finished() []*Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Job(nil), n.jobs...)
}

type latencyCall struct {
	userID  string
	key     string
	seconds float64
}

type recordingTracker struct {
	mu    sync.Mutex
	calls []latencyCall
}

func (r *recordingTracker) TrackLatency(_ context.Context, userID, key string, seconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, latencyCall{userID, key, seconds})
	return nil
}

// stepClock advances by step each time it is read
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

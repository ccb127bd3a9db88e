package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Benevox/rapidpro/internal/config"
	"github.com/Benevox/rapidpro/internal/exports"
	"github.com/Benevox/rapidpro/internal/shared/testutil"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Storage.Driver = "memory"
	cfg.Retention.Enabled = false
	cfg.Telemetry.EnableTracing = false
	cfg.Telemetry.EnableMetrics = false
	cfg.Telemetry.MetricExporter = "none"
	cfg.Export.Workers = 1
	cfg.Export.StopTimeout = 5 * time.Second
	cfg.Export.TempDir = "tmp"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	a, err := New(context.Background(), cfg, t.TempDir(), logger)
	require.NoError(t, err)
	return a
}

type exportBody struct {
	ID          string         `json:"id"`
	Status      exports.Status `json:"status"`
	IsReady     bool           `json:"is_ready"`
	DownloadURL string         `json:"download_url"`
	Error       string         `json:"error"`
}

func requestExport(t *testing.T, baseURL, body string) exportBody {
	t.Helper()
	resp, err := http.Post(baseURL+"/api/exports", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out exportBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func waitFinished(t *testing.T, baseURL, id string) exportBody {
	t.Helper()
	var out exportBody
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/api/exports/" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		out = exportBody{}
		if json.NewDecoder(resp.Body).Decode(&out) != nil {
			return false
		}
		return out.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)
	return out
}

func downloadRows(t *testing.T, url, sheet string) [][]string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestApplicationCSVExport(t *testing.T) {
	cfg := testConfig()
	cfg.Export.RowCapacity = 2
	a := newTestApp(t, cfg)

	testutil.WriteCSVFixture(t, a.Paths.DataDir, "contacts.csv", []string{"Name", "Phone"}, [][]string{
		{"Ann", "+250788000001"},
		{"Bob", "=cmd()"},
		{"Cyd", "+250788000003"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(context.Background())

	server := httptest.NewServer(a.Router)
	defer server.Close()

	created := requestExport(t, server.URL, `{"org_id":"org-1","kind":"contacts","params":{"path":"contacts.csv"}}`)
	done := waitFinished(t, server.URL, created.ID)
	require.Equal(t, exports.StatusComplete, done.Status, done.Error)
	require.True(t, done.IsReady)

	first := downloadRows(t, server.URL+done.DownloadURL, "Contacts 1")
	assert.Equal(t, [][]string{{"Name", "Phone"}, {"Ann", "+250788000001"}, {"Bob", "'=cmd()"}}, first)
	second := downloadRows(t, server.URL+done.DownloadURL, "Contacts 2")
	assert.Equal(t, [][]string{{"Name", "Phone"}, {"Cyd", "+250788000003"}}, second)

	t.Run("asset served from the assets prefix", func(t *testing.T) {
		resp, err := http.Get(server.URL + AssetsPrefix + "/" + exports.AssetKey(mustGet(t, a, created.ID)).Path())
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing source file fails the export", func(t *testing.T) {
		created := requestExport(t, server.URL, `{"org_id":"org-2","kind":"contacts","params":{"path":"missing.csv"}}`)
		done := waitFinished(t, server.URL, created.ID)
		assert.Equal(t, exports.StatusFailed, done.Status)
		assert.False(t, done.IsReady)
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/health/ready")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func mustGet(t *testing.T, a *Application, id string) *exports.Job {
	t.Helper()
	job, err := a.Store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestApplicationRecoversUnfinishedJobs(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = "exports.db"
	cfg.Export.Kinds = []config.KindConfig{{
		Kind:  "jobs",
		Table: "Jobs",
		Query: "SELECT id, kind, status FROM export_jobs WHERE org_id = ? ORDER BY created_on",
	}}
	a := newTestApp(t, cfg)

	ctx := context.Background()
	now := time.Now()
	interrupted := exports.NewJob(exports.KindInfo{Kind: "jobs"}, "org-1", "", nil, now.Add(-time.Minute))
	require.NoError(t, interrupted.Transition(exports.StatusProcessing, now.Add(-time.Minute)))
	require.NoError(t, a.Store.CreateJob(ctx, interrupted))
	pending := exports.NewJob(exports.KindInfo{Kind: "jobs"}, "org-1", "", nil, now)
	require.NoError(t, a.Store.CreateJob(ctx, pending))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, a.Start(runCtx))
	defer a.Stop(context.Background())

	require.Eventually(t, func() bool {
		return mustGet(t, a, pending.ID).Status == exports.StatusComplete
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, exports.StatusFailed, mustGet(t, a, interrupted.ID).Status)

	rc, err := a.Service.Open(ctx, mustGet(t, a, pending.ID))
	require.NoError(t, err)
	defer rc.Close()
	f, err := excelize.OpenReader(rc)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Jobs 1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "kind", "status"}, rows[0])
	assert.Equal(t, interrupted.ID, rows[1][0])
}

func TestApplicationRun(t *testing.T) {
	cfg := testConfig()
	cfg.Retention.Enabled = true
	cfg.Retention.Schedule = "@daily"
	cfg.Retention.MaxAge = time.Hour

	// reserve a free port for the server
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Server.Port = l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	a := newTestApp(t, cfg)
	require.NotNil(t, a.Retention)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health/live", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, a.Retention.IsRunning())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("application did not stop")
	}
	assert.False(t, a.Retention.IsRunning())
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"bad timezone", func(c *config.Config) { c.Export.DefaultTimezone = "Mars/Olympus" }, "timezone"},
		{"query kind without sql store", func(c *config.Config) {
			c.Export.Kinds = []config.KindConfig{{Kind: "flows", Table: "Flows", Query: "SELECT 1"}}
		}, "not a SQL database"},
		{"unknown driver", func(c *config.Config) { c.Storage.Driver = "mongo" }, "unknown storage driver"},
		{"unknown assets provider", func(c *config.Config) { c.Assets.Provider = "ftp" }, "unknown assets provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			logger, _ := testutil.NewTestLogger(t)
			_, err := New(context.Background(), cfg, t.TempDir(), logger)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildRegistry(t *testing.T) {
	registry, err := BuildRegistry(config.Default().Export.Kinds, t.TempDir(), nil, nil)
	require.NoError(t, err)
	assert.True(t, registry.Has("contacts"))
	assert.True(t, registry.Has("messages"))

	kinds := registry.Kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, "contact_export", kinds[0].AnalyticsKey)

	_, err = BuildRegistry([]config.KindConfig{
		{Kind: "a", Table: "A"},
		{Kind: "a", Table: "B"},
	}, t.TempDir(), nil, nil)
	assert.Error(t, err)
}

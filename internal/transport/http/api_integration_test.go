package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Benevox/rapidpro/internal/assets"
	"github.com/Benevox/rapidpro/internal/exports"
	"github.com/Benevox/rapidpro/internal/exports/sources"
	"github.com/Benevox/rapidpro/internal/shared/testutil"
)

// TestExportLifecycle requests an export over HTTP, waits for the queue
// to finish it and downloads the workbook
func TestExportLifecycle(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	dir := t.TempDir()

	store := exports.NewMemoryJobStore()
	assetStore, err := assets.NewFileStore(dir, "/assets", logger)
	require.NoError(t, err)

	registry := exports.NewRegistry()
	require.NoError(t, registry.Register(sources.NewTableProducer(
		exports.KindInfo{Kind: "contacts", AnalyticsKey: "contact_export"},
		"Contacts",
		func(context.Context, *exports.Session) (sources.RowSource, error) {
			return sources.NewSliceSource([]string{"Name", "Age"}, [][]interface{}{{"Ann", 31}, {"Bob", 42}}), nil
		},
	)))

	runner := exports.NewRunner(store, registry, assetStore,
		exports.WithLogger(logger),
		exports.WithLimits(exports.Limits{TempDir: t.TempDir()}))
	queue := exports.NewJobQueue(1, 10, runner, store, logger)
	require.NoError(t, queue.Start(context.Background()))
	t.Cleanup(func() { queue.Stop(5 * time.Second) })

	service := exports.NewService(store, registry, exports.NewGuard(store, time.Hour), queue, assetStore, logger)
	server := httptest.NewServer(NewRouter(RouterConfig{
		Exports:      NewExportsHandler(service, nil, nil, logger),
		Logger:       logger,
		AssetsDir:    dir,
		AssetsPrefix: "/assets",
	}))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/exports", "application/json",
		bytes.NewBufferString(`{"org_id":"org-1","kind":"contacts"}`))
	require.NoError(t, err)
	var first ExportResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var job ExportResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(server.URL + "/api/exports/" + first.ID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		job = ExportResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return false
		}
		return job.Job != nil && job.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, exports.StatusComplete, job.Status, job.Error)
	assert.True(t, job.IsReady)

	resp, err = http.Get(server.URL + job.DownloadURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Contacts 1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Name", "Age"}, {"Ann", "31"}, {"Bob", "42"}}, rows)

	// the static asset route serves the same file
	assetResp, err := http.Get(server.URL + "/assets/contacts_export/" + job.ID + ".xlsx")
	require.NoError(t, err)
	assetResp.Body.Close()
	assert.Equal(t, http.StatusOK, assetResp.StatusCode)

	listing, err := http.Get(server.URL + "/assets/contacts_export/")
	require.NoError(t, err)
	listing.Body.Close()
	assert.Equal(t, http.StatusNotFound, listing.StatusCode)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ragharvest/internal/frontier"
)

type fakeStats struct {
	counts frontier.Counts
	err    error
}

func (f fakeStats) Stats(_ context.Context) (frontier.Counts, error) {
	return f.counts, f.err
}

type fakeProgress struct{ pages int }

func (f fakeProgress) PagesProcessed() int { return f.pages }

func newTestServer(stats fakeStats, progress ProgressSource) *httptest.Server {
	return httptest.NewServer(NewServer(stats, progress, "run-42", zap.NewNop()).Handler())
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := newTestServer(fakeStats{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestReadyzReflectsStoreHealth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(fakeStats{err: errors.New("connection refused")}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusReportsFrontierCounts(t *testing.T) {
	t.Parallel()
	srv := newTestServer(fakeStats{counts: frontier.Counts{
		Pending:    4,
		InProgress: 1,
		Deferred:   2,
		Done:       10,
		Failed:     3,
	}}, fakeProgress{pages: 11})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "run-42", body.RunID)
	assert.Equal(t, 11, body.PagesProcessed)
	assert.Equal(t, 4, body.Frontier.Pending)
	assert.Equal(t, 20, body.Frontier.Total)
}

func TestMetricsEndpointServes(t *testing.T) {
	t.Parallel()
	srv := newTestServer(fakeStats{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

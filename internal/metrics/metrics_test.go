package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	// Collectors are nil until Init; every helper must tolerate that.
	SetFrontierCounts(1, 2, 3, 4, 5)
	ObserveEnqueue("added")
	ObserveDequeue("example.com")
	ObserveCompletion("success")
	ObservePageFetched(200)
	ObserveChunks([]int{100, 200})
	ObservePolitenessWait(time.Second)
	IncActiveWorkers()
	DecActiveWorkers()
}

func TestInitAndHandler(t *testing.T) {
	Init()
	Init() // idempotent

	ObserveEnqueue("added")
	ObservePageFetched(200)
	ObserveChunks([]int{150})

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

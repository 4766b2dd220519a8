package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ragharvest/internal/crawl"
	"github.com/JakeFAU/ragharvest/internal/frontier"
)

var entryCols = []string{
	"normalized_url", "fingerprint", "domain", "priority", "depth", "state",
	"attempt_count", "eligible_at", "discovered_at", "last_attempt_at", "parent_url",
}

func testEntry(now time.Time) crawl.Entry {
	return crawl.Entry{
		NormalizedURL: "https://example.com/agenda",
		Domain:        "example.com",
		Priority:      10,
		Depth:         1,
		State:         crawl.StatePending,
		EligibleAt:    now,
		DiscoveredAt:  now,
		ParentURL:     "https://example.com",
	}
}

func TestInsert(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	e := testEntry(now)

	mock.ExpectExec("INSERT INTO frontier_entries").
		WithArgs(e.NormalizedURL, e.Fingerprint, e.Domain, e.Priority, e.Depth,
			string(e.State), e.AttemptCount, e.EligibleAt, e.DiscoveredAt, e.ParentURL).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewWithPool(mock)
	require.NoError(t, store.Insert(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMapsUniqueViolationToDuplicate(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	e := testEntry(now)

	mock.ExpectExec("INSERT INTO frontier_entries").
		WithArgs(e.NormalizedURL, e.Fingerprint, e.Domain, e.Priority, e.Depth,
			string(e.State), e.AttemptCount, e.EligibleAt, e.DiscoveredAt, e.ParentURL).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	store := NewWithPool(mock)
	err = store.Insert(context.Background(), e)
	assert.ErrorIs(t, err, frontier.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	e := testEntry(now)

	mock.ExpectQuery("SELECT normalized_url, fingerprint").
		WithArgs(e.NormalizedURL).
		WillReturnRows(pgxmock.NewRows(entryCols).AddRow(
			e.NormalizedURL, e.Fingerprint, e.Domain, e.Priority, e.Depth,
			string(e.State), e.AttemptCount, e.EligibleAt, e.DiscoveredAt,
			time.Time{}, e.ParentURL,
		))

	store := NewWithPool(mock)
	got, err := store.Get(context.Background(), e.NormalizedURL)
	require.NoError(t, err)
	assert.Equal(t, e.NormalizedURL, got.NormalizedURL)
	assert.Equal(t, crawl.StatePending, got.State)
	assert.Equal(t, 10, got.Priority)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT normalized_url, fingerprint").
		WithArgs("https://example.com/missing").
		WillReturnError(pgx.ErrNoRows)

	store := NewWithPool(mock)
	_, err = store.Get(context.Background(), "https://example.com/missing")
	assert.ErrorIs(t, err, frontier.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRaisePriority(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE frontier_entries").
		WithArgs("https://example.com/agenda", 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewWithPool(mock)
	require.NoError(t, store.RaisePriority(context.Background(), "https://example.com/agenda", 20))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextReturnsClaimedEntry(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	e := testEntry(now)

	mock.ExpectQuery("UPDATE frontier_entries").
		WithArgs(now, []string{"slow.example.com"}).
		WillReturnRows(pgxmock.NewRows(entryCols).AddRow(
			e.NormalizedURL, e.Fingerprint, e.Domain, e.Priority, e.Depth,
			string(crawl.StateInProgress), 1, e.EligibleAt, e.DiscoveredAt,
			now, e.ParentURL,
		))

	store := NewWithPool(mock)
	got, ok, err := store.ClaimNext(context.Background(), now, []string{"slow.example.com"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, crawl.StateInProgress, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextEmptyQueue(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()

	// nil blocklist is normalized to an empty array parameter.
	mock.ExpectQuery("UPDATE frontier_entries").
		WithArgs(now, []string{}).
		WillReturnError(pgx.ErrNoRows)

	store := NewWithPool(mock)
	_, ok, err := store.ClaimNext(context.Background(), now, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDone(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE frontier_entries").
		WithArgs("https://example.com/agenda", "deadbeef").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewWithPool(mock)
	require.NoError(t, store.MarkDone(context.Background(), "https://example.com/agenda", "deadbeef"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDoneUnknownURL(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE frontier_entries").
		WithArgs("https://example.com/missing", "fp").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewWithPool(mock)
	err = store.MarkDone(context.Background(), "https://example.com/missing", "fp")
	assert.ErrorIs(t, err, frontier.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeferAndMarkFailed(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	eligibleAt := time.Unix(1700000000, 0).UTC().Add(time.Minute)

	mock.ExpectExec("UPDATE frontier_entries").
		WithArgs("https://example.com/a", eligibleAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE frontier_entries").
		WithArgs("https://example.com/b", "terminal failure").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewWithPool(mock)
	require.NoError(t, store.Defer(context.Background(), "https://example.com/a", eligibleAt))
	require.NoError(t, store.MarkFailed(context.Background(), "https://example.com/b", "terminal failure"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStale(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("WITH released AS").
		WithArgs(cutoff, 3).
		WillReturnRows(pgxmock.NewRows([]string{"requeued", "failed"}).AddRow(2, 1))

	store := NewWithPool(mock)
	requeued, failed, err := store.ReleaseStale(context.Background(), cutoff, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)
	assert.Equal(t, 1, failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextEligibleAt(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Unix(1700000000, 0).UTC().Add(30 * time.Second)
	mock.ExpectQuery("SELECT MIN").
		WillReturnRows(pgxmock.NewRows([]string{"min"}).AddRow(&at))

	store := NewWithPool(mock)
	got, ok, err := store.NextEligibleAt(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextEligibleAtEmpty(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT MIN").
		WillReturnRows(pgxmock.NewRows([]string{"min"}).AddRow((*time.Time)(nil)))

	store := NewWithPool(mock)
	_, ok, err := store.NextEligibleAt(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounts(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT").
		WillReturnRows(pgxmock.NewRows(
			[]string{"pending", "in_progress", "deferred", "done", "failed"},
		).AddRow(4, 2, 1, 10, 3))

	store := NewWithPool(mock)
	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frontier.Counts{Pending: 4, InProgress: 2, Deferred: 1, Done: 10, Failed: 3}, counts)
	assert.Equal(t, 20, counts.Total())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReset(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("TRUNCATE frontier_entries").
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))

	store := NewWithPool(mock)
	require.NoError(t, store.Reset(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

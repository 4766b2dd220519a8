package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ragharvest/internal/crawl"
)

func testRecords() []crawl.ChunkRecord {
	return []crawl.ChunkRecord{
		{
			ChunkID:       "c1",
			SourceID:      "https://example.com/agenda",
			SequenceIndex: 0,
			Text:          "First chunk text.",
			TokenCount:    3,
			HeadingPath:   []string{"Agenda"},
		},
		{
			ChunkID:           "c2",
			SourceID:          "https://example.com/agenda",
			SequenceIndex:     1,
			Text:              "text. Second chunk.",
			TokenCount:        3,
			HeadingPath:       []string{"Agenda"},
			OverlapTokenCount: 1,
			Metadata:          map[string]string{"title": "Agenda"},
		},
	}
}

func TestStoreChunks(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	records := testRecords()
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs("c1", records[0].SourceID, 0, records[0].Text, 3,
			records[0].HeadingPath, 0, []byte("null")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs("c2", records[1].SourceID, 1, records[1].Text, 3,
			records[1].HeadingPath, 1, []byte(`{"title":"Agenda"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewWithPool(mock)
	require.NoError(t, store.StoreChunks(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreChunksIdempotentOnConflict(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	records := testRecords()[:1]
	// A replayed batch hits ON CONFLICT DO NOTHING: zero rows, no error.
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs("c1", records[0].SourceID, 0, records[0].Text, 3,
			records[0].HeadingPath, 0, []byte("null")).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	store := NewWithPool(mock)
	require.NoError(t, store.StoreChunks(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountBySource(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("https://example.com/agenda").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	store := NewWithPool(mock)
	n, err := store.CountBySource(context.Background(), "https://example.com/agenda")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

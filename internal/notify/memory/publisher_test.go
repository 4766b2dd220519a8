package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ragharvest/internal/notify"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "documents", notify.DocumentProcessed{
		RunID:      "run-1",
		SourceURL:  "https://example.com/agenda",
		ChunkCount: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "documents", msgs[0].Topic)
	assert.Equal(t, "other", msgs[1].Topic)

	// Messages returns a copy.
	msgs[0].Topic = "modified"
	assert.Equal(t, "documents", pub.Messages()[0].Topic)
}

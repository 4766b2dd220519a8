package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/ragharvest/internal/crawl"
)

func TestHeuristicDetector(t *testing.T) {
	t.Parallel()
	d := NewHeuristicDetector(Config{
		MinHTMLBytes: 10,
		Selectors:    []string{"#content"},
		Keywords:     []string{"enable javascript"},
	})
	ctx := context.Background()

	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "small body triggers", body: "hi", want: true},
		{name: "keyword triggers", body: "<html>Please ENABLE JavaScript to view</html>", want: true},
		{name: "missing selector triggers", body: `<html><body><div id="other">enough bytes here</div></body></html>`, want: true},
		{name: "all conditions satisfied", body: `<div id="content">rendered fine</div> and enough bytes`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.NeedsJS(ctx, crawl.Page{Body: []byte(tt.body)})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeuristicDetectorNoSignalsConfigured(t *testing.T) {
	t.Parallel()
	d := NewHeuristicDetector(Config{})
	assert.False(t, d.NeedsJS(context.Background(), crawl.Page{Body: []byte("<html>tiny</html>")}))
}

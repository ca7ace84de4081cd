package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabelsBoundedConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak int64
	var peakMu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		current := atomic.AddInt64(&inFlight, 1)
		peakMu.Lock()
		if current > peak {
			peak = current
		}
		peakMu.Unlock()
		defer atomic.AddInt64(&inFlight, -1)

		name := strings.TrimPrefix(request.URL.Path, "/app/")
		if name == "com.missing.app" {
			http.NotFound(writer, request)
			return
		}
		_, _ = writer.Write([]byte(`{"label":"Label of ` + name + `"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/app/", WithConcurrency(2), WithRequestDelay(0))
	labels := client.Labels(context.Background(), []string{
		"com.android.chrome", "com.vendor.weather", "com.missing.app", "com.example.game",
	})

	assert.Len(t, labels, 3)
	assert.Equal(t, "Label of com.android.chrome", labels["com.android.chrome"])
	assert.NotContains(t, labels, "com.missing.app")

	peakMu.Lock()
	observedPeak := peak
	peakMu.Unlock()
	assert.LessOrEqual(t, observedPeak, int64(2), "lookups must respect the concurrency cap")
}

func TestLabelsIgnoresBadPayloads(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/app/", WithRequestDelay(0))
	labels := client.Labels(context.Background(), []string{"com.x.y"})
	assert.Empty(t, labels)
}

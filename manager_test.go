package crawler_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
	"github.com/Rabenherz112/map-the-net-crawler/helpers"
)

func memFactory(store *helpers.MemStore) crawler.StoreFactory {
	return func() (crawler.QueueStore, crawler.DomainStore, io.Closer, error) {
		return store, store, store, nil
	}
}

func mappedFetcher(responses map[string]*http.Response) *crawler.Fetcher {
	f := crawler.NewFetcher()
	f.Transport = &helpers.MapRoundTrip{Responses: responses}
	return f
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	helpers.LoadTestConfig("test-crawler.yaml")
	crawler.Config.Crawler.Workers = 1

	store := helpers.NewMemStore()
	urls := []string{"http://a1.com", "http://a2.com", "http://a3.com"}
	responses := make(map[string]*http.Response)
	var items []crawler.QueueItem
	for _, u := range urls {
		responses[u] = helpers.Response200(helpers.Page("Site " + u))
		items = append(items, crawler.QueueItem{URL: u, DomainName: u[len("http://"):], Priority: 1})
	}
	_, err := store.Enqueue(context.Background(), items)
	require.NoError(t, err)

	mgr := &crawler.WorkerManager{
		Factory: memFactory(store),
		Fetcher: mappedFetcher(responses),
	}
	require.NoError(t, mgr.Run(context.Background()))

	assert.Equal(t, int64(3), mgr.Processed())
	for _, u := range urls {
		entry := store.EntryByURL(u)
		require.NotNil(t, entry)
		assert.Equal(t, crawler.StatusCompleted, entry.Status, u)
	}
	assert.Equal(t, 0, mgr.Busy())
}

func TestRunSweepsStuckLeasesAtStartup(t *testing.T) {
	helpers.LoadTestConfig("test-crawler.yaml")
	crawler.Config.Crawler.Workers = 1

	store := helpers.NewMemStore()
	_, err := store.Enqueue(context.Background(), []crawler.QueueItem{
		{URL: "http://a.com", DomainName: "a.com", Priority: 1},
	})
	require.NoError(t, err)

	// Simulate a crashed agent: the entry is leased and its lease is older
	// than the stuck threshold.
	leased, err := store.LeaseBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	stale := time.Now().Add(-time.Hour)
	store.Queue[leased[0].ID].ProcessedAt = &stale

	mgr := &crawler.WorkerManager{
		Factory: memFactory(store),
		Fetcher: mappedFetcher(map[string]*http.Response{
			"http://a.com": helpers.Response200(helpers.Page("A")),
		}),
	}
	require.NoError(t, mgr.Run(context.Background()))

	entry := store.EntryByURL("http://a.com")
	require.NotNil(t, entry)
	assert.Equal(t, crawler.StatusCompleted, entry.Status)
	assert.Equal(t, int64(1), mgr.Processed())
}

func TestRunStopsAtMaxItems(t *testing.T) {
	helpers.LoadTestConfig("test-crawler.yaml")
	crawler.Config.Crawler.Workers = 1

	store := helpers.NewMemStore()
	responses := make(map[string]*http.Response)
	var items []crawler.QueueItem
	for _, host := range []string{"b1.com", "b2.com", "b3.com", "b4.com", "b5.com"} {
		url := "http://" + host
		responses[url] = helpers.Response200(helpers.Page("Site " + host))
		items = append(items, crawler.QueueItem{URL: url, DomainName: host, Priority: 1})
	}
	_, err := store.Enqueue(context.Background(), items)
	require.NoError(t, err)

	mgr := &crawler.WorkerManager{
		Factory:  memFactory(store),
		Fetcher:  mappedFetcher(responses),
		MaxItems: 2,
	}
	require.NoError(t, mgr.Run(context.Background()))

	assert.Equal(t, int64(2), mgr.Processed())
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed)
	// The rest of the leased batch goes back to pending, not limbo.
	assert.Equal(t, int64(3), stats.Pending)
	assert.Equal(t, int64(0), stats.Processing)
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	helpers.LoadTestConfig("test-crawler.yaml")
	crawler.Config.Crawler.Workers = 1

	store := helpers.NewMemStore()
	mgr := &crawler.WorkerManager{
		Factory:    memFactory(store),
		Fetcher:    mappedFetcher(nil),
		Continuous: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, mgr.Run(ctx), "cancellation is a graceful stop, not an error")
	assert.Less(t, time.Since(start), 5*time.Second)
}

//go:build mysql

package mysql

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
	"github.com/Rabenherz112/map-the-net-crawler/helpers"
)

// These tests talk to a real MySQL server configured by
// helpers/test-crawler.yaml (database domain_network_test). Run them with
// `go test -tags mysql ./mysql`. The util binary's cleandb command resets
// the test database.

func init() {
	helpers.LoadTestConfig("test-crawler.yaml")
}

func getStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateSchema(ctx))
	require.NoError(t, store.Wipe(ctx))
	return store
}

func TestLeaseMutualExclusion(t *testing.T) {
	store := getStore(t)
	ctx := context.Background()

	var items []crawler.QueueItem
	for i := 0; i < 50; i++ {
		items = append(items, crawler.QueueItem{
			URL:        fmt.Sprintf("http://site%v.example/page", i),
			DomainName: fmt.Sprintf("site%v.example", i),
			Priority:   i % 5,
			Depth:      0,
		})
	}
	_, err := store.Enqueue(ctx, items)
	require.NoError(t, err)

	// Many concurrent leasers, each with its own connection pool, must
	// never capture the same entry.
	const leasers = 8
	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for i := 0; i < leasers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := NewStore(zap.NewNop())
			if err != nil {
				t.Error(err)
				return
			}
			defer s.Close()
			for {
				entries, err := s.LeaseBatch(ctx, 5)
				if err != nil {
					t.Error(err)
					return
				}
				if len(entries) == 0 {
					return
				}
				mu.Lock()
				for _, e := range entries {
					seen[e.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, len(items))
	for id, count := range seen {
		assert.Equal(t, 1, count, "entry %v leased more than once", id)
	}
}

func TestEnqueueMonotonicityEndToEnd(t *testing.T) {
	store := getStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, []crawler.QueueItem{
		{URL: "http://example.com/x", DomainName: "example.com", Priority: 1, Depth: 4},
	})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, []crawler.QueueItem{
		{URL: "http://example.com/x", DomainName: "example.com", Priority: 5, Depth: 9},
	})
	require.NoError(t, err)

	entries, err := store.LeaseBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Priority, "priority can only rise")
	assert.Equal(t, 4, entries[0].Depth, "depth can only fall")
}

func TestSweepStuckSelfHealing(t *testing.T) {
	store := getStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, []crawler.QueueItem{
		{URL: "http://example.com/stuck", DomainName: "example.com", Priority: 1},
	})
	require.NoError(t, err)
	entries, err := store.LeaseBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Threshold zero treats every lease as stale, which is the crash
	// recovery scenario: the "crashed" agent's row must come back.
	time.Sleep(1100 * time.Millisecond)
	count, err := store.SweepStuck(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	relisted, err := store.LeaseBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, relisted, 1)
	assert.Equal(t, entries[0].ID, relisted[0].ID)

	stuck, err := store.CountStuck(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stuck, "fresh lease counts against threshold zero")
}

func TestCompletedRowIsNotDoubleFinished(t *testing.T) {
	store := getStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, []crawler.QueueItem{
		{URL: "http://example.com/once", DomainName: "example.com"},
	})
	require.NoError(t, err)
	entries, err := store.LeaseBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	id := entries[0].ID

	require.NoError(t, store.Complete(ctx, id, true, ""))
	// A late failure report from a timed-out worker must not flip the
	// completed row back to failed.
	require.NoError(t, store.Complete(ctx, id, false, "timeout after 300s"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestDomainGraphRoundTrip(t *testing.T) {
	store := getStore(t)
	ctx := context.Background()

	srcID, err := store.UpsertDomain(ctx, &crawler.Domain{
		Name:        "example.com",
		Title:       crawler.StringPtr("Example"),
		Description: crawler.StringPtr("An example"),
		IPAddress:   crawler.StringPtr("192.0.2.10"),
	})
	require.NoError(t, err)
	tgtID, err := store.UpsertDomain(ctx, &crawler.Domain{Name: "other.example"})
	require.NoError(t, err)

	created, err := store.UpsertRelationship(ctx, srcID, tgtID,
		crawler.RelLink, "About our partner", "http://other.example/about")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = store.UpsertRelationship(ctx, srcID, tgtID,
		crawler.RelLink, "Partners", "http://other.example/")
	require.NoError(t, err)
	assert.False(t, created)

	// The duplicate refreshed the stored link attributes.
	var linkText string
	require.NoError(t, store.DB().GetContext(ctx, &linkText, `
		SELECT link_text FROM relationships
		WHERE source_domain_id = ? AND target_domain_id = ?`, srcID, tgtID))
	assert.Equal(t, "Partners", linkText)

	// A stub re-upsert must not clobber the enriched columns.
	again, err := store.UpsertDomain(ctx, &crawler.Domain{Name: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, srcID, again)
	complete, err := store.IsDomainDataComplete(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, complete)

	require.NoError(t, store.RecordURLProcessing(ctx, "http://example.com", srcID, "success", 3))
	count, err := store.ProcessedCount(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	has, err := store.HasProcessedURL(ctx, "http://example.com")
	require.NoError(t, err)
	assert.True(t, has)
}

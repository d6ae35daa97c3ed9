package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
	"github.com/Rabenherz112/map-the-net-crawler/helpers"
)

// captureStreams spoofs the commander's i/o so tests can assert on output
// and exit codes without killing the test process.
func captureStreams(t *testing.T) (*bytes.Buffer, *bytes.Buffer, *[]int) {
	t.Helper()
	var out, errOut bytes.Buffer
	var exits []int
	old := Streams(CommanderStreams{
		Printf: func(format string, args ...interface{}) { fmt.Fprintf(&out, format, args...) },
		Errorf: func(format string, args ...interface{}) { fmt.Fprintf(&errOut, format, args...) },
		Exit:   func(status int) { exits = append(exits, status) },
	})
	t.Cleanup(func() { Streams(old) })
	return &out, &errOut, &exits
}

func injectMemStore(t *testing.T) *helpers.MemStore {
	t.Helper()
	helpers.LoadTestConfig("test-crawler.yaml")
	store := helpers.NewMemStore()
	Stores(func() (crawler.QueueStore, crawler.DomainStore, io.Closer, error) {
		return store, store, store, nil
	})
	Enricher(nil)
	return store
}

func runArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })
	os.Args = append([]string{orig[0]}, args...)
	Execute()
}

func TestProcessCommandDrainsAndReports(t *testing.T) {
	injectMemStore(t)
	out, _, exits := captureStreams(t)

	runArgs(t, "process")

	assert.Empty(t, *exits)
	assert.Equal(t, "Processed 0 entries\n", out.String())
}

func TestSeedCommand(t *testing.T) {
	store := injectMemStore(t)
	out, _, exits := captureStreams(t)

	runArgs(t, "seed", "--url=http://Example.com/Path/")

	require.Empty(t, *exits)
	assert.Contains(t, out.String(), "Seeded http://example.com/Path")

	entry := store.EntryByURL("http://example.com/Path")
	require.NotNil(t, entry, "seed should be stored in canonical form")
	assert.Equal(t, "example.com", entry.DomainName)
	assert.Equal(t, 10, entry.Priority)
	assert.Equal(t, 0, entry.Depth)

	// Seeding the same URL again does not duplicate it.
	out.Reset()
	runArgs(t, "seed", "--url=http://example.com/Path")
	assert.Contains(t, out.String(), "already queued")
}

func TestSeedCommandRejectsBadURL(t *testing.T) {
	injectMemStore(t)
	_, errOut, exits := captureStreams(t)

	runArgs(t, "seed", "--url=not a url at all")

	require.NotEmpty(t, *exits)
	assert.Equal(t, 1, (*exits)[0])
	assert.NotEmpty(t, errOut.String())
}

func TestSweepCommand(t *testing.T) {
	store := injectMemStore(t)
	out, _, exits := captureStreams(t)

	ctx := context.Background()
	_, err := store.Enqueue(ctx, []crawler.QueueItem{
		{URL: "http://a.com", DomainName: "a.com", Priority: 1},
	})
	require.NoError(t, err)
	leased, err := store.LeaseBatch(ctx, 1)
	require.NoError(t, err)
	stale := time.Now().Add(-time.Hour)
	store.Queue[leased[0].ID].ProcessedAt = &stale

	runArgs(t, "sweep")

	assert.Empty(t, *exits)
	assert.Equal(t, "Reset 1 stuck entries\n", out.String())
	assert.Equal(t, crawler.StatusPending, store.EntryByURL("http://a.com").Status)
}

func TestWipeRefusesWithoutConfirmation(t *testing.T) {
	injectMemStore(t)
	_, errOut, exits := captureStreams(t)

	runArgs(t, "wipe")

	require.NotEmpty(t, *exits)
	assert.Equal(t, 1, (*exits)[0])
	assert.Contains(t, errOut.String(), "--yes")
}

func TestSchemaCommand(t *testing.T) {
	injectMemStore(t)
	_, _, exits := captureStreams(t)

	runArgs(t, "schema", "--out=test-schema.sql")
	defer os.Remove("test-schema.sql")

	require.Empty(t, *exits)
	data, err := os.ReadFile("test-schema.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS domains")
	assert.Contains(t, string(data), "discovery_queue")
}

func TestSchemaCommandPrintsToStdout(t *testing.T) {
	injectMemStore(t)
	out, _, exits := captureStreams(t)

	runArgs(t, "schema", "--out=")

	require.Empty(t, *exits)
	assert.Contains(t, out.String(), "CREATE TABLE IF NOT EXISTS domains")
}

func TestCommandsReadConfigFlag(t *testing.T) {
	injectMemStore(t)
	captureStreams(t)
	defer helpers.LoadTestConfig("test-crawler.yaml")

	require.Equal(t, "test-agent", crawler.Config.Crawler.AgentName)
	second := path.Join(helpers.GetTestFileDir(), "test-crawler2.yaml")
	runArgs(t, "schema", "--out=", "--config="+second)

	assert.Equal(t, "second-agent", crawler.Config.Crawler.AgentName)
	configPath = ""
}

func TestCrawlCommandStopsOnSignal(t *testing.T) {
	injectMemStore(t)
	out, _, exits := captureStreams(t)

	go func() {
		time.Sleep(150 * time.Millisecond)
		syscall.Kill(os.Getpid(), syscall.SIGINT)
	}()
	runArgs(t, "crawl", "--no-console")

	assert.Empty(t, *exits)
	assert.True(t, strings.HasPrefix(out.String(), "Processed "), "got output %q", out.String())
}

// stuckEntry enqueues one URL, leases it, and backdates the lease an hour.
func stuckEntry(t *testing.T, store *helpers.MemStore, url, domain string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Enqueue(ctx, []crawler.QueueItem{
		{URL: url, DomainName: domain, Priority: 5},
	})
	require.NoError(t, err)
	leased, err := store.LeaseBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	stale := time.Now().Add(-time.Hour)
	store.Queue[leased[0].ID].ProcessedAt = &stale
}

func TestSeedCommandMultipleURLs(t *testing.T) {
	store := injectMemStore(t)
	out, _, exits := captureStreams(t)

	runArgs(t, "seed", "--url=", "--file=", "http://a.com", "http://b.com/About/")

	require.Empty(t, *exits)
	assert.Contains(t, out.String(), "Seeded http://a.com")
	assert.Contains(t, out.String(), "Seeded http://b.com/About")
	require.NotNil(t, store.EntryByURL("http://a.com"))
	require.NotNil(t, store.EntryByURL("http://b.com/About"))
}

func TestSeedCommandFromFile(t *testing.T) {
	store := injectMemStore(t)
	out, _, exits := captureStreams(t)

	seeds := "# starting points\nhttp://a.com\n\nhttp://b.com\n"
	file := path.Join(t.TempDir(), "seeds.txt")
	require.NoError(t, os.WriteFile(file, []byte(seeds), 0o644))

	runArgs(t, "seed", "--url=", "--file="+file)

	require.Empty(t, *exits)
	assert.Contains(t, out.String(), "Seeded http://a.com")
	assert.Contains(t, out.String(), "Seeded http://b.com")
	require.NotNil(t, store.EntryByURL("http://a.com"))
	require.NotNil(t, store.EntryByURL("http://b.com"))
}

func TestSweepDryRunOnlyReports(t *testing.T) {
	store := injectMemStore(t)
	out, _, exits := captureStreams(t)
	stuckEntry(t, store, "http://a.com", "a.com")

	runArgs(t, "sweep", "--dry-run")

	assert.Empty(t, *exits)
	assert.Equal(t, "Would reset 1 stuck entries\n", out.String())
	assert.Equal(t, crawler.StatusProcessing, store.EntryByURL("http://a.com").Status)
}

func TestSweepTimeoutMinutesOverridesThreshold(t *testing.T) {
	store := injectMemStore(t)
	out, _, _ := captureStreams(t)
	stuckEntry(t, store, "http://a.com", "a.com")

	// The lease is an hour old: stuck against a 10 minute threshold, not
	// against a two hour one.
	runArgs(t, "sweep", "--dry-run", "--timeout-minutes=120")
	assert.Equal(t, "Would reset 0 stuck entries\n", out.String())

	out.Reset()
	runArgs(t, "sweep", "--dry-run", "--timeout-minutes=10")
	assert.Equal(t, "Would reset 1 stuck entries\n", out.String())
}

func TestSweepStatsOnly(t *testing.T) {
	store := injectMemStore(t)
	out, _, exits := captureStreams(t)
	stuckEntry(t, store, "http://a.com", "a.com")
	_, err := store.Enqueue(context.Background(), []crawler.QueueItem{
		{URL: "http://b.com", DomainName: "b.com", Priority: 1},
	})
	require.NoError(t, err)

	runArgs(t, "sweep", "--stats-only", "--timeout-minutes=10")

	assert.Empty(t, *exits)
	assert.Equal(t,
		"Queue: 1 pending, 1 processing (1 stuck), 0 completed, 0 failed, 0 skipped\n",
		out.String())
	assert.Equal(t, crawler.StatusProcessing, store.EntryByURL("http://a.com").Status)
}

func TestProcessRunFlagsAndSeeds(t *testing.T) {
	store := injectMemStore(t)
	out, _, exits := captureStreams(t)

	fetcher := crawler.NewFetcher()
	fetcher.Transport = &helpers.MapRoundTrip{Responses: map[string]*http.Response{
		"http://a.com": helpers.Response200(helpers.Page("Site A")),
	}}
	Fetcher(fetcher)
	t.Cleanup(func() { Fetcher(nil) })

	runArgs(t, "process",
		"--add-seeds=http://a.com", "--workers=1", "--batch-size=2", "--max-depth=1")

	assert.Empty(t, *exits)
	assert.Equal(t, "Processed 1 entries\n", out.String())
	assert.Equal(t, 1, crawler.Config.Crawler.Workers)
	assert.Equal(t, 2, crawler.Config.Crawler.BatchSize)
	assert.Equal(t, 1, crawler.Config.Crawler.MaxDepth)

	entry := store.EntryByURL("http://a.com")
	require.NotNil(t, entry)
	assert.Equal(t, crawler.StatusCompleted, entry.Status)
}

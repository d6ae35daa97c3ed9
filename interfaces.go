package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by store lookups when no matching row exists.
var ErrNotFound = errors.New("not found")

// QueueStore defines the shared work queue every collector agent drains. All
// implementations must make LeaseBatch safe against concurrent agents: two
// callers can never lease the same entry.
type QueueStore interface {
	// Enqueue offers a batch of discovered URLs to the queue. A URL that is
	// already queued is not duplicated; instead its priority can only be
	// raised and its depth can only be lowered by the new offer. Returns the
	// number of newly inserted entries.
	Enqueue(ctx context.Context, items []QueueItem) (int, error)

	// LeaseBatch atomically claims up to n pending entries for this agent,
	// ordered by priority (descending) then discovery time (ascending), and
	// marks them processing. An empty result means the queue has no pending
	// work right now.
	LeaseBatch(ctx context.Context, n int) ([]QueueEntry, error)

	// Complete finishes a leased entry: ok moves it to completed, !ok to
	// failed with the given message. Entries not currently processing are
	// left alone, so a swept entry cannot be double-finished.
	Complete(ctx context.Context, id int64, ok bool, errMsg string) error

	// Skip marks a leased entry skipped with a reason (robots denial, depth
	// limit, domain quota, already processed).
	Skip(ctx context.Context, id int64, reason string) error

	// Interrupt returns leased entries to pending, clearing their lease
	// timestamps. Called on shutdown for work the agent will not finish.
	Interrupt(ctx context.Context, ids []int64) error

	// SweepStuck returns to pending every processing entry whose lease is
	// older than olderThan. It is how the system self-heals after an agent
	// crash. Returns the number of entries reset.
	SweepStuck(ctx context.Context, olderThan time.Duration) (int64, error)

	// CountStuck reports how many entries SweepStuck would reset.
	CountStuck(ctx context.Context, olderThan time.Duration) (int64, error)

	// IsActivelyQueued reports whether the URL is pending or processing.
	IsActivelyQueued(ctx context.Context, url string) (bool, error)

	// Stats summarizes the queue by status.
	Stats(ctx context.Context) (QueueStats, error)
}

// DomainStore persists the domain graph: domain rows, relationship edges,
// processing history and collection logs.
type DomainStore interface {
	// UpsertDomain inserts or updates a domain row and returns its id. Only
	// non-nil fields overwrite existing column values, so repeated partial
	// writes merge rather than erase earlier enrichment.
	UpsertDomain(ctx context.Context, d *Domain) (int64, error)

	// DomainID resolves a domain name to its row id. Returns ErrNotFound
	// when the domain has never been seen.
	DomainID(ctx context.Context, name string) (int64, error)

	// GetDomain fetches a full domain row by name, or ErrNotFound.
	GetDomain(ctx context.Context, name string) (*Domain, error)

	// UpsertRelationship records a directed edge between two domains together
	// with the anchor text and href of the link that produced it. The
	// (source, target, kind) triple is unique; re-recording an existing edge
	// refreshes its text and href. Returns true when a new edge was written.
	UpsertRelationship(ctx context.Context, sourceID, targetID int64, kind RelKind, linkText, linkURL string) (bool, error)

	// RecordURLProcessing upserts the per-URL history row that makes
	// reprocessing detectable across queue generations.
	RecordURLProcessing(ctx context.Context, url string, domainID int64, status string, linksFound int) error

	// HasProcessedURL reports whether the URL already has a history row.
	HasProcessedURL(ctx context.Context, url string) (bool, error)

	// ProcessedCount counts history rows recorded for a domain. The
	// collector uses it to enforce the per-domain page quota.
	ProcessedCount(ctx context.Context, domainName string) (int, error)

	// IsDomainDataComplete reports whether the domain row already has the
	// core fields (title, description, ip_address) so enrichment can be
	// skipped.
	IsDomainDataComplete(ctx context.Context, name string) (bool, error)

	// ParentWhois returns the WHOIS columns of the registered domain's row
	// so subdomains can reuse them instead of re-querying WHOIS. Returns
	// nil (no error) when the parent row is absent or has no WHOIS data.
	ParentWhois(ctx context.Context, mainDomain string) (*Domain, error)

	// LogCollection appends an audit row for a processed queue entry.
	LogCollection(ctx context.Context, entry CollectionLog) error

	// RecentDomains returns the most recently updated domain rows.
	RecentDomains(ctx context.Context, limit int) ([]Domain, error)

	// RecentLogs returns the most recent collection log rows.
	RecentLogs(ctx context.Context, limit int) ([]CollectionLog, error)
}

// Enricher gathers network-level metadata (WHOIS, DNS, ASN, TLS, GeoIP) for
// a domain. Implementations must degrade per source: one failing lookup
// yields nil fields, not an error for the whole domain.
type Enricher interface {
	// Enrich collects metadata for the named domain. isMain tells the
	// enricher whether the name is a registered domain (eTLD+1); WHOIS is
	// only queried for those, subdomains inherit the parent's WHOIS rows at
	// the repository layer.
	Enrich(ctx context.Context, name string, isMain bool) (*Domain, error)
}

// StoreFactory opens a fresh store bundle for one worker. Each worker owns
// its handle so a poisoned connection only affects one of them; Close tears
// the handle down when the worker exits.
type StoreFactory func() (QueueStore, DomainStore, io.Closer, error)

package helpers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// MemStore is an in-memory implementation of crawler.QueueStore and
// crawler.DomainStore with the same conflict semantics as the mysql package:
// monotone enqueue upserts, guarded terminal transitions, non-destructive
// domain merges. Collector and manager tests run against it so they can
// assert on the resulting graph without a database.
type MemStore struct {
	mu sync.Mutex

	nextQueueID  int64
	nextDomainID int64

	Queue   map[int64]*crawler.QueueEntry
	Domains map[string]*crawler.Domain
	// Relationships maps "srcID->tgtID:kind" to the stored link attributes.
	Relationships map[string]*RelationshipRow
	// History maps url to its latest (status, linksFound).
	History map[string]HistoryRow
	Logs    []crawler.CollectionLog

	// EnqueueErr, when set, is returned by Enqueue to exercise error paths.
	EnqueueErr error
}

// RelationshipRow holds the stored link attributes of one edge.
type RelationshipRow struct {
	Text string
	URL  string
}

// HistoryRow is one url_processing_history record.
type HistoryRow struct {
	DomainID   int64
	Status     string
	LinksFound int
}

// NewMemStore builds an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		Queue:         make(map[int64]*crawler.QueueEntry),
		Domains:       make(map[string]*crawler.Domain),
		Relationships: make(map[string]*RelationshipRow),
		History:       make(map[string]HistoryRow),
	}
}

// Enqueue implements crawler.QueueStore with the GREATEST/LEAST conflict
// rule.
func (m *MemStore) Enqueue(ctx context.Context, items []crawler.QueueItem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return 0, m.EnqueueErr
	}
	inserted := 0
	for _, item := range items {
		if existing := m.findByURL(item.URL); existing != nil {
			if item.Priority > existing.Priority {
				existing.Priority = item.Priority
			}
			if item.Depth < existing.Depth {
				existing.Depth = item.Depth
			}
			continue
		}
		m.nextQueueID++
		m.Queue[m.nextQueueID] = &crawler.QueueEntry{
			ID:             m.nextQueueID,
			URL:            item.URL,
			DomainName:     item.DomainName,
			SourceDomainID: item.SourceDomainID,
			Priority:       item.Priority,
			Depth:          item.Depth,
			Status:         crawler.StatusPending,
			DiscoveredAt:   time.Now(),
		}
		inserted++
	}
	return inserted, nil
}

// LeaseBatch implements crawler.QueueStore.
func (m *MemStore) LeaseBatch(ctx context.Context, n int) ([]crawler.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*crawler.QueueEntry
	for _, e := range m.Queue {
		if e.Status == crawler.StatusPending {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		if !pending[i].DiscoveredAt.Equal(pending[j].DiscoveredAt) {
			return pending[i].DiscoveredAt.Before(pending[j].DiscoveredAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if len(pending) > n {
		pending = pending[:n]
	}

	now := time.Now()
	var leased []crawler.QueueEntry
	for _, e := range pending {
		e.Status = crawler.StatusProcessing
		e.ProcessedAt = &now
		leased = append(leased, *e)
	}
	return leased, nil
}

// Complete implements crawler.QueueStore.
func (m *MemStore) Complete(ctx context.Context, id int64, ok bool, errMsg string) error {
	status := crawler.StatusCompleted
	if !ok {
		status = crawler.StatusFailed
	}
	return m.finish(id, status, errMsg)
}

// Skip implements crawler.QueueStore.
func (m *MemStore) Skip(ctx context.Context, id int64, reason string) error {
	return m.finish(id, crawler.StatusSkipped, reason)
}

func (m *MemStore) finish(id int64, status crawler.QueueStatus, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Queue[id]
	if !ok || e.Status != crawler.StatusProcessing {
		return nil
	}
	e.Status = status
	now := time.Now()
	e.ProcessedAt = &now
	if msg != "" {
		e.ErrorMessage = &msg
	}
	return nil
}

// Interrupt implements crawler.QueueStore.
func (m *MemStore) Interrupt(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if e, ok := m.Queue[id]; ok && e.Status == crawler.StatusProcessing {
			e.Status = crawler.StatusPending
			e.ProcessedAt = nil
			e.ErrorMessage = nil
		}
	}
	return nil
}

// SweepStuck implements crawler.QueueStore.
func (m *MemStore) SweepStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var count int64
	for _, e := range m.Queue {
		if e.Status == crawler.StatusProcessing && e.ProcessedAt != nil && e.ProcessedAt.Before(cutoff) {
			e.Status = crawler.StatusPending
			e.ProcessedAt = nil
			count++
		}
	}
	return count, nil
}

// CountStuck implements crawler.QueueStore.
func (m *MemStore) CountStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var count int64
	for _, e := range m.Queue {
		if e.Status == crawler.StatusProcessing && e.ProcessedAt != nil && e.ProcessedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// IsActivelyQueued implements crawler.QueueStore.
func (m *MemStore) IsActivelyQueued(ctx context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findByURL(url)
	return e != nil && (e.Status == crawler.StatusPending || e.Status == crawler.StatusProcessing), nil
}

// Stats implements crawler.QueueStore.
func (m *MemStore) Stats(ctx context.Context) (crawler.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats crawler.QueueStats
	for _, e := range m.Queue {
		switch e.Status {
		case crawler.StatusPending:
			stats.Pending++
		case crawler.StatusProcessing:
			stats.Processing++
		case crawler.StatusCompleted:
			stats.Completed++
		case crawler.StatusFailed:
			stats.Failed++
		case crawler.StatusSkipped:
			stats.Skipped++
		}
		stats.Total++
	}
	return stats, nil
}

func (m *MemStore) findByURL(url string) *crawler.QueueEntry {
	for _, e := range m.Queue {
		if e.URL == url {
			return e
		}
	}
	return nil
}

// UpsertDomain implements crawler.DomainStore with the COALESCE-style merge.
func (m *MemStore) UpsertDomain(ctx context.Context, d *crawler.Domain) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.Domains[d.Name]
	if !ok {
		m.nextDomainID++
		stored := *d
		stored.ID = m.nextDomainID
		m.Domains[d.Name] = &stored
		return stored.ID, nil
	}
	mergeDomain(existing, d)
	return existing.ID, nil
}

// mergeDomain overwrites only the nil columns of dst, mirroring
// COALESCE(VALUES(col), col).
func mergeDomain(dst, src *crawler.Domain) {
	if src.Title != nil {
		dst.Title = src.Title
	}
	if src.Description != nil {
		dst.Description = src.Description
	}
	if src.FaviconURL != nil {
		dst.FaviconURL = src.FaviconURL
	}
	if src.CreatedDate != nil {
		dst.CreatedDate = src.CreatedDate
	}
	if src.ExpiryDate != nil {
		dst.ExpiryDate = src.ExpiryDate
	}
	if src.Registrar != nil {
		dst.Registrar = src.Registrar
	}
	if src.Nameservers != nil {
		dst.Nameservers = src.Nameservers
	}
	if src.ASN != nil {
		dst.ASN = src.ASN
	}
	if src.ASNDescription != nil {
		dst.ASNDescription = src.ASNDescription
	}
	if src.SSLValid != nil {
		dst.SSLValid = src.SSLValid
	}
	if src.SSLExpiry != nil {
		dst.SSLExpiry = src.SSLExpiry
	}
	if src.Country != nil {
		dst.Country = src.Country
	}
	if src.IPAddress != nil {
		dst.IPAddress = src.IPAddress
	}
	if src.Latitude != nil {
		dst.Latitude = src.Latitude
	}
	if src.Longitude != nil {
		dst.Longitude = src.Longitude
	}
	if src.ScreenshotPath != nil {
		dst.ScreenshotPath = src.ScreenshotPath
	}
	if src.Category != nil {
		dst.Category = src.Category
	}
	if src.Tags != nil {
		dst.Tags = src.Tags
	}
}

// DomainID implements crawler.DomainStore.
func (m *MemStore) DomainID(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.Domains[name]; ok {
		return d.ID, nil
	}
	return 0, crawler.ErrNotFound
}

// GetDomain implements crawler.DomainStore.
func (m *MemStore) GetDomain(ctx context.Context, name string) (*crawler.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.Domains[name]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, crawler.ErrNotFound
}

// UpsertRelationship implements crawler.DomainStore. A duplicate edge
// refreshes the stored text and href, like the mysql conflict clause.
func (m *MemStore) UpsertRelationship(ctx context.Context, sourceID, targetID int64, kind crawler.RelKind, linkText, linkURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := RelationshipKey(sourceID, targetID, kind)
	_, existed := m.Relationships[key]
	m.Relationships[key] = &RelationshipRow{Text: linkText, URL: linkURL}
	return !existed, nil
}

// RelationshipKey is the map key format used by MemStore.Relationships.
func RelationshipKey(sourceID, targetID int64, kind crawler.RelKind) string {
	return fmt.Sprintf("%v->%v:%v", sourceID, targetID, kind)
}

// RecordURLProcessing implements crawler.DomainStore.
func (m *MemStore) RecordURLProcessing(ctx context.Context, url string, domainID int64, status string, linksFound int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.History[url] = HistoryRow{DomainID: domainID, Status: status, LinksFound: linksFound}
	return nil
}

// HasProcessedURL implements crawler.DomainStore.
func (m *MemStore) HasProcessedURL(ctx context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.History[url]
	return ok, nil
}

// ProcessedCount implements crawler.DomainStore.
func (m *MemStore) ProcessedCount(ctx context.Context, domainName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Domains[domainName]
	if !ok {
		return 0, nil
	}
	count := 0
	for _, row := range m.History {
		if row.DomainID == d.ID {
			count++
		}
	}
	return count, nil
}

// IsDomainDataComplete implements crawler.DomainStore.
func (m *MemStore) IsDomainDataComplete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Domains[name]
	if !ok {
		return false, nil
	}
	filled := func(s *string) bool { return s != nil && *s != "" }
	return filled(d.Title) && filled(d.Description) && filled(d.IPAddress), nil
}

// ParentWhois implements crawler.DomainStore.
func (m *MemStore) ParentWhois(ctx context.Context, mainDomain string) (*crawler.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Domains[mainDomain]
	if !ok {
		return nil, nil
	}
	if d.CreatedDate == nil && d.ExpiryDate == nil && d.Registrar == nil && d.Nameservers == nil {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

// LogCollection implements crawler.DomainStore.
func (m *MemStore) LogCollection(ctx context.Context, entry crawler.CollectionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, entry)
	return nil
}

// RecentDomains implements crawler.DomainStore.
func (m *MemStore) RecentDomains(ctx context.Context, limit int) ([]crawler.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crawler.Domain
	for _, d := range m.Domains {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentLogs implements crawler.DomainStore.
func (m *MemStore) RecentLogs(ctx context.Context, limit int) ([]crawler.CollectionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := len(m.Logs) - limit
	if start < 0 {
		start = 0
	}
	out := make([]crawler.CollectionLog, 0, len(m.Logs)-start)
	for i := len(m.Logs) - 1; i >= start; i-- {
		out = append(out, m.Logs[i])
	}
	return out, nil
}

// Close implements io.Closer so MemStore satisfies the store factory shape.
func (m *MemStore) Close() error {
	return nil
}

// EntryByURL returns the queue entry with the given URL, for assertions.
func (m *MemStore) EntryByURL(url string) *crawler.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByURL(url)
}

// RelationshipNames renders the recorded edges as "source kind target"
// strings, sorted, which makes test failure output readable.
func (m *MemStore) RelationshipNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[int64]string)
	for name, d := range m.Domains {
		byID[d.ID] = name
	}
	var out []string
	for key := range m.Relationships {
		arrow := strings.SplitN(key, "->", 2)
		rest := strings.SplitN(arrow[1], ":", 2)
		var src, tgt int64
		fmt.Sscanf(arrow[0], "%d", &src)
		fmt.Sscanf(rest[0], "%d", &tgt)
		out = append(out, fmt.Sprintf("%v %v %v", byID[src], rest[1], byID[tgt]))
	}
	sort.Strings(out)
	return out
}

// FakeEnricher returns a canned record per domain, tracking which domains
// were enriched.
type FakeEnricher struct {
	mu       sync.Mutex
	Records  map[string]*crawler.Domain
	Enriched []string
}

// NewFakeEnricher builds a FakeEnricher with no canned records; Enrich then
// returns minimal records.
func NewFakeEnricher() *FakeEnricher {
	return &FakeEnricher{Records: make(map[string]*crawler.Domain)}
}

// Enrich implements crawler.Enricher.
func (f *FakeEnricher) Enrich(ctx context.Context, name string, isMain bool) (*crawler.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Enriched = append(f.Enriched, name)
	if rec, ok := f.Records[name]; ok {
		copied := *rec
		copied.Name = name
		return &copied, nil
	}
	return &crawler.Domain{Name: name}, nil
}

// EnrichedDomains returns the domains enriched so far.
func (f *FakeEnricher) EnrichedDomains() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Enriched...)
}

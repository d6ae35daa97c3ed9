package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Collector runs the per-URL crawl pipeline: gate the leased entry against
// depth, history, quota and robots policy; fetch and parse the page; enrich
// the domain when its row is still incomplete; classify and persist the
// outgoing edges; and enqueue the discovered URLs for the next depth.
//
// A Collector belongs to one worker. Its robots cache is private to it, so
// no locking happens anywhere in the pipeline; all shared state sits behind
// the store interfaces.
type Collector struct {
	queue    QueueStore
	domains  DomainStore
	enricher Enricher
	fetcher  *Fetcher
	robots   *RobotsCache
	classify *Classifier
	filter   *LinkFilter
	logger   *zap.Logger

	// NoDiscoveries suppresses enqueueing of discovered URLs. Relationship
	// rows are still written, so a no-discoveries run deepens the graph
	// around known domains without growing the frontier.
	NoDiscoveries bool

	agent            string
	maxDepth         int
	maxLinksPerPage  int
	maxURLsPerDomain int
	requestDelay     time.Duration
	maxCrawlDelay    time.Duration
}

// NewCollector builds a collector from the current config. The enricher may
// be nil, which disables the enrichment step entirely.
func NewCollector(queue QueueStore, domains DomainStore, enricher Enricher, fetcher *Fetcher, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		queue:            queue,
		domains:          domains,
		enricher:         enricher,
		fetcher:          fetcher,
		robots:           NewRobotsCache(fetcher),
		classify:         NewClassifier(fetcher),
		filter:           DefaultLinkFilter(),
		logger:           logger,
		agent:            AgentName(),
		maxDepth:         Config.Crawler.MaxDepth,
		maxLinksPerPage:  Config.Crawler.MaxLinksPerPage,
		maxURLsPerDomain: Config.Crawler.MaxURLsPerDomain,
		requestDelay:     Duration(Config.Crawler.RequestDelay, time.Second),
		maxCrawlDelay:    Duration(Config.Crawler.MaxCrawlDelay, 30*time.Second),
	}
}

// Process runs one leased queue entry through the pipeline and leaves it in
// a terminal state. Policy rejections become skips, fetch and pipeline
// errors become failures, and a canceled context interrupts the entry back
// to pending.
func (c *Collector) Process(ctx context.Context, entry QueueEntry) error {
	start := time.Now()
	log := c.logger.With(
		zap.String("url", entry.URL),
		zap.String("domain", entry.DomainName),
		zap.Int("depth", entry.Depth),
	)

	if entry.Depth > c.maxDepth {
		return c.skip(entry, "max depth", log)
	}
	processed, err := c.domains.HasProcessedURL(ctx, entry.URL)
	if err != nil {
		return c.fail(ctx, entry, start, fmt.Errorf("history lookup: %w", err), log)
	}
	if processed {
		return c.skip(entry, "already processed", log)
	}
	count, err := c.domains.ProcessedCount(ctx, entry.DomainName)
	if err != nil {
		return c.fail(ctx, entry, start, fmt.Errorf("quota lookup: %w", err), log)
	}
	if count >= c.maxURLsPerDomain {
		return c.skip(entry, "domain quota", log)
	}

	entryURL, err := ParseURL(entry.URL)
	if err != nil {
		return c.fail(ctx, entry, start, fmt.Errorf("bad queue url: %w", err), log)
	}

	// The robots gate asks about the host root: policy admits or blocks the
	// site as a whole here, not individual paths.
	policy := c.robots.PolicyFor(ctx, entryURL)
	if !policy.Allowed("/") {
		// A robots denial is not a failure: the domain still enters the
		// graph as a bare row, the entry completes, and no links are
		// extracted from it.
		domainID, serr := c.upsertStub(entry.DomainName)
		if serr != nil {
			log.Warn("failed to upsert robots-denied domain", zap.Error(serr))
		} else {
			c.recordHistory(entry.URL, domainID, "robots_denied", 0, log)
		}
		c.finish(entry, true, "", log)
		c.logOutcome(entry, domainID, "robots_denied", "", 0, 0, start)
		log.Info("robots denied")
		c.pace(ctx, policy.CrawlDelay())
		return nil
	}

	res, err := c.fetcher.Get(ctx, entryURL)
	if err != nil {
		ferr := c.fail(ctx, entry, start, err, log)
		c.pace(ctx, policy.CrawlDelay())
		return ferr
	}

	page := &PageParser{}
	if IsHTMLContent(res.ContentType) {
		if perr := page.Parse(res.Body, res.ContentType, res.FinalURL); perr != nil {
			log.Debug("page parse failed", zap.Error(perr))
		}
	}

	rec := c.buildDomainRecord(ctx, entry, entryURL, page, log)
	sourceID, err := c.domains.UpsertDomain(ctx, rec)
	if err != nil {
		ferr := c.fail(ctx, entry, start, fmt.Errorf("upsert domain: %w", err), log)
		c.pace(ctx, policy.CrawlDelay())
		return ferr
	}

	internal, external := c.partitionLinks(entryURL, page.Links)
	relationships := 0
	discovered := 0
	for _, link := range external {
		relationships += c.linkEdges(ctx, entryURL, link, sourceID, log)
		discovered += c.enqueueLink(ctx, link, entry, sourceID, log)
	}
	for _, link := range internal {
		relationships += c.linkEdges(ctx, entryURL, link, sourceID, log)
		discovered += c.enqueueLink(ctx, link, entry, sourceID, log)
	}

	c.recordHistory(entry.URL, sourceID, "success", len(page.Links), log)
	c.finish(entry, true, "", log)
	c.logOutcome(entry, sourceID, "success", "", relationships, discovered, start)
	log.Info("processed queue entry",
		zap.Int("relationships", relationships),
		zap.Int("discovered", discovered),
		zap.Duration("took", time.Since(start)))

	c.pace(ctx, policy.CrawlDelay())
	return nil
}

// buildDomainRecord assembles the domain row for the entry's domain from the
// parsed page, pulling in enrichment when the stored row still lacks its
// core fields. Enrichment failures degrade to whatever the page gave us.
func (c *Collector) buildDomainRecord(ctx context.Context, entry QueueEntry, entryURL *URL, page *PageParser, log *zap.Logger) *Domain {
	rec := &Domain{Name: entry.DomainName}

	complete, err := c.domains.IsDomainDataComplete(ctx, entry.DomainName)
	if err != nil {
		log.Warn("completeness lookup failed", zap.Error(err))
	}

	// Deep entries can land on pages with no usable metadata. When the row
	// is still incomplete, one extra fetch of the site root fills in title
	// and description; on any trouble we keep the entry page's values.
	meta := page
	if !complete && page.Title == "" && entryURL.Path != "" && entryURL.Path != "/" {
		if root := c.fetchRootMeta(ctx, entryURL, log); root != nil {
			meta = root
		}
	}
	rec.Title = StringPtr(meta.Title)
	rec.Description = StringPtr(meta.Description)
	rec.FaviconURL = StringPtr(meta.FaviconURL)
	if cat := CategorizeDomain(meta.Title, meta.Description, entry.DomainName); cat != "" {
		rec.Category = StringPtr(cat)
	}
	if tags := ExtractTags(meta.Keywords, entry.DomainName); tags != "" {
		rec.Tags = StringPtr(tags)
	}

	if complete || c.enricher == nil {
		return rec
	}
	isMain := entryURL.IsMainDomain()
	enriched, err := c.enricher.Enrich(ctx, entry.DomainName, isMain)
	if err != nil {
		log.Warn("enrichment failed", zap.Error(err))
		return rec
	}
	mergeDomain(rec, enriched)
	if !isMain {
		c.inheritParentWhois(ctx, entryURL, rec, log)
	}
	return rec
}

// fetchRootMeta fetches the site root of the entry's host for metadata only.
// Best effort; any failure returns nil.
func (c *Collector) fetchRootMeta(ctx context.Context, entryURL *URL, log *zap.Logger) *PageParser {
	root := entryURL.Clone()
	root.Path = ""
	root.RawPath = ""
	root.RawQuery = ""
	root.Fragment = ""

	res, err := c.fetcher.Get(ctx, root)
	if err != nil {
		log.Debug("root metadata fetch failed", zap.Error(err))
		return nil
	}
	if !IsHTMLContent(res.ContentType) {
		return nil
	}
	p := &PageParser{}
	if err := p.Parse(res.Body, res.ContentType, res.FinalURL); err != nil {
		log.Debug("root metadata parse failed", zap.Error(err))
		return nil
	}
	return p
}

// inheritParentWhois copies the registered domain's WHOIS columns onto a
// subdomain's record, so one WHOIS query per registered domain serves all
// its subdomains.
func (c *Collector) inheritParentWhois(ctx context.Context, entryURL *URL, rec *Domain, log *zap.Logger) {
	parent, err := c.domains.ParentWhois(ctx, entryURL.MainDomain())
	if err != nil {
		log.Debug("parent whois lookup failed", zap.Error(err))
		return
	}
	if parent == nil {
		return
	}
	if rec.CreatedDate == nil {
		rec.CreatedDate = parent.CreatedDate
	}
	if rec.ExpiryDate == nil {
		rec.ExpiryDate = parent.ExpiryDate
	}
	if rec.Registrar == nil {
		rec.Registrar = parent.Registrar
	}
	if rec.Nameservers == nil {
		rec.Nameservers = parent.Nameservers
	}
}

// partitionLinks filters, canonicalizes and deduplicates the page's outlinks
// and splits them into internal (same host as the page) and external. Both
// halves are budgeted: internal links get a quarter of the per-page cap, at
// least one, and external links the rest. Internal links deduplicate by
// canonical URL, external by target host, so one heavily linked partner
// still yields one edge.
func (c *Collector) partitionLinks(source *URL, links []Link) (internal, external []Link) {
	internalBudget := c.maxLinksPerPage / 4
	if internalBudget < 1 {
		internalBudget = 1
	}
	externalBudget := c.maxLinksPerPage - internalBudget

	sourceHost := source.DomainName()
	seenURL := make(map[string]bool)
	seenHost := make(map[string]bool)
	for _, link := range links {
		if _, rejected := c.filter.Reject(link.URL, link.Text); rejected {
			continue
		}
		canon := link.URL.Canonical()
		host := canon.DomainName()
		if host == sourceHost {
			key := canon.String()
			if seenURL[key] || len(internal) >= internalBudget {
				continue
			}
			seenURL[key] = true
			internal = append(internal, Link{URL: canon, Text: link.Text})
		} else {
			if seenHost[host] || len(external) >= externalBudget {
				continue
			}
			seenHost[host] = true
			external = append(external, Link{URL: canon, Text: link.Text})
		}
	}
	return internal, external
}

// linkEdges classifies one kept link and writes the resulting relationship
// rows, carrying the link's anchor text and href onto each edge. Edges from
// a domain to itself are not stored, so same-host links only contribute
// rows when classification lands somewhere else.
func (c *Collector) linkEdges(ctx context.Context, source *URL, link Link, sourceID int64, log *zap.Logger) int {
	written := 0
	for _, edge := range c.classify.Classify(ctx, source, link.URL) {
		if edge.Target == source.DomainName() {
			continue
		}
		targetID, err := c.domains.UpsertDomain(ctx, &Domain{Name: edge.Target})
		if err != nil {
			log.Warn("failed to upsert target domain",
				zap.String("target", edge.Target), zap.Error(err))
			continue
		}
		if _, err := c.domains.UpsertRelationship(ctx, sourceID, targetID, edge.Kind, link.Text, link.URL.String()); err != nil {
			log.Warn("failed to upsert relationship",
				zap.String("target", edge.Target),
				zap.String("kind", string(edge.Kind)), zap.Error(err))
			continue
		}
		written++
	}
	return written
}

// enqueueLink offers one discovered link to the queue at the next depth and
// returns how many entries that inserted (0 or 1). Links already processed
// or already queued are dropped here rather than left for the lease gates,
// which keeps the queue from filling with entries that would only be
// skipped later.
func (c *Collector) enqueueLink(ctx context.Context, link Link, entry QueueEntry, sourceID int64, log *zap.Logger) int {
	if c.NoDiscoveries || entry.Depth+1 > c.maxDepth {
		return 0
	}
	canon := link.URL.String()
	if done, err := c.domains.HasProcessedURL(ctx, canon); err != nil || done {
		return 0
	}
	if queued, err := c.queue.IsActivelyQueued(ctx, canon); err != nil || queued {
		return 0
	}
	n, err := c.queue.Enqueue(ctx, []QueueItem{{
		URL:            canon,
		DomainName:     link.URL.DomainName(),
		SourceDomainID: Int64Ptr(sourceID),
		Priority:       1,
		Depth:          entry.Depth + 1,
	}})
	if err != nil {
		log.Warn("enqueue failed", zap.String("target", canon), zap.Error(err))
		return 0
	}
	return n
}

// skip marks a policy rejection. The terminal write uses a detached context
// so a canceled worker can still record the outcome it decided on.
func (c *Collector) skip(entry QueueEntry, reason string, log *zap.Logger) error {
	ctx, cancel := detachedContext()
	defer cancel()
	if err := c.queue.Skip(ctx, entry.ID, reason); err != nil {
		log.Warn("failed to mark entry skipped", zap.Error(err))
		return err
	}
	log.Debug("skipped queue entry", zap.String("reason", reason))
	return nil
}

// fail records a pipeline failure. When the worker context was canceled the
// entry is instead interrupted back to pending, since the failure tells us
// nothing about the URL; otherwise the entry fails with the error message
// and a failed history row pins the URL so it is not retried forever. The
// one cancellation that still fails the entry is the per-item hard timeout:
// a hung URL must not return to pending and be leased again forever.
func (c *Collector) fail(ctx context.Context, entry QueueEntry, start time.Time, err error, log *zap.Logger) error {
	if ctx.Err() != nil {
		if !errors.Is(context.Cause(ctx), ErrItemTimeout) {
			ictx, cancel := detachedContext()
			defer cancel()
			if ierr := c.queue.Interrupt(ictx, []int64{entry.ID}); ierr != nil {
				log.Warn("failed to return interrupted entry", zap.Error(ierr))
			}
			log.Info("interrupted mid-entry")
			return ctx.Err()
		}
		err = errors.New("timeout")
	}

	msg := err.Error()
	c.finish(entry, false, msg, log)
	domainID, serr := c.upsertStub(entry.DomainName)
	if serr != nil {
		log.Warn("failed to upsert domain for failed entry", zap.Error(serr))
	} else {
		c.recordHistory(entry.URL, domainID, "failed", 0, log)
	}
	c.logOutcome(entry, domainID, "failed", msg, 0, 0, start)
	log.Warn("failed to process queue entry", zap.Error(err))
	return err
}

// finish moves the entry to completed or failed through a detached context,
// so outcomes already decided survive worker cancellation.
func (c *Collector) finish(entry QueueEntry, ok bool, errMsg string, log *zap.Logger) {
	ctx, cancel := detachedContext()
	defer cancel()
	if err := c.queue.Complete(ctx, entry.ID, ok, errMsg); err != nil {
		log.Warn("failed to finish queue entry", zap.Error(err))
	}
}

// upsertStub writes a bare domain row so history and log rows have a valid
// domain to reference even when the pipeline never built a full record.
func (c *Collector) upsertStub(name string) (int64, error) {
	ctx, cancel := detachedContext()
	defer cancel()
	return c.domains.UpsertDomain(ctx, &Domain{Name: name})
}

func (c *Collector) recordHistory(url string, domainID int64, status string, linksFound int, log *zap.Logger) {
	ctx, cancel := detachedContext()
	defer cancel()
	if err := c.domains.RecordURLProcessing(ctx, url, domainID, status, linksFound); err != nil {
		log.Warn("failed to record url history", zap.Error(err))
	}
}

func (c *Collector) logOutcome(entry QueueEntry, domainID int64, status, errMsg string, relationships, discovered int, start time.Time) {
	ctx, cancel := detachedContext()
	defer cancel()
	rec := CollectionLog{
		URL:                entry.URL,
		Status:             status,
		ErrorMessage:       StringPtr(errMsg),
		ProcessingTime:     time.Since(start).Seconds(),
		RelationshipsFound: relationships,
		URLsDiscovered:     discovered,
		AgentName:          c.agent,
	}
	if domainID > 0 {
		rec.DomainID = Int64Ptr(domainID)
	}
	if err := c.domains.LogCollection(ctx, rec); err != nil {
		c.logger.Warn("failed to write collection log",
			zap.String("url", entry.URL), zap.Error(err))
	}
}

// pace sleeps the politeness delay after a fetch: the larger of the
// configured request delay and the site's crawl-delay, capped at the
// configured maximum. The sleep is chunked so cancellation cuts it short
// within a second.
func (c *Collector) pace(ctx context.Context, crawlDelay time.Duration) {
	delay := c.requestDelay
	if crawlDelay > delay {
		delay = crawlDelay
	}
	if delay > c.maxCrawlDelay {
		delay = c.maxCrawlDelay
	}
	for delay > 0 {
		chunk := delay
		if chunk > time.Second {
			chunk = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(chunk):
		}
		delay -= chunk
	}
}

// detachedContext bounds terminal bookkeeping writes. It deliberately
// ignores the worker context so a canceled worker can still record the
// outcome it already decided on.
func detachedContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

// mergeDomain fills dst's nil fields from src, leaving anything dst already
// has alone.
func mergeDomain(dst, src *Domain) {
	if src == nil {
		return
	}
	if dst.Title == nil {
		dst.Title = src.Title
	}
	if dst.Description == nil {
		dst.Description = src.Description
	}
	if dst.FaviconURL == nil {
		dst.FaviconURL = src.FaviconURL
	}
	if dst.CreatedDate == nil {
		dst.CreatedDate = src.CreatedDate
	}
	if dst.ExpiryDate == nil {
		dst.ExpiryDate = src.ExpiryDate
	}
	if dst.Registrar == nil {
		dst.Registrar = src.Registrar
	}
	if dst.Nameservers == nil {
		dst.Nameservers = src.Nameservers
	}
	if dst.ASN == nil {
		dst.ASN = src.ASN
	}
	if dst.ASNDescription == nil {
		dst.ASNDescription = src.ASNDescription
	}
	if dst.SSLValid == nil {
		dst.SSLValid = src.SSLValid
	}
	if dst.SSLExpiry == nil {
		dst.SSLExpiry = src.SSLExpiry
	}
	if dst.Country == nil {
		dst.Country = src.Country
	}
	if dst.IPAddress == nil {
		dst.IPAddress = src.IPAddress
	}
	if dst.Latitude == nil {
		dst.Latitude = src.Latitude
	}
	if dst.Longitude == nil {
		dst.Longitude = src.Longitude
	}
	if dst.ScreenshotPath == nil {
		dst.ScreenshotPath = src.ScreenshotPath
	}
	if dst.Category == nil {
		dst.Category = src.Category
	}
	if dst.Tags == nil {
		dst.Tags = src.Tags
	}
}

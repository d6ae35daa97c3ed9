package crawler

import "time"

// Version of the crawler, reported by the console and the CLI.
const Version = "1.0.0"

// QueueStatus enumerates the lifecycle states of a discovery queue entry.
// Entries move pending -> processing via a lease, and processing ->
// completed/failed/skipped by the worker holding the lease. Interrupted or
// swept entries move processing -> pending so another agent can pick them up.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
	StatusSkipped    QueueStatus = "skipped"
)

// RelKind enumerates the edge types of the domain graph.
type RelKind string

const (
	RelLink      RelKind = "link"
	RelRedirect  RelKind = "redirect"
	RelSubdomain RelKind = "subdomain"
	RelRelated   RelKind = "related"
)

// QueueEntry is one row of the discovery queue.
type QueueEntry struct {
	ID             int64       `db:"id"`
	URL            string      `db:"url"`
	DomainName     string      `db:"domain_name"`
	SourceDomainID *int64      `db:"source_domain_id"`
	Priority       int         `db:"priority"`
	Depth          int         `db:"depth"`
	Status         QueueStatus `db:"status"`
	DiscoveredAt   time.Time   `db:"discovered_at"`
	ProcessedAt    *time.Time  `db:"processed_at"`
	ErrorMessage   *string     `db:"error_message"`
}

// QueueItem is the enqueue payload for a discovered URL.
type QueueItem struct {
	URL            string
	DomainName     string
	SourceDomainID *int64
	Priority       int
	Depth          int
}

// QueueStats summarizes the queue by status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
	Total      int64 `json:"total"`
}

// Domain is one row of the domains table. Nullable columns are pointers; the
// store only overwrites a column when the new value is non-nil, so partial
// updates from different enrichment passes merge instead of clobbering.
type Domain struct {
	ID             int64      `db:"id" json:"id"`
	Name           string     `db:"domain_name" json:"domain_name"`
	Title          *string    `db:"title" json:"title,omitempty"`
	Description    *string    `db:"description" json:"description,omitempty"`
	FaviconURL     *string    `db:"favicon_url" json:"favicon_url,omitempty"`
	CreatedDate    *time.Time `db:"created_date" json:"created_date,omitempty"`
	ExpiryDate     *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	Registrar      *string    `db:"registrar" json:"registrar,omitempty"`
	Nameservers    *string    `db:"nameservers" json:"nameservers,omitempty"`
	ASN            *string    `db:"asn" json:"asn,omitempty"`
	ASNDescription *string    `db:"asn_description" json:"asn_description,omitempty"`
	SSLValid       *bool      `db:"ssl_valid" json:"ssl_valid,omitempty"`
	SSLExpiry      *time.Time `db:"ssl_expiry" json:"ssl_expiry,omitempty"`
	Country        *string    `db:"country" json:"country,omitempty"`
	IPAddress      *string    `db:"ip_address" json:"ip_address,omitempty"`
	Latitude       *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude      *float64   `db:"longitude" json:"longitude,omitempty"`
	ScreenshotPath *string    `db:"screenshot_path" json:"screenshot_path,omitempty"`
	Category       *string    `db:"category" json:"category,omitempty"`
	Tags           *string    `db:"tags" json:"tags,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// CollectionLog is the audit record written after every processed queue
// entry, successful or not.
type CollectionLog struct {
	ID                 int64     `db:"id" json:"id"`
	DomainID           *int64    `db:"domain_id" json:"domain_id,omitempty"`
	URL                string    `db:"url" json:"url"`
	Status             string    `db:"status" json:"status"`
	ErrorMessage       *string   `db:"error_message" json:"error_message,omitempty"`
	ProcessingTime     float64   `db:"processing_time" json:"processing_time"`
	RelationshipsFound int       `db:"relationships_found" json:"relationships_found"`
	URLsDiscovered     int       `db:"urls_discovered" json:"urls_discovered"`
	AgentName          string    `db:"agent_name" json:"agent_name"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// StringPtr returns a pointer to s, or nil when s is empty. The store treats
// nil as "leave the column alone".
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 {
	return &f
}

// TimePtr returns a pointer to t, or nil when t is the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Int64Ptr returns a pointer to n.
func Int64Ptr(n int64) *int64 {
	return &n
}

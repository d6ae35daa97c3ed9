package mysql

import (
	"context"
	"database/sql"
	"fmt"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// This file implements crawler.DomainStore on Store: the domains table, the
// relationship edges between them, the per-URL processing history, and the
// collection audit log.

const upsertDomainStatement = `
	INSERT INTO domains (
		domain_name, title, description, favicon_url,
		created_date, expiry_date, registrar, nameservers,
		asn, asn_description, ssl_valid, ssl_expiry,
		country, ip_address, latitude, longitude,
		screenshot_path, category, tags
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		id = LAST_INSERT_ID(id),
		title = COALESCE(VALUES(title), title),
		description = COALESCE(VALUES(description), description),
		favicon_url = COALESCE(VALUES(favicon_url), favicon_url),
		created_date = COALESCE(VALUES(created_date), created_date),
		expiry_date = COALESCE(VALUES(expiry_date), expiry_date),
		registrar = COALESCE(VALUES(registrar), registrar),
		nameservers = COALESCE(VALUES(nameservers), nameservers),
		asn = COALESCE(VALUES(asn), asn),
		asn_description = COALESCE(VALUES(asn_description), asn_description),
		ssl_valid = COALESCE(VALUES(ssl_valid), ssl_valid),
		ssl_expiry = COALESCE(VALUES(ssl_expiry), ssl_expiry),
		country = COALESCE(VALUES(country), country),
		ip_address = COALESCE(VALUES(ip_address), ip_address),
		latitude = COALESCE(VALUES(latitude), latitude),
		longitude = COALESCE(VALUES(longitude), longitude),
		screenshot_path = COALESCE(VALUES(screenshot_path), screenshot_path),
		category = COALESCE(VALUES(category), category),
		tags = COALESCE(VALUES(tags), tags)`

// UpsertDomain inserts or updates a domain row and returns its id. The
// conflict clause is non-destructive: a nil field in d leaves the stored
// column alone, so a minimal stub written during link discovery never erases
// enrichment data collected earlier. The LAST_INSERT_ID(id) trick makes the
// driver report the existing row's id on the update path.
func (s *Store) UpsertDomain(ctx context.Context, d *crawler.Domain) (int64, error) {
	var id int64
	err := s.withRetry(ctx, "upsert domain", func() error {
		res, err := s.db.ExecContext(ctx, upsertDomainStatement,
			d.Name, d.Title, d.Description, d.FaviconURL,
			d.CreatedDate, d.ExpiryDate, d.Registrar, d.Nameservers,
			d.ASN, d.ASNDescription, d.SSLValid, d.SSLExpiry,
			d.Country, d.IPAddress, d.Latitude, d.Longitude,
			d.ScreenshotPath, d.Category, d.Tags)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert domain %v: %w", d.Name, err)
	}
	return id, nil
}

// DomainID resolves a domain name to its row id, or crawler.ErrNotFound.
func (s *Store) DomainID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT id FROM domains WHERE domain_name = ?`, name)
	if err == sql.ErrNoRows {
		return 0, crawler.ErrNotFound
	}
	return id, err
}

// GetDomain fetches a full domain row by name, or crawler.ErrNotFound.
func (s *Store) GetDomain(ctx context.Context, name string) (*crawler.Domain, error) {
	var d crawler.Domain
	err := s.db.GetContext(ctx, &d, `SELECT * FROM domains WHERE domain_name = ?`, name)
	if err == sql.ErrNoRows {
		return nil, crawler.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertRelationship records a directed edge between two domains along with
// the link text and href that produced it. Re-recording an existing (source,
// target, kind) triple refreshes text and href; the return value reports
// whether a new edge was written. MySQL reports one affected row for an
// insert and two for an update, which is how the two cases are told apart.
func (s *Store) UpsertRelationship(ctx context.Context, sourceID, targetID int64, kind crawler.RelKind, linkText, linkURL string) (bool, error) {
	var created bool
	err := s.withRetry(ctx, "upsert relationship", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO relationships (
				source_domain_id, target_domain_id, relationship_type, link_text, link_url
			) VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				link_text = VALUES(link_text),
				link_url = VALUES(link_url)`,
			sourceID, targetID, kind, crawler.StringPtr(linkText), crawler.StringPtr(linkURL))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n == 1
		return err
	})
	return created, err
}

// RecordURLProcessing upserts the per-URL history row. The unique url key
// means one row per URL regardless of how many queue generations touched it;
// the latest outcome wins.
func (s *Store) RecordURLProcessing(ctx context.Context, url string, domainID int64, status string, linksFound int) error {
	return s.withRetry(ctx, "record url processing", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO url_processing_history (url, domain_id, status, links_found)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				processed_at = CURRENT_TIMESTAMP,
				status = VALUES(status),
				links_found = VALUES(links_found)`,
			url, domainID, status, linksFound)
		return err
	})
}

// HasProcessedURL reports whether the URL already has a history row.
func (s *Store) HasProcessedURL(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one,
		`SELECT 1 FROM url_processing_history WHERE url = ? LIMIT 1`, url)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProcessedCount counts the history rows recorded against a domain, which is
// what the per-domain page quota is enforced on.
func (s *Store) ProcessedCount(ctx context.Context, domainName string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM url_processing_history h
		JOIN domains d ON d.id = h.domain_id
		WHERE d.domain_name = ?`, domainName)
	return count, err
}

// IsDomainDataComplete reports whether the domain row already carries the
// core fields: title, description and ip_address all set. Complete domains
// skip the enrichment pass on later visits.
func (s *Store) IsDomainDataComplete(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `
		SELECT 1 FROM domains
		WHERE domain_name = ?
		  AND title IS NOT NULL AND title != ''
		  AND description IS NOT NULL AND description != ''
		  AND ip_address IS NOT NULL AND ip_address != ''
		LIMIT 1`, name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ParentWhois returns the WHOIS columns of the registered domain's row so a
// subdomain can inherit them without another WHOIS query. A missing parent
// or a parent without WHOIS data returns nil with no error.
func (s *Store) ParentWhois(ctx context.Context, mainDomain string) (*crawler.Domain, error) {
	var d crawler.Domain
	err := s.db.GetContext(ctx, &d, `
		SELECT id, domain_name, created_date, expiry_date, registrar, nameservers
		FROM domains WHERE domain_name = ?`, mainDomain)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.CreatedDate == nil && d.ExpiryDate == nil && d.Registrar == nil && d.Nameservers == nil {
		return nil, nil
	}
	return &d, nil
}

// LogCollection appends an audit row for a processed queue entry.
func (s *Store) LogCollection(ctx context.Context, entry crawler.CollectionLog) error {
	return s.withRetry(ctx, "log collection", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO collection_logs (
				domain_id, url, status, error_message, processing_time,
				relationships_found, urls_discovered, agent_name
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.DomainID, entry.URL, entry.Status, entry.ErrorMessage,
			entry.ProcessingTime, entry.RelationshipsFound, entry.URLsDiscovered,
			entry.AgentName)
		return err
	})
}

// RecentDomains returns the most recently updated domain rows, newest first.
func (s *Store) RecentDomains(ctx context.Context, limit int) ([]crawler.Domain, error) {
	var domains []crawler.Domain
	err := s.db.SelectContext(ctx, &domains,
		`SELECT * FROM domains ORDER BY updated_at DESC LIMIT ?`, limit)
	return domains, err
}

// RecentLogs returns the most recent collection log rows, newest first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]crawler.CollectionLog, error) {
	var logs []crawler.CollectionLog
	err := s.db.SelectContext(ctx, &logs,
		`SELECT * FROM collection_logs ORDER BY created_at DESC LIMIT ?`, limit)
	return logs, err
}

package mysql

import "strings"

// The five tables of the crawler. InnoDB everywhere: the queue lease relies
// on row locks inside transactions, and the relationship and history tables
// rely on foreign keys.

const createDomainsTable = `
CREATE TABLE IF NOT EXISTS domains (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	domain_name VARCHAR(255) NOT NULL,
	title VARCHAR(500) DEFAULT NULL,
	description TEXT,
	favicon_url VARCHAR(500) DEFAULT NULL,
	created_date DATETIME DEFAULT NULL,
	expiry_date DATETIME DEFAULT NULL,
	registrar VARCHAR(255) DEFAULT NULL,
	nameservers TEXT,
	asn VARCHAR(50) DEFAULT NULL,
	asn_description VARCHAR(255) DEFAULT NULL,
	ssl_valid BOOLEAN DEFAULT NULL,
	ssl_expiry DATE DEFAULT NULL,
	country VARCHAR(2) DEFAULT NULL,
	ip_address VARCHAR(45) DEFAULT NULL,
	latitude DECIMAL(10,8) DEFAULT NULL,
	longitude DECIMAL(11,8) DEFAULT NULL,
	screenshot_path VARCHAR(500) DEFAULT NULL,
	category VARCHAR(100) DEFAULT NULL,
	tags TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	PRIMARY KEY (id),
	UNIQUE KEY unique_domain_name (domain_name),
	KEY idx_domains_updated_at (updated_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

const createRelationshipsTable = `
CREATE TABLE IF NOT EXISTS relationships (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	source_domain_id BIGINT UNSIGNED NOT NULL,
	target_domain_id BIGINT UNSIGNED NOT NULL,
	relationship_type ENUM('link','redirect','subdomain','related') NOT NULL DEFAULT 'link',
	link_text VARCHAR(500) DEFAULT NULL,
	link_url VARCHAR(2048) DEFAULT NULL,
	discovered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (id),
	UNIQUE KEY unique_relationship (source_domain_id, target_domain_id, relationship_type),
	KEY idx_relationships_target (target_domain_id),
	CONSTRAINT fk_relationships_source FOREIGN KEY (source_domain_id)
		REFERENCES domains (id) ON DELETE CASCADE,
	CONSTRAINT fk_relationships_target FOREIGN KEY (target_domain_id)
		REFERENCES domains (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

const createDiscoveryQueueTable = `
CREATE TABLE IF NOT EXISTS discovery_queue (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	url VARCHAR(2048) NOT NULL,
	domain_name VARCHAR(255) NOT NULL,
	source_domain_id BIGINT UNSIGNED DEFAULT NULL,
	priority INT NOT NULL DEFAULT 0,
	depth INT NOT NULL DEFAULT 0,
	status ENUM('pending','processing','completed','failed','skipped') NOT NULL DEFAULT 'pending',
	discovered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	processed_at TIMESTAMP NULL DEFAULT NULL,
	error_message TEXT,
	PRIMARY KEY (id),
	UNIQUE KEY unique_url (url(255)),
	KEY idx_queue_lease (status, priority, discovered_at),
	CONSTRAINT fk_queue_source FOREIGN KEY (source_domain_id)
		REFERENCES domains (id) ON DELETE SET NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

const createCollectionLogsTable = `
CREATE TABLE IF NOT EXISTS collection_logs (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	domain_id BIGINT UNSIGNED DEFAULT NULL,
	url VARCHAR(2048),
	status VARCHAR(50) NOT NULL,
	error_message TEXT,
	processing_time DECIMAL(10,3) DEFAULT NULL,
	relationships_found INT NOT NULL DEFAULT 0,
	urls_discovered INT NOT NULL DEFAULT 0,
	agent_name VARCHAR(255) DEFAULT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (id),
	KEY idx_logs_created_at (created_at),
	CONSTRAINT fk_logs_domain FOREIGN KEY (domain_id)
		REFERENCES domains (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

const createURLHistoryTable = `
CREATE TABLE IF NOT EXISTS url_processing_history (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	url VARCHAR(2048) NOT NULL,
	domain_id BIGINT UNSIGNED DEFAULT NULL,
	processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	status VARCHAR(50) NOT NULL,
	links_found INT NOT NULL DEFAULT 0,
	PRIMARY KEY (id),
	UNIQUE KEY unique_url (url(255)),
	KEY idx_history_domain (domain_id),
	CONSTRAINT fk_history_domain FOREIGN KEY (domain_id)
		REFERENCES domains (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

// tableNames in dependency order; Wipe truncates them in reverse.
var tableNames = []string{
	"domains",
	"relationships",
	"discovery_queue",
	"collection_logs",
	"url_processing_history",
}

// SchemaStatements returns the CREATE TABLE statements in an order that
// satisfies the foreign keys.
func SchemaStatements() []string {
	return []string{
		createDomainsTable,
		createRelationshipsTable,
		createDiscoveryQueueTable,
		createCollectionLogsTable,
		createURLHistoryTable,
	}
}

// Schema returns the full DDL as one printable script, which is what the
// schema CLI command emits.
func Schema() string {
	stmts := SchemaStatements()
	return strings.Join(stmts, ";\n") + ";\n"
}

package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// This file implements crawler.QueueStore on Store. The discovery queue is
// the only work-distribution mechanism in the system: agents lease pending
// rows inside a FOR UPDATE transaction, so two agents can never capture the
// same entry, and crashed agents are healed by SweepStuck.

// Error messages stored on queue rows are capped to keep the TEXT column
// readable; the full error still goes to the log.
const maxStoredErrorLen = 500

const enqueueStatement = `
	INSERT INTO discovery_queue (url, domain_name, source_domain_id, priority, depth)
	VALUES (?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		priority = GREATEST(priority, VALUES(priority)),
		depth = LEAST(depth, VALUES(depth))`

// Enqueue offers items to the queue. A URL already present is not duplicated;
// the conflict clause can only raise its priority and lower its depth, and
// never touches its status. Returns the number of newly inserted rows.
func (s *Store) Enqueue(ctx context.Context, items []crawler.QueueItem) (int, error) {
	inserted := 0
	for _, item := range items {
		err := s.withRetry(ctx, "enqueue", func() error {
			res, err := s.db.ExecContext(ctx, enqueueStatement,
				item.URL, item.DomainName, item.SourceDomainID, item.Priority, item.Depth)
			if err != nil {
				return err
			}
			// MySQL reports 1 affected row for an insert and 2 for a
			// duplicate-key update, so 1 identifies genuinely new entries.
			if n, err := res.RowsAffected(); err == nil && n == 1 {
				inserted++
			}
			return nil
		})
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// LeaseBatch claims up to n pending entries for this agent. The select and
// the status flip happen in one transaction with the selected rows locked,
// which is what makes concurrent leasing mutually exclusive: a second agent's
// SELECT FOR UPDATE blocks until the first commits, and by then the rows are
// no longer pending.
func (s *Store) LeaseBatch(ctx context.Context, n int) ([]crawler.QueueEntry, error) {
	var entries []crawler.QueueEntry
	err := s.withRetry(ctx, "lease batch", func() error {
		entries = nil
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			err := tx.SelectContext(ctx, &entries, `
				SELECT id, url, domain_name, source_domain_id, priority, depth,
				       status, discovered_at, processed_at, error_message
				FROM discovery_queue
				WHERE status = 'pending'
				ORDER BY priority DESC, discovered_at ASC
				LIMIT ? FOR UPDATE`, n)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return nil
			}

			ids := make([]interface{}, len(entries))
			for i := range entries {
				ids[i] = entries[i].ID
			}
			query := fmt.Sprintf(`
				UPDATE discovery_queue
				SET status = 'processing', processed_at = NOW()
				WHERE id IN (%v)`, placeholders(len(ids)))
			if _, err := tx.ExecContext(ctx, query, ids...); err != nil {
				return err
			}

			now := time.Now()
			for i := range entries {
				entries[i].Status = crawler.StatusProcessing
				entries[i].ProcessedAt = &now
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		s.logger.Debug("leased queue batch", zap.Int("count", len(entries)))
	}
	return entries, nil
}

// Complete finishes a leased entry. The WHERE status = 'processing' guard
// makes the transition a no-op for rows a sweeper already reclaimed, so a
// slow worker cannot overwrite someone else's fresh lease outcome.
func (s *Store) Complete(ctx context.Context, id int64, ok bool, errMsg string) error {
	status := crawler.StatusCompleted
	var stored interface{}
	if !ok {
		status = crawler.StatusFailed
		stored = truncateError(errMsg)
	}
	return s.withRetry(ctx, "complete", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE discovery_queue
			SET status = ?, processed_at = NOW(), error_message = ?
			WHERE id = ? AND status = 'processing'`, status, stored, id)
		return err
	})
}

// Skip marks a leased entry skipped with a policy reason. Skips are not
// failures; they record that the crawl chose not to process the URL.
func (s *Store) Skip(ctx context.Context, id int64, reason string) error {
	return s.withRetry(ctx, "skip", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE discovery_queue
			SET status = 'skipped', processed_at = NOW(), error_message = ?
			WHERE id = ? AND status = 'processing'`, truncateError(reason), id)
		return err
	})
}

// Interrupt returns leased entries to pending, clearing their lease
// timestamps. Called on shutdown for items the agent leased but will not
// finish.
func (s *Store) Interrupt(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf(`
		UPDATE discovery_queue
		SET status = 'pending', processed_at = NULL, error_message = NULL
		WHERE id IN (%v) AND status = 'processing'`, placeholders(len(args)))
	return s.withRetry(ctx, "interrupt", func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// SweepStuck reclaims processing rows whose lease started before the
// threshold, returning them to pending. This is how the queue self-heals
// after an agent crash: any surviving agent can run the sweep.
func (s *Store) SweepStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	var count int64
	err := s.withRetry(ctx, "sweep stuck", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE discovery_queue
			SET status = 'pending', processed_at = NULL,
			    error_message = 'Reset from stuck processing status'
			WHERE status = 'processing' AND processed_at < NOW() - INTERVAL ? SECOND`,
			int64(olderThan.Seconds()))
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

// CountStuck reports how many rows SweepStuck would reset, for the sweep
// command's dry-run and stats modes.
func (s *Store) CountStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	var count int64
	err := s.withRetry(ctx, "count stuck", func() error {
		return s.db.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM discovery_queue
			WHERE status = 'processing' AND processed_at < NOW() - INTERVAL ? SECOND`,
			int64(olderThan.Seconds()))
	})
	return count, err
}

// IsActivelyQueued reports whether any entry with this URL is pending or
// processing. This check plus the unique url key is the authoritative
// cross-agent dedup; there is deliberately no in-memory equivalent.
func (s *Store) IsActivelyQueued(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `
		SELECT 1 FROM discovery_queue
		WHERE url = ? AND status IN ('pending', 'processing')
		LIMIT 1`, url)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stats summarizes the queue by status.
func (s *Store) Stats(ctx context.Context) (crawler.QueueStats, error) {
	var stats crawler.QueueStats
	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM discovery_queue GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch crawler.QueueStatus(status) {
		case crawler.StatusPending:
			stats.Pending = count
		case crawler.StatusProcessing:
			stats.Processing = count
		case crawler.StatusCompleted:
			stats.Completed = count
		case crawler.StatusFailed:
			stats.Failed = count
		case crawler.StatusSkipped:
			stats.Skipped = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func truncateError(msg string) string {
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen]
	}
	return msg
}

package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Rabenherz112/map-the-net-crawler/semaphore"
)

// ErrItemTimeout is installed as the cancellation cause of an entry's
// context when the per-item hard timeout expires. The collector uses it to
// tell a hung URL, which fails, from worker shutdown, which interrupts the
// entry back to pending.
var ErrItemTimeout = errors.New("item processing timeout")

// WorkerManager runs a crawl: it sweeps stale leases left by crashed
// agents, spawns the configured number of workers, and coordinates their
// shutdown. Every worker opens its own store handles through the factory
// and owns its own Collector, so the hot path shares nothing between
// workers but the fetcher's connection pool.
type WorkerManager struct {
	// Factory opens the store handles for one worker.
	Factory StoreFactory
	// Enricher may be nil, which disables enrichment in every worker.
	Enricher Enricher
	// Fetcher is shared by all workers. Nil means build one from config.
	Fetcher *Fetcher
	Logger  *zap.Logger

	// Continuous keeps workers polling after the queue drains instead of
	// exiting. This is the service mode; a one-shot run drains and stops.
	Continuous bool
	// MaxItems stops the run after roughly this many processed entries
	// across all workers. Zero takes Crawler.MaxItems from config for
	// one-shot runs; continuous runs and negative values have no limit.
	MaxItems int
	// NoDiscoveries is passed through to every collector.
	NoDiscoveries bool

	workers     int
	batchSize   int
	queueWait   time.Duration
	itemTimeout time.Duration
	stuckAfter  time.Duration

	processed atomic.Int64
	busy      *semaphore.Semaphore
	once      sync.Once
}

func (m *WorkerManager) init() {
	m.once.Do(func() {
		if m.Logger == nil {
			m.Logger = zap.NewNop()
		}
		if m.Fetcher == nil {
			m.Fetcher = NewFetcher()
		}
		m.busy = semaphore.New()
		m.workers = Config.Crawler.Workers
		m.batchSize = Config.Crawler.BatchSize
		m.queueWait = Duration(Config.Crawler.QueueWait, 30*time.Second)
		m.itemTimeout = Duration(Config.Crawler.ItemTimeout, 5*time.Minute)
		m.stuckAfter = Duration(Config.Crawler.StuckThreshold, 5*time.Minute)
		if m.MaxItems == 0 && !m.Continuous {
			m.MaxItems = Config.Crawler.MaxItems
		}
	})
}

// Run executes the crawl until the queue drains (one-shot), the item limit
// is reached, or the context is canceled. Cancellation is a graceful
// shutdown, not an error: in-flight entries finish or are interrupted back
// to pending, and Run returns nil.
func (m *WorkerManager) Run(ctx context.Context) error {
	m.init()

	if err := m.sweep(ctx); err != nil {
		return err
	}

	m.Logger.Info("starting workers",
		zap.Int("workers", m.workers),
		zap.Bool("continuous", m.Continuous))

	var wg sync.WaitGroup
	errs := make(chan error, m.workers)
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := m.worker(ctx, id)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	m.Logger.Info("workers finished", zap.Int64("processed", m.processed.Load()))
	for err := range errs {
		return err
	}
	return nil
}

// Processed returns how many entries this run has finished so far.
func (m *WorkerManager) Processed() int64 {
	return m.processed.Load()
}

// Busy returns how many entries are being processed right now.
func (m *WorkerManager) Busy() int {
	m.init()
	return m.busy.Count()
}

// sweep returns entries stuck in processing to pending before any worker
// starts, so work orphaned by a crashed agent rejoins the queue.
func (m *WorkerManager) sweep(ctx context.Context) error {
	queue, _, closer, err := m.Factory()
	if err != nil {
		return fmt.Errorf("open store for sweep: %w", err)
	}
	defer closer.Close()

	n, err := queue.SweepStuck(ctx, m.stuckAfter)
	if err != nil {
		return fmt.Errorf("sweep stuck entries: %w", err)
	}
	if n > 0 {
		m.Logger.Info("reset stuck queue entries", zap.Int64("count", n))
	}
	return nil
}

func (m *WorkerManager) worker(ctx context.Context, id int) error {
	queue, domains, closer, err := m.Factory()
	if err != nil {
		return fmt.Errorf("worker %v: open stores: %w", id, err)
	}
	defer closer.Close()

	log := m.Logger.With(zap.Int("worker", id))
	col := NewCollector(queue, domains, m.Enricher, m.Fetcher, log)
	col.NoDiscoveries = m.NoDiscoveries
	log.Debug("worker started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.reachedLimit() {
			log.Debug("item limit reached")
			return nil
		}

		entries, err := queue.LeaseBatch(ctx, m.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("failed to lease batch", zap.Error(err))
			if !m.idle(ctx) {
				return ctx.Err()
			}
			continue
		}
		if len(entries) == 0 {
			if !m.Continuous {
				log.Debug("queue drained")
				return nil
			}
			if !m.idle(ctx) {
				return ctx.Err()
			}
			continue
		}

		for i, entry := range entries {
			if ctx.Err() != nil || m.reachedLimit() {
				m.release(queue, entries[i:], log)
				return ctx.Err()
			}
			m.busy.Add(1)
			ictx, cancel := context.WithTimeoutCause(ctx, m.itemTimeout, ErrItemTimeout)
			perr := col.Process(ictx, entry)
			cancel()
			m.busy.Done()
			if perr != nil && ctx.Err() != nil {
				m.release(queue, entries[i+1:], log)
				return ctx.Err()
			}
			m.processed.Add(1)
		}
	}
}

func (m *WorkerManager) reachedLimit() bool {
	return m.MaxItems > 0 && m.processed.Load() >= int64(m.MaxItems)
}

// idle waits the queue-wait interval in one-second ticks, returning false
// when the context is canceled first.
func (m *WorkerManager) idle(ctx context.Context) bool {
	remaining := m.queueWait
	for remaining > 0 {
		chunk := remaining
		if chunk > time.Second {
			chunk = time.Second
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(chunk):
		}
		remaining -= chunk
	}
	return true
}

// release returns leased entries this worker will not process to pending.
func (m *WorkerManager) release(queue QueueStore, entries []QueueEntry, log *zap.Logger) {
	if len(entries) == 0 {
		return
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	ctx, cancel := detachedContext()
	defer cancel()
	if err := queue.Interrupt(ctx, ids); err != nil {
		log.Warn("failed to return leased entries", zap.Error(err))
		return
	}
	log.Info("returned unprocessed leased entries", zap.Int("count", len(ids)))
}

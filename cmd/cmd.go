/*
Package cmd provides the crawler's command line interface.

The default binary wires MySQL stores and the network enricher and needs
only:

	func main() {
		cmd.Execute()
	}

Custom binaries can swap in their own stores or enricher before executing:

	func main() {
		cmd.Stores(myFactory)
		cmd.Enricher(myEnricher)
		cmd.Execute()
	}

Execute blocks until the selected command finishes. The long-running
commands (crawl, process, console) stop gracefully on the first SIGINT or
SIGTERM and force-exit after repeated signals.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
	"github.com/Rabenherz112/map-the-net-crawler/console"
	"github.com/Rabenherz112/map-the-net-crawler/enrich"
	"github.com/Rabenherz112/map-the-net-crawler/mysql"
)

//
// P U B L I C
//

// Stores sets the store factory for this process. Tests and custom binaries
// inject non-MySQL stores here.
func Stores(f crawler.StoreFactory) {
	commander.Factory = f
}

// Enricher sets the enricher for this process. Passing nil disables
// enrichment entirely.
func Enricher(e crawler.Enricher) {
	commander.Enricher = e
	commander.enricherSet = true
}

// Fetcher sets the HTTP fetcher shared by all workers. Tests inject one
// with a canned transport; the default builds a real fetcher from config.
func Fetcher(f *crawler.Fetcher) {
	commander.Fetcher = f
}

// CommanderStreams holds the i/o functions that the test harness can spoof.
// This is useful since (a) the test harness modifies the normal
// stdout/stderr streams, and capturing them again causes strange behavior,
// and (b) there is no good way to spoof os.Exit short of this layer of
// indirection.
type CommanderStreams struct {
	Printf func(format string, args ...interface{})
	Errorf func(format string, args ...interface{})
	Exit   func(status int)
}

// Streams allows the user to set the global CommanderStreams object.
func Streams(cstream CommanderStreams) CommanderStreams {
	old := commander.Streams
	commander.Streams = cstream
	return old
}

// Execute runs the command specified by the command line.
func Execute() {
	commander.Execute()
}

//
// P R I V A T E
//

var commander struct {
	*cobra.Command
	Factory     crawler.StoreFactory
	Enricher    crawler.Enricher
	Fetcher     *crawler.Fetcher
	enricherSet bool
	Streams     CommanderStreams
}

// seedPriority is the queue priority given to seeds, well above the
// priority of discovered URLs so seeds are leased first.
const seedPriority = 10

var (
	configPath         string
	forceShutdownAfter int

	// crawl/process tuning flags. Zero (or -1 for max-depth) means "keep
	// the config value"; anything else overrides it for this run.
	runWorkers   int
	runBatchSize int
	runMaxDepth  int
	runAddSeeds  []string

	sweepTimeoutMinutes int
	sweepDryRun         bool
	sweepStatsOnly      bool
)

func initCommand() {
	// With no --config this falls back to crawler.yaml in the working
	// directory, and quietly uses defaults when that is missing too.
	if err := crawler.LoadConfig(configPath); err != nil {
		panic(err.Error())
	}

	if commander.Streams.Printf == nil {
		commander.Streams.Printf = func(format string, args ...interface{}) {
			fmt.Printf(format, args...)
		}
	}
	if commander.Streams.Errorf == nil {
		commander.Streams.Errorf = func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, format, args...)
		}
	}
	if commander.Streams.Exit == nil {
		commander.Streams.Exit = func(status int) {
			os.Exit(status)
		}
	}
}

func fatalf(format string, args ...interface{}) {
	commander.Streams.Errorf(format+"\n", args...)
	commander.Streams.Exit(1)
}

func mustLogger() *zap.Logger {
	logger, err := crawler.NewLogger()
	if err != nil {
		fatalf("Failed to build logger: %v", err)
		return zap.NewNop()
	}
	return logger
}

// storeFactory returns the injected factory, or one that opens a fresh
// MySQL store handle per worker.
func storeFactory(logger *zap.Logger) crawler.StoreFactory {
	if commander.Factory != nil {
		return commander.Factory
	}
	return func() (crawler.QueueStore, crawler.DomainStore, io.Closer, error) {
		store, err := mysql.NewStore(logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store, nil
	}
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// buildEnricher returns the injected enricher, or the real network
// enricher. The caller owns the returned closer.
func buildEnricher(logger *zap.Logger) (crawler.Enricher, io.Closer) {
	if commander.enricherSet {
		return commander.Enricher, noopCloser{}
	}
	e := enrich.New(logger)
	return e, e
}

// registerRunFlags adds the worker tuning and seeding flags shared by the
// crawl and process commands.
func registerRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&runWorkers, "workers", 0,
		"override crawler.workers from config")
	cmd.Flags().IntVar(&runBatchSize, "batch-size", 0,
		"override crawler.batch_size from config")
	cmd.Flags().IntVar(&runMaxDepth, "max-depth", -1,
		"override crawler.max_depth from config")
	cmd.Flags().StringSliceVar(&runAddSeeds, "add-seeds", nil,
		"seed URLs to enqueue before the run starts")
}

// applyRunOverrides folds the crawl/process tuning flags into the loaded
// config before the worker manager reads it.
func applyRunOverrides() {
	if runWorkers > 0 {
		crawler.Config.Crawler.Workers = runWorkers
	}
	if runBatchSize > 0 {
		crawler.Config.Crawler.BatchSize = runBatchSize
	}
	if runMaxDepth >= 0 {
		crawler.Config.Crawler.MaxDepth = runMaxDepth
	}
}

// addSeeds inserts the given URLs into the queue at depth zero.
func addSeeds(factory crawler.StoreFactory, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	items := make([]crawler.QueueItem, 0, len(urls))
	for _, raw := range urls {
		u, err := crawler.ParseAndCanonicalizeURL(raw)
		if err != nil {
			return fmt.Errorf("could not parse %v as a url: %v", raw, err)
		}
		if !u.IsHTTP() || !crawler.IsValidDomain(u.DomainName()) {
			return fmt.Errorf("%v is not a crawlable http(s) url", raw)
		}
		items = append(items, crawler.QueueItem{
			URL:        u.String(),
			DomainName: u.DomainName(),
			Priority:   seedPriority,
			Depth:      0,
		})
	}
	queue, _, closer, err := factory()
	if err != nil {
		return err
	}
	defer closer.Close()
	_, err = queue.Enqueue(context.Background(), items)
	return err
}

// readSeedFile loads one URL per line, skipping blanks and # comments.
func readSeedFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, nil
}

// signalContext returns a context canceled by the first SIGINT or SIGTERM.
// Further signals are counted and the process force-exits once
// forceShutdownAfter of them have arrived.
func signalContext(logger *zap.Logger, exit func(int)) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		count := 0
		for range sig {
			count++
			switch {
			case count == 1:
				logger.Info("shutdown requested, draining workers")
				cancel()
			case count >= forceShutdownAfter:
				logger.Error("forced shutdown")
				exit(1)
				return
			default:
				logger.Warn("still draining, repeat signal to force shutdown",
					zap.Int("signals", count),
					zap.Int("force_at", forceShutdownAfter))
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sig)
		close(sig)
		cancel()
	}
}

func init() {
	rootCommand := &cobra.Command{
		Use: "crawler",
	}
	rootCommand.PersistentFlags().StringVarP(&configPath,
		"config", "c", "", "path to a config file to load")
	rootCommand.PersistentFlags().IntVar(&forceShutdownAfter,
		"force-shutdown-after", 3, "force exit after this many interrupt signals")

	var crawlNoConsole bool
	var crawlNoDiscoveries bool
	crawlCommand := &cobra.Command{
		Use:   "crawl",
		Short: "run the crawler service: continuous workers plus the status console",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			applyRunOverrides()
			logger := mustLogger()
			defer logger.Sync()

			factory := storeFactory(logger)
			enricher, encloser := buildEnricher(logger)
			defer encloser.Close()

			if err := addSeeds(factory, runAddSeeds); err != nil {
				fatalf("Failed to add seeds: %v", err)
				return
			}

			mgr := &crawler.WorkerManager{
				Factory:       factory,
				Enricher:      enricher,
				Fetcher:       commander.Fetcher,
				Logger:        logger,
				Continuous:    true,
				NoDiscoveries: crawlNoDiscoveries,
			}

			ctx, cleanup := signalContext(logger, commander.Streams.Exit)
			defer cleanup()

			var con *console.Server
			if !crawlNoConsole {
				queue, domains, closer, err := factory()
				if err != nil {
					fatalf("Failed to open stores for console: %v", err)
					return
				}
				defer closer.Close()
				con = console.New(queue, domains, logger)
				go func() {
					if err := con.Start(); err != nil {
						logger.Error("console failed", zap.Error(err))
					}
				}()
			}

			err := mgr.Run(ctx)
			if con != nil {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				con.Stop(sctx)
				scancel()
			}
			if err != nil {
				fatalf("Crawl failed: %v", err)
				return
			}
			commander.Streams.Printf("Processed %v entries\n", mgr.Processed())
		},
	}
	crawlCommand.Flags().BoolVarP(&crawlNoConsole, "no-console", "C", false,
		"do not start the status console")
	crawlCommand.Flags().BoolVar(&crawlNoDiscoveries, "no-discoveries", false,
		"record relationships but do not enqueue discovered URLs")
	registerRunFlags(crawlCommand)
	rootCommand.AddCommand(crawlCommand)

	var processMaxItems int
	var processNoDiscoveries bool
	processCommand := &cobra.Command{
		Use:   "process",
		Short: "drain the queue once and exit",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			applyRunOverrides()
			logger := mustLogger()
			defer logger.Sync()

			factory := storeFactory(logger)
			enricher, encloser := buildEnricher(logger)
			defer encloser.Close()

			if err := addSeeds(factory, runAddSeeds); err != nil {
				fatalf("Failed to add seeds: %v", err)
				return
			}

			mgr := &crawler.WorkerManager{
				Factory:       factory,
				Enricher:      enricher,
				Fetcher:       commander.Fetcher,
				Logger:        logger,
				MaxItems:      processMaxItems,
				NoDiscoveries: processNoDiscoveries,
			}

			ctx, cleanup := signalContext(logger, commander.Streams.Exit)
			defer cleanup()

			if err := mgr.Run(ctx); err != nil {
				fatalf("Processing failed: %v", err)
				return
			}
			commander.Streams.Printf("Processed %v entries\n", mgr.Processed())
		},
	}
	processCommand.Flags().IntVarP(&processMaxItems, "max-items", "n", 0,
		"stop after processing this many entries (0 = crawler.max_items from config, negative = no limit)")
	processCommand.Flags().BoolVar(&processNoDiscoveries, "no-discoveries", false,
		"record relationships but do not enqueue discovered URLs")
	registerRunFlags(processCommand)
	rootCommand.AddCommand(processCommand)

	var seedURL string
	var seedFile string
	var seedPrio int
	seedCommand := &cobra.Command{
		Use:   "seed [url ...]",
		Short: "add seed URLs to the queue",
		Long: `Seed inserts URLs into the discovery queue at depth zero. URLs come
from the arguments, from --url, or from a file with one URL per line. Seeds
default to a high priority so they are leased ahead of discovered URLs.`,
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			logger := mustLogger()
			defer logger.Sync()

			urls := append([]string{}, args...)
			if seedURL != "" {
				urls = append(urls, seedURL)
			}
			if seedFile != "" {
				fromFile, err := readSeedFile(seedFile)
				if err != nil {
					fatalf("Failed to read %v: %v", seedFile, err)
					return
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				fatalf("Seed URLs needed to execute; pass them as arguments, --url/-u, or --file/-f")
				return
			}

			queue, _, closer, err := storeFactory(logger)()
			if err != nil {
				fatalf("Failed to open stores: %v", err)
				return
			}
			defer closer.Close()

			for _, raw := range urls {
				u, err := crawler.ParseAndCanonicalizeURL(raw)
				if err != nil {
					fatalf("Could not parse %v as a url: %v", raw, err)
					return
				}
				if !u.IsHTTP() || !crawler.IsValidDomain(u.DomainName()) {
					fatalf("%v is not a crawlable http(s) url", raw)
					return
				}
				inserted, err := queue.Enqueue(context.Background(), []crawler.QueueItem{{
					URL:        u.String(),
					DomainName: u.DomainName(),
					Priority:   seedPrio,
					Depth:      0,
				}})
				if err != nil {
					fatalf("Failed to enqueue %v: %v", u, err)
					return
				}
				if inserted == 0 {
					commander.Streams.Printf("%v was already queued\n", u)
					continue
				}
				commander.Streams.Printf("Seeded %v\n", u)
			}
		},
	}
	seedCommand.Flags().StringVarP(&seedURL, "url", "u", "", "URL to add as a seed")
	seedCommand.Flags().StringVarP(&seedFile, "file", "f", "", "file of seed URLs, one per line")
	seedCommand.Flags().IntVarP(&seedPrio, "priority", "p", seedPriority, "queue priority for the seeds")
	rootCommand.AddCommand(seedCommand)

	sweepCommand := &cobra.Command{
		Use:   "sweep",
		Short: "reset queue entries stuck in processing",
		Long: `Sweep returns every queue entry whose processing lease is older than
the stuck threshold to pending. The crawl and process commands do this
automatically at startup; sweep is for recovering by hand. --dry-run and
--stats-only only report; --timeout-minutes overrides the threshold.`,
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			logger := mustLogger()
			defer logger.Sync()

			queue, _, closer, err := storeFactory(logger)()
			if err != nil {
				fatalf("Failed to open stores: %v", err)
				return
			}
			defer closer.Close()

			threshold := crawler.Duration(crawler.Config.Crawler.StuckThreshold, 5*time.Minute)
			if sweepTimeoutMinutes > 0 {
				threshold = time.Duration(sweepTimeoutMinutes) * time.Minute
			}
			ctx := context.Background()

			if sweepStatsOnly {
				stats, err := queue.Stats(ctx)
				if err != nil {
					fatalf("Stats failed: %v", err)
					return
				}
				stuck, err := queue.CountStuck(ctx, threshold)
				if err != nil {
					fatalf("Stuck count failed: %v", err)
					return
				}
				commander.Streams.Printf(
					"Queue: %v pending, %v processing (%v stuck), %v completed, %v failed, %v skipped\n",
					stats.Pending, stats.Processing, stuck, stats.Completed,
					stats.Failed, stats.Skipped)
				return
			}
			if sweepDryRun {
				stuck, err := queue.CountStuck(ctx, threshold)
				if err != nil {
					fatalf("Stuck count failed: %v", err)
					return
				}
				commander.Streams.Printf("Would reset %v stuck entries\n", stuck)
				return
			}

			n, err := queue.SweepStuck(ctx, threshold)
			if err != nil {
				fatalf("Sweep failed: %v", err)
				return
			}
			commander.Streams.Printf("Reset %v stuck entries\n", n)
		},
	}
	sweepCommand.Flags().IntVar(&sweepTimeoutMinutes, "timeout-minutes", 0,
		"treat leases older than this many minutes as stuck (0 = crawler.stuck_threshold from config)")
	sweepCommand.Flags().BoolVar(&sweepDryRun, "dry-run", false,
		"report what would be reset without resetting anything")
	sweepCommand.Flags().BoolVar(&sweepStatsOnly, "stats-only", false,
		"print queue statistics and exit")
	rootCommand.AddCommand(sweepCommand)

	var wipeYes bool
	wipeCommand := &cobra.Command{
		Use:   "wipe",
		Short: "erase all crawler data from the database",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			logger := mustLogger()
			defer logger.Sync()

			if !wipeYes {
				fatalf("Refusing to wipe %v without --yes", crawler.Config.Database.Name)
				return
			}
			store, err := mysql.NewStore(logger)
			if err != nil {
				fatalf("Failed to connect: %v", err)
				return
			}
			defer store.Close()
			if err := store.Wipe(context.Background()); err != nil {
				fatalf("Wipe failed: %v", err)
				return
			}
			commander.Streams.Printf("Wiped database %v\n", crawler.Config.Database.Name)
		},
	}
	wipeCommand.Flags().BoolVar(&wipeYes, "yes", false, "confirm the wipe")
	rootCommand.AddCommand(wipeCommand)

	var schemaOut string
	schemaCommand := &cobra.Command{
		Use:   "schema",
		Short: "output the crawler's MySQL schema",
		Long: `Schema prints the CREATE TABLE statements the crawler expects.
Useful for something like:
    $ crawler schema -o schema.sql
    $ <edit schema.sql further as desired>
    $ mysql domain_network < schema.sql`,
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			schema := mysql.Schema()
			if schemaOut == "" {
				commander.Streams.Printf("%v", schema)
				return
			}
			out, err := os.Create(schemaOut)
			if err != nil {
				fatalf("Failed to create %v: %v", schemaOut, err)
				return
			}
			defer out.Close()
			fmt.Fprint(out, schema)
		},
	}
	schemaCommand.Flags().StringVarP(&schemaOut, "out", "o", "", "file to write output to (default stdout)")
	rootCommand.AddCommand(schemaCommand)

	consoleCommand := &cobra.Command{
		Use:   "console",
		Short: "serve only the status console",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			logger := mustLogger()
			defer logger.Sync()

			queue, domains, closer, err := storeFactory(logger)()
			if err != nil {
				fatalf("Failed to open stores: %v", err)
				return
			}
			defer closer.Close()

			ctx, cleanup := signalContext(logger, commander.Streams.Exit)
			defer cleanup()

			con := console.New(queue, domains, logger)
			go func() {
				<-ctx.Done()
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				con.Stop(sctx)
				scancel()
			}()
			if err := con.Start(); err != nil {
				fatalf("Console failed: %v", err)
			}
		},
	}
	rootCommand.AddCommand(consoleCommand)

	commander.Command = rootCommand
}

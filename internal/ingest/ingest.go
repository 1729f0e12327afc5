// Package ingest drives the scan-and-insert loop: a single periodic tick
// scans both log sources sequentially and feeds their events into the ledger,
// plus a daily retention job.
package ingest

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/zhaobenny/agenttop/internal/ledger"
	"github.com/zhaobenny/agenttop/internal/model"
)

// Source is the scanner boundary the driver consumes.
type Source interface {
	Scan() []model.UsageEvent
}

type source struct {
	name     string
	provider model.Provider
	scanner  Source
}

// Options configures the driver.
type Options struct {
	// Interval between scan ticks.
	Interval time.Duration

	// RetentionDays drops records older than this; 0 disables cleanup.
	RetentionDays int

	// CleanupSchedule is a cron expression for the retention job.
	CleanupSchedule string
}

// DefaultOptions returns the driver defaults: scan every 30 seconds, keep 90
// days of records, prune daily at 03:00.
func DefaultOptions() Options {
	return Options{
		Interval:        30 * time.Second,
		RetentionDays:   90,
		CleanupSchedule: "0 3 * * *",
	}
}

// Driver owns the periodic ingestion loop. All scanning and inserting within
// one tick is sequential; log volumes are small and I/O latency is not the
// bottleneck.
type Driver struct {
	db      *ledger.DB
	sources []source
	opts    Options
	cron    *cron.Cron
	stop    chan struct{}
	done    chan struct{}
	log     zerolog.Logger
}

// New creates a driver over the given ledger and scanners. Either scanner
// may be nil to disable that source.
func New(db *ledger.DB, claude, codex Source, opts Options, log zerolog.Logger) *Driver {
	d := &Driver{
		db:   db,
		opts: opts,
		log:  log,
	}
	if claude != nil {
		d.sources = append(d.sources, source{name: "claude-code", provider: model.ProviderAnthropic, scanner: claude})
	}
	if codex != nil {
		d.sources = append(d.sources, source{name: "codex-cli", provider: model.ProviderOpenAI, scanner: codex})
	}
	return d
}

// Start launches the ingestion loop and the retention schedule. It returns
// immediately; use Stop to shut down.
func (d *Driver) Start() {
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	if d.opts.RetentionDays > 0 {
		d.cron = cron.New()
		d.cron.AddFunc(d.opts.CleanupSchedule, d.cleanup)
		d.cron.Start()
	}

	go d.run()
}

// Stop shuts the loop down and waits for an in-flight tick to finish.
func (d *Driver) Stop() {
	close(d.stop)
	<-d.done
	if d.cron != nil {
		d.cron.Stop()
	}
}

func (d *Driver) run() {
	defer close(d.done)

	// Scan immediately on start, then on every tick.
	d.Tick()

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Tick()
		case <-d.stop:
			return
		}
	}
}

// Tick runs one scan-and-insert pass over all sources.
func (d *Driver) Tick() {
	for _, src := range d.sources {
		events := src.scanner.Scan()
		if len(events) == 0 {
			continue
		}

		inserted, err := d.db.InsertEvents(events, src.provider, src.name)
		if err != nil {
			d.log.Error().Err(err).Str("source", src.name).Msg("failed to insert usage events")
			continue
		}
		if inserted > 0 {
			d.log.Debug().Str("source", src.name).
				Int("scanned", len(events)).Int64("inserted", inserted).
				Msg("ingested usage events")
		}
	}
}

func (d *Driver) cleanup() {
	deleted, err := d.db.CleanupOldData(d.opts.RetentionDays)
	if err != nil {
		d.log.Error().Err(err).Msg("retention cleanup failed")
		return
	}
	if deleted > 0 {
		d.log.Info().Int64("deleted", deleted).
			Int("retention_days", d.opts.RetentionDays).
			Msg("removed expired usage records")
	}
}

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"steam-sales-notifier/match"
	"steam-sales-notifier/pkg/sales"
)

// Source produces one candidate batch per scan plus the expected total as
// reported by the catalog page (-1 when unknown).
type Source interface {
	Scan(ctx context.Context) (listings []sales.Listing, expectedCount int, err error)
}

// Catalog is the durable current-snapshot table.
type Catalog interface {
	Listings(ctx context.Context) ([]sales.Listing, error)
	ReplaceAll(ctx context.Context, listings []sales.Listing) error
}

// Registry exposes the subscription reads the matcher needs.
type Registry interface {
	GeneralSubscribers(ctx context.Context) ([]int64, error)
	Watches(ctx context.Context) ([]sales.Watch, error)
}

// Alerter receives per-recipient delivery obligations. Enqueue must be safe
// to call from the scan goroutine and must never block on delivery.
type Alerter interface {
	Enqueue(chatID int64, listings []sales.Listing)
}

// Options tunes the scan loop.
type Options struct {
	Interval          time.Duration // Normal scan period
	Backoff           time.Duration // Retry delay after a rejected or failed scan
	ToleranceFraction float64
	AlertOnFirstRun   bool // Alert subscribers with the entire initial catalog
}

// Monitor owns the scan domain: it polls the source, validates and diffs each
// batch, refreshes the snapshot, and hands delivery obligations to the
// dispatcher. Cycles are sequential; a new cycle never starts before the
// previous one's store write and enqueue have completed.
type Monitor struct {
	source   Source
	catalog  Catalog
	registry Registry
	alerter  Alerter
	logger   *slog.Logger
	opts     Options

	// after is the timer source; tests replace it to avoid wall-clock sleeps.
	after func(time.Duration) <-chan time.Time

	runMu sync.Mutex // serializes cycles triggered by the loop and by /pollz
}

// NewMonitor wires the scan-domain pipeline.
func NewMonitor(source Source, catalog Catalog, registry Registry, alerter Alerter, logger *slog.Logger, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Minute
	}
	if opts.ToleranceFraction <= 0 {
		opts.ToleranceFraction = DefaultToleranceFraction
	}
	return &Monitor{
		source:   source,
		catalog:  catalog,
		registry: registry,
		alerter:  alerter,
		logger:   logger,
		opts:     opts,
		after:    time.After,
	}
}

// Run executes scan cycles until ctx is cancelled. Successful cycles sleep
// the full interval; rejected or failed scans retry after the short backoff.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Surveillance loop started",
		"interval", m.opts.Interval.String(),
		"backoff", m.opts.Backoff.String())

	for {
		delay := m.opts.Interval

		err := m.Cycle(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			m.logger.Info("Surveillance loop stopped", "error", ctx.Err())
			return
		case IsReject(err):
			delay = m.opts.Backoff
			m.logger.Warn("Scan rejected, retrying soon", "error", err, "retry_in", delay.String())
		default:
			m.logger.Error("Scan cycle failed, snapshot left intact", "error", err)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("Surveillance loop stopped", "error", ctx.Err())
			return
		case <-m.after(delay):
		}
	}
}

// Cycle performs one scan: fetch, validate, diff against the snapshot being
// replaced, commit the new snapshot, then enqueue alerts for the diff.
func (m *Monitor) Cycle(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	batch, expected, err := m.source.Scan(ctx)
	if err != nil {
		// Transient source failures are handled like any rejected batch.
		return &RejectError{Reason: "source scan failed", Err: err}
	}

	previous, err := m.catalog.Listings(ctx)
	if err != nil {
		return fmt.Errorf("read previous snapshot: %w", err)
	}

	if err := Validate(batch, expected, len(previous) > 0, m.opts.ToleranceFraction); err != nil {
		return err
	}

	// Diff must run before the commit: it compares against the exact
	// snapshot the store is about to discard.
	fresh := Diff(previous, batch)

	if err := m.catalog.ReplaceAll(ctx, batch); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	if len(previous) == 0 && !m.opts.AlertOnFirstRun {
		m.logger.Info("Initial snapshot stored, cold-start alerts suppressed", "listings", len(batch))
		return nil
	}

	if len(fresh) == 0 {
		m.logger.Info("Scan cycle completed", "listings", len(batch), "new", 0)
		return nil
	}

	general, err := m.registry.GeneralSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("list general subscribers: %w", err)
	}
	watches, err := m.registry.Watches(ctx)
	if err != nil {
		return fmt.Errorf("list watches: %w", err)
	}

	obligations := match.Match(fresh, general, watches)
	for chatID, listings := range obligations {
		m.alerter.Enqueue(chatID, listings)
	}

	m.logger.Info("Scan cycle completed",
		"listings", len(batch),
		"new", len(fresh),
		"recipients", len(obligations))
	return nil
}

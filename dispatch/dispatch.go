// Package dispatch implements the throttled per-recipient alert queues that
// bridge the scan goroutine and the Telegram frontend's event loop.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"steam-sales-notifier/pkg/sales"
)

// DefaultMaxAttempts bounds delivery retries before an entry is dropped.
const DefaultMaxAttempts = 3

// Entry is one queued delivery obligation.
type Entry struct {
	ID         string
	ChatID     int64
	Listing    sales.Listing
	EnqueuedAt time.Time

	attempts int
}

// DeliverFunc sends one listing to one recipient.
type DeliverFunc func(ctx context.Context, chatID int64, listing sales.Listing) error

// Dispatcher holds an ordered FIFO queue per recipient. Enqueue is called
// from the scan goroutine; DrainTick runs inside the delivery domain on a
// fixed period and pops at most one entry per recipient per tick, bounding
// the outbound rate and keeping drains fair across recipients.
type Dispatcher struct {
	mu          sync.Mutex
	queues      map[int64][]*Entry
	maxAttempts int
	logger      *slog.Logger

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a dispatcher with empty queues.
func New(maxAttempts int, logger *slog.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		queues:      make(map[int64][]*Entry),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Enqueue appends listings to the tail of the recipient's queue. It only
// takes the internal mutex, never a delivery-side lock, so the scan goroutine
// cannot be blocked by slow sends.
func (d *Dispatcher) Enqueue(chatID int64, listings []sales.Listing) {
	if len(listings) == 0 {
		return
	}

	now := time.Now()
	entries := make([]*Entry, 0, len(listings))
	for _, l := range listings {
		entries = append(entries, &Entry{
			ID:         uuid.NewString(),
			ChatID:     chatID,
			Listing:    l,
			EnqueuedAt: now,
		})
	}

	d.mu.Lock()
	d.queues[chatID] = append(d.queues[chatID], entries...)
	depth := len(d.queues[chatID])
	d.mu.Unlock()

	d.enqueued.Add(uint64(len(entries)))
	d.logger.Debug("Alerts enqueued", "chat_id", chatID, "count", len(entries), "queue_depth", depth)
}

// DrainTick pops exactly one entry per non-empty recipient queue and submits
// it through deliver. A failed delivery is requeued at the head for the next
// tick; after maxAttempts the entry is dropped and the failure reported.
// Delivery runs outside the dispatcher lock.
func (d *Dispatcher) DrainTick(ctx context.Context, deliver DeliverFunc) {
	heads := d.popHeads()

	for _, e := range heads {
		if ctx.Err() != nil {
			d.requeueHead(e)
			continue
		}

		if err := deliver(ctx, e.ChatID, e.Listing); err != nil {
			e.attempts++
			if e.attempts >= d.maxAttempts {
				d.dropped.Add(1)
				d.logger.Error("Alert dropped after exhausting retries",
					"chat_id", e.ChatID,
					"entry_id", e.ID,
					"title", e.Listing.Title,
					"attempts", e.attempts,
					"error", err)
				continue
			}
			d.requeueHead(e)
			d.logger.Warn("Delivery failed, requeued at head",
				"chat_id", e.ChatID,
				"entry_id", e.ID,
				"attempt", e.attempts,
				"error", err)
			continue
		}

		d.delivered.Add(1)
	}
}

// popHeads removes the head entry of every non-empty queue.
func (d *Dispatcher) popHeads() []*Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	heads := make([]*Entry, 0, len(d.queues))
	for chatID, q := range d.queues {
		heads = append(heads, q[0])
		if len(q) == 1 {
			delete(d.queues, chatID)
			continue
		}
		d.queues[chatID] = q[1:]
	}
	return heads
}

// requeueHead puts a popped entry back at the front of its queue.
func (d *Dispatcher) requeueHead(e *Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues[e.ChatID] = append([]*Entry{e}, d.queues[e.ChatID]...)
}

// Backlog returns the total number of queued-but-undelivered entries.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, q := range d.queues {
		total += len(q)
	}
	return total
}

// QueueDepth returns the number of entries queued for one recipient.
func (d *Dispatcher) QueueDepth(chatID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[chatID])
}

// Metrics returns counters and backlog size for observability.
func (d *Dispatcher) Metrics() (enqueued, delivered, dropped uint64, backlog int) {
	return d.enqueued.Load(), d.delivered.Load(), d.dropped.Load(), d.Backlog()
}

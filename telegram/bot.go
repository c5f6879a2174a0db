package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"steam-sales-notifier/dispatch"
	"steam-sales-notifier/pkg/sales"
)

// dealsButtonLabel is the free-text shortcut equivalent to /deals.
const dealsButtonLabel = "Discounted Steam Games"

const welcomeText = "Welcome to the Steam Sales Surveillance Bot! 🤖\n" +
	"/deals — first page of current discounts\n" +
	"/more — next page\n" +
	"/latest [n] — first n discounts\n" +
	"/random [n] — n random discounts\n" +
	"/subscribe — alert me on every new discount\n" +
	"/watch <title> — alert me when a title goes on sale\n" +
	"/unwatch <title> — stop watching a title\n" +
	"/watches — list my watched titles\n" +
	"/unsubscribe — remove me and all my watches"

// Catalog is the read surface the bot needs.
type Catalog interface {
	Page(ctx context.Context, limit, offset int) ([]sales.Listing, error)
	Random(ctx context.Context, n int) ([]sales.Listing, error)
	Count(ctx context.Context) (int64, error)
}

// Registry is the subscription surface the bot mutates.
type Registry interface {
	SubscribeGeneral(ctx context.Context, chatID int64) error
	UnsubscribeAll(ctx context.Context, chatID int64) error
	Watch(ctx context.Context, chatID int64, title string) error
	Unwatch(ctx context.Context, chatID int64, title string) error
	WatchesFor(ctx context.Context, chatID int64) ([]string, error)
}

// Drainer pops and delivers queued alerts; the bot owns the tick.
type Drainer interface {
	DrainTick(ctx context.Context, deliver dispatch.DeliverFunc)
}

// Options tunes the bot loop.
type Options struct {
	DrainInterval time.Duration // Fixed period between alert drain ticks
	PageSize      int           // Listings per /deals page
}

// Bot runs the delivery domain: a single event loop that long-polls for
// commands and owns the alert drain ticker. The scan goroutine never calls
// into it; the dispatcher queues are the only bridge.
type Bot struct {
	client     *Client
	catalog    Catalog
	registry   Registry
	dispatcher Drainer
	logger     *slog.Logger
	opts       Options

	mu      sync.Mutex
	offsets map[int64]int // per-chat paging position for /more
}

// NewBot wires the frontend.
func NewBot(client *Client, catalog Catalog, registry Registry, dispatcher Drainer, logger *slog.Logger, opts Options) *Bot {
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 10 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Bot{
		client:     client,
		catalog:    catalog,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
		offsets:    make(map[int64]int),
	}
}

// Run executes the event loop until ctx is cancelled. Command handling that
// touches the store runs in its own goroutine so the loop is never blocked on
// I/O; the drain tick stays on the loop because it is the rate limiter.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("Bot event loop started",
		"drain_interval", b.opts.DrainInterval.String(),
		"page_size", b.opts.PageSize)

	updates := make(chan Update, 16)
	go b.pollUpdates(ctx, updates)

	ticker := time.NewTicker(b.opts.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Bot event loop stopped", "error", ctx.Err())
			return
		case <-ticker.C:
			b.dispatcher.DrainTick(ctx, b.deliver)
		case upd := <-updates:
			if upd.Message == nil {
				continue
			}
			go b.handleMessage(ctx, upd.Message)
		}
	}
}

// pollUpdates long-polls getUpdates and forwards messages to the event loop.
func (b *Bot) pollUpdates(ctx context.Context, out chan<- Update) {
	var offset int64

	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := b.client.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("getUpdates failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			select {
			case out <- upd:
			case <-ctx.Done():
				return
			}
		}
	}
}

// deliver sends one queued alert; used by the drain tick.
func (b *Bot) deliver(ctx context.Context, chatID int64, l sales.Listing) error {
	return b.client.SendMessage(ctx, chatID, FormatAlert(l))
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	chatID := msg.Chat.ID
	cmd, arg := splitCommand(msg.Text)

	switch cmd {
	case "/start":
		b.setOffset(chatID, 0)
		b.reply(ctx, chatID, welcomeText)
	case "/deals":
		b.sendListingPage(ctx, chatID, true)
	case "/more":
		b.sendListingPage(ctx, chatID, false)
	case "/latest":
		b.sendLatest(ctx, chatID, parseCount(arg, 10))
	case "/random":
		b.sendRandom(ctx, chatID, parseCount(arg, 5))
	case "/subscribe":
		b.subscribe(ctx, chatID)
	case "/unsubscribe":
		b.unsubscribe(ctx, chatID)
	case "/watch":
		b.watch(ctx, chatID, arg)
	case "/unwatch":
		b.unwatch(ctx, chatID, arg)
	case "/watches":
		b.listWatches(ctx, chatID)
	default:
		if strings.TrimSpace(msg.Text) == dealsButtonLabel {
			b.sendListingPage(ctx, chatID, true)
		}
	}
}

func (b *Bot) sendListingPage(ctx context.Context, chatID int64, fresh bool) {
	if fresh {
		b.setOffset(chatID, 0)
	}
	offset := b.offset(chatID)

	total, err := b.catalog.Count(ctx)
	if err != nil {
		b.logger.Error("Catalog count failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	if total == 0 {
		b.reply(ctx, chatID, "The catalog is empty. Please wait for the first scan to finish.")
		return
	}

	listings, err := b.catalog.Page(ctx, b.opts.PageSize, offset)
	if err != nil {
		b.logger.Error("Catalog page read failed", "chat_id", chatID, "offset", offset, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	if len(listings) == 0 {
		b.setOffset(chatID, 0)
		b.reply(ctx, chatID, fmt.Sprintf("🚫 No more games after item %d. Send /deals to start over.", offset))
		return
	}

	if fresh {
		b.reply(ctx, chatID, fmt.Sprintf("🔍 Found %d discounted games. Here are the first %d:", total, len(listings)))
	}
	for _, text := range FormatListings(listings) {
		b.reply(ctx, chatID, text)
	}

	b.setOffset(chatID, offset+len(listings))
	b.reply(ctx, chatID, fmt.Sprintf("✅ Showing items %d–%d of %d. Send /more for the next page.",
		offset+1, offset+len(listings), total))
}

func (b *Bot) sendLatest(ctx context.Context, chatID int64, n int) {
	listings, err := b.catalog.Page(ctx, n, 0)
	if err != nil {
		b.logger.Error("Catalog read failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	if len(listings) == 0 {
		b.reply(ctx, chatID, "The catalog is empty. Please wait for the first scan to finish.")
		return
	}
	for _, text := range FormatListings(listings) {
		b.reply(ctx, chatID, text)
	}
}

func (b *Bot) sendRandom(ctx context.Context, chatID int64, n int) {
	listings, err := b.catalog.Random(ctx, n)
	if err != nil {
		b.logger.Error("Random catalog read failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	if len(listings) == 0 {
		b.reply(ctx, chatID, "The catalog is empty. Please wait for the first scan to finish.")
		return
	}
	for _, text := range FormatListings(listings) {
		b.reply(ctx, chatID, text)
	}
}

func (b *Bot) subscribe(ctx context.Context, chatID int64) {
	if err := b.registry.SubscribeGeneral(ctx, chatID); err != nil {
		b.logger.Error("Subscribe failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	b.reply(ctx, chatID, "✅ Subscribed. You'll hear about every newly discounted game.")
}

func (b *Bot) unsubscribe(ctx context.Context, chatID int64) {
	if err := b.registry.UnsubscribeAll(ctx, chatID); err != nil {
		b.logger.Error("Unsubscribe failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	b.reply(ctx, chatID, "✅ Unsubscribed. All your alerts and watches are gone.")
}

func (b *Bot) watch(ctx context.Context, chatID int64, title string) {
	if strings.TrimSpace(title) == "" {
		b.reply(ctx, chatID, "Usage: /watch <game title>")
		return
	}
	if err := b.registry.Watch(ctx, chatID, title); err != nil {
		b.logger.Error("Watch failed", "chat_id", chatID, "title", title, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("👀 Watching %q. You'll hear when it goes on sale.", strings.TrimSpace(title)))
}

func (b *Bot) unwatch(ctx context.Context, chatID int64, title string) {
	if strings.TrimSpace(title) == "" {
		b.reply(ctx, chatID, "Usage: /unwatch <game title>")
		return
	}
	if err := b.registry.Unwatch(ctx, chatID, title); err != nil {
		b.logger.Error("Unwatch failed", "chat_id", chatID, "title", title, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("🗑 Stopped watching %q.", strings.TrimSpace(title)))
}

func (b *Bot) listWatches(ctx context.Context, chatID int64) {
	titles, err := b.registry.WatchesFor(ctx, chatID)
	if err != nil {
		b.logger.Error("Watch list read failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Something went wrong, please try again later.")
		return
	}
	if len(titles) == 0 {
		b.reply(ctx, chatID, "You're not watching any titles. Try /watch <game title>.")
		return
	}
	b.reply(ctx, chatID, "👀 Watched titles:\n- "+strings.Join(titles, "\n- "))
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.client.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Warn("Reply failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) offset(chatID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offsets[chatID]
}

func (b *Bot) setOffset(chatID int64, offset int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offsets[chatID] = offset
}

// splitCommand separates the leading command from its argument and strips an
// @botname suffix.
func splitCommand(text string) (cmd, arg string) {
	text = strings.TrimSpace(text)
	if text == "" || !strings.HasPrefix(text, "/") {
		return "", text
	}

	fields := strings.Fields(text)
	cmd = fields[0]
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	arg = strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
	return cmd, arg
}

// parseCount parses an optional numeric argument, clamped to a sane range.
func parseCount(arg string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n <= 0 {
		return def
	}
	if n > 100 {
		return 100
	}
	return n
}

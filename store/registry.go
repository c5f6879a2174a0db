package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"steam-sales-notifier/pkg/sales"
)

// subscriptionRow mirrors the subscriptions table: one row per general subscriber.
type subscriptionRow struct {
	ChatID int64 `gorm:"column:chat_id;primaryKey"`
}

func (subscriptionRow) TableName() string { return "subscriptions" }

// watchRow mirrors the game_subscriptions table: one row per (chat, watched title).
type watchRow struct {
	ChatID int64  `gorm:"column:chat_id;primaryKey"`
	Title  string `gorm:"column:title;primaryKey"`
}

func (watchRow) TableName() string { return "game_subscriptions" }

// Registry is the durable set of general subscribers and per-title watches.
type Registry struct {
	db *gorm.DB
}

// NewRegistry wraps an opened database.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// SubscribeGeneral adds a chat to the general subscriber set. Subscribing
// twice is a no-op.
func (r *Registry) SubscribeGeneral(ctx context.Context, chatID int64) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&subscriptionRow{ChatID: chatID}).Error
	if err != nil {
		return fmt.Errorf("subscribe chat %d: %w", chatID, err)
	}
	return nil
}

// UnsubscribeAll removes the chat from the general set and deletes every
// watch row for it inside one transaction, so a concurrent reader never sees
// the chat removed from one set but present in the other.
func (r *Registry) UnsubscribeAll(ctx context.Context, chatID int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&subscriptionRow{}).Error; err != nil {
			return fmt.Errorf("delete subscription: %w", err)
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&watchRow{}).Error; err != nil {
			return fmt.Errorf("delete watches: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unsubscribe chat %d: %w", chatID, err)
	}
	return nil
}

// Watch registers a per-title watch. Watching an already-watched title is a
// no-op, not an error.
func (r *Registry) Watch(ctx context.Context, chatID int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("watch chat %d: empty title", chatID)
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&watchRow{ChatID: chatID, Title: title}).Error
	if err != nil {
		return fmt.Errorf("watch %q for chat %d: %w", title, chatID, err)
	}
	return nil
}

// Unwatch removes one watch. Unwatching a title that was never watched is a
// no-op.
func (r *Registry) Unwatch(ctx context.Context, chatID int64, title string) error {
	title = strings.TrimSpace(title)
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND title = ?", chatID, title).
		Delete(&watchRow{}).Error
	if err != nil {
		return fmt.Errorf("unwatch %q for chat %d: %w", title, chatID, err)
	}
	return nil
}

// GeneralSubscribers returns every chat in the general subscriber set.
func (r *Registry) GeneralSubscribers(ctx context.Context) ([]int64, error) {
	var chatIDs []int64
	err := r.db.WithContext(ctx).
		Model(&subscriptionRow{}).
		Order("chat_id ASC").
		Pluck("chat_id", &chatIDs).Error
	if err != nil {
		return nil, fmt.Errorf("list general subscribers: %w", err)
	}
	return chatIDs, nil
}

// Watches returns every (chat, watched title) pair.
func (r *Registry) Watches(ctx context.Context) ([]sales.Watch, error) {
	var rows []watchRow
	err := r.db.WithContext(ctx).
		Order("chat_id ASC, title ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}

	watches := make([]sales.Watch, 0, len(rows))
	for _, row := range rows {
		watches = append(watches, sales.Watch{ChatID: row.ChatID, Title: row.Title})
	}
	return watches, nil
}

// WatchesFor returns the titles watched by one chat.
func (r *Registry) WatchesFor(ctx context.Context, chatID int64) ([]string, error) {
	var titles []string
	err := r.db.WithContext(ctx).
		Model(&watchRow{}).
		Where("chat_id = ?", chatID).
		Order("title ASC").
		Pluck("title", &titles).Error
	if err != nil {
		return nil, fmt.Errorf("list watches for chat %d: %w", chatID, err)
	}
	return titles, nil
}

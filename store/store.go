// Package store persists the sales catalog and the subscription registry in
// SQLite via gorm.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"steam-sales-notifier/pkg/sales"
)

// scrapeDateLayout matches the persisted scrape_date text column.
const scrapeDateLayout = "2006-01-02 15:04:05"

// saleRow mirrors the sales table: one row per listing of the current snapshot.
type saleRow struct {
	ID         uint   `gorm:"primaryKey"`
	GameName   string `gorm:"column:game_name"`
	GamePrice  string `gorm:"column:game_price"`
	SteamLink  string `gorm:"column:steam_link"`
	ScrapeDate string `gorm:"column:scrape_date"`
}

func (saleRow) TableName() string { return "sales" }

// Open opens (creating if needed) the SQLite database, enables WAL journaling
// so frontend reads coexist with scan-domain writes, and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&saleRow{}, &subscriptionRow{}, &watchRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

// Catalog is the durable table holding exactly one scan snapshot.
type Catalog struct {
	db *gorm.DB
}

// NewCatalog wraps an opened database.
func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// ReplaceAll swaps the whole snapshot inside a single transaction. Readers
// never observe rows from two different scans.
func (c *Catalog) ReplaceAll(ctx context.Context, listings []sales.Listing) error {
	rows := make([]saleRow, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, toRow(l))
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM sales").Error; err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace snapshot of %d listings: %w", len(listings), err)
	}
	return nil
}

// Listings returns the full current snapshot in insertion order.
func (c *Catalog) Listings(ctx context.Context) ([]sales.Listing, error) {
	var rows []saleRow
	if err := c.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return fromRows(rows), nil
}

// Page returns one page of the current snapshot in insertion order.
func (c *Catalog) Page(ctx context.Context, limit, offset int) ([]sales.Listing, error) {
	var rows []saleRow
	err := c.db.WithContext(ctx).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query snapshot page: %w", err)
	}
	return fromRows(rows), nil
}

// Latest returns the first n listings of the current snapshot.
func (c *Catalog) Latest(ctx context.Context, n int) ([]sales.Listing, error) {
	return c.Page(ctx, n, 0)
}

// Random returns up to n randomly chosen listings from the current snapshot.
func (c *Catalog) Random(ctx context.Context, n int) ([]sales.Listing, error) {
	var rows []saleRow
	err := c.db.WithContext(ctx).
		Order("RANDOM()").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query random listings: %w", err)
	}
	return fromRows(rows), nil
}

// Count returns the size of the current snapshot.
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := c.db.WithContext(ctx).Model(&saleRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count snapshot: %w", err)
	}
	return count, nil
}

func toRow(l sales.Listing) saleRow {
	observed := l.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}
	return saleRow{
		GameName:   l.Title,
		GamePrice:  l.Price,
		SteamLink:  l.Link,
		ScrapeDate: observed.Format(scrapeDateLayout),
	}
}

func fromRows(rows []saleRow) []sales.Listing {
	listings := make([]sales.Listing, 0, len(rows))
	for _, r := range rows {
		observed, _ := time.Parse(scrapeDateLayout, r.ScrapeDate)
		listings = append(listings, sales.Listing{
			Title:      r.GameName,
			Price:      r.GamePrice,
			Link:       r.SteamLink,
			ObservedAt: observed,
		})
	}
	return listings
}

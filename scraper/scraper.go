// Package scraper fetches and parses the Steam specials search catalog.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"steam-sales-notifier/pkg/sales"
)

const (
	// The infinite-scroll results endpoint returns JSON with an HTML
	// fragment per page plus the store-reported total, which carries the
	// expected-count signal for the ingestion validator.
	defaultSearchURL = "https://store.steampowered.com/search/results/?query&specials=1&supportedlang=english&ndl=1&infinite=1"
	defaultPageSize  = 50
	maxPages         = 100 // Safety limit: hard stop against a runaway pager
)

// searchResponse is the JSON envelope of one results page.
type searchResponse struct {
	Success     int    `json:"success"`
	ResultsHTML string `json:"results_html"`
	TotalCount  int    `json:"total_count"`
	Start       int    `json:"start"`
}

// Scraper fetches and parses the specials catalog.
type Scraper struct {
	client    *http.Client
	logger    *slog.Logger
	searchURL string
	pageSize  int
}

// New creates a scraper; a nil client gets a 30s-timeout default and an empty
// searchURL falls back to the specials endpoint.
func New(client *http.Client, searchURL string, logger *slog.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	return &Scraper{
		client:    client,
		logger:    logger,
		searchURL: searchURL,
		pageSize:  defaultPageSize,
	}
}

// Scan walks the paginated results and returns the complete candidate batch
// plus the expected total reported by the store (-1 when absent). Transient
// page errors are retried per page; a page that still fails aborts the scan.
func (s *Scraper) Scan(ctx context.Context) ([]sales.Listing, int, error) {
	observedAt := time.Now()
	expected := -1

	var all []sales.Listing
	seen := map[string]struct{}{}

	for page := 0; page < maxPages; page++ {
		start := page * s.pageSize

		resp, err := s.fetchPage(ctx, start)
		if err != nil {
			return nil, -1, fmt.Errorf("fetch results at offset %d: %w", start, err)
		}
		if resp.Success != 1 {
			return nil, -1, fmt.Errorf("store returned success=%d at offset %d", resp.Success, start)
		}
		if expected < 0 && resp.TotalCount > 0 {
			expected = resp.TotalCount
		}

		listings := parseResults(resp.ResultsHTML, observedAt)
		if len(listings) == 0 {
			break
		}
		for _, l := range listings {
			if _, dup := seen[l.Key()]; dup {
				continue
			}
			seen[l.Key()] = struct{}{}
			all = append(all, l)
		}

		if expected >= 0 && start+s.pageSize >= expected {
			break
		}
	}

	s.logger.Info("Catalog scan completed", "listings", len(all), "expected", expected)
	return all, expected, nil
}

func (s *Scraper) fetchPage(ctx context.Context, start int) (*searchResponse, error) {
	pageURL, err := pageURL(s.searchURL, start, s.pageSize)
	if err != nil {
		return nil, err
	}

	var page *searchResponse

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "application/json")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				s.logger.Warn("HTTP request returned non-OK status, will retry",
					"url", pageURL,
					"status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			var decoded searchResponse
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
				s.logger.Error("Failed to decode results payload", "error", err)
				return retry.Unrecoverable(fmt.Errorf("decode results: %w", err))
			}

			page = &decoded
			s.logger.Debug("Results page fetched",
				"url", pageURL,
				"start", decoded.Start,
				"total_count", decoded.TotalCount,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying results fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return page, nil
}

// pageURL builds a results URL for the given window.
func pageURL(base string, start, count int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid search url %s: %w", base, err)
	}
	query := parsed.Query()
	query.Set("start", strconv.Itoa(start))
	query.Set("count", strconv.Itoa(count))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// parseResults extracts listings from one results_html fragment. Rows missing
// both a title and a link are skipped.
func parseResults(resultsHTML string, observedAt time.Time) []sales.Listing {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resultsHTML))
	if err != nil {
		return nil
	}

	var listings []sales.Listing
	doc.Find("a.search_result_row").Each(func(_ int, row *goquery.Selection) {
		title := strings.TrimSpace(row.Find("span.title").First().Text())
		link, _ := row.Attr("href")

		price := strings.TrimSpace(row.Find("div.discount_final_price").First().Text())
		if price == "" {
			// Older markup keeps the price in the search_price cell.
			price = strings.TrimSpace(row.Find("div.search_price").First().Text())
		}

		if title == "" && link == "" {
			return
		}

		listings = append(listings, sales.Listing{
			Title:      title,
			Price:      price,
			Link:       link,
			ObservedAt: observedAt,
		})
	})

	return listings
}

// Package match computes per-recipient delivery obligations for newly
// appeared listings. It is a pure function of its inputs.
package match

import (
	"strings"

	"steam-sales-notifier/pkg/sales"
)

// Match maps each interested chat to the ordered listings it should receive.
// Every general subscriber receives every new listing; a watcher receives a
// listing when its watched title is a case-insensitive substring of the
// listing title. A chat that qualifies both ways still receives the listing
// exactly once. Listings keep the relative order of the incoming batch.
func Match(newListings []sales.Listing, general []int64, watches []sales.Watch) map[int64][]sales.Listing {
	if len(newListings) == 0 {
		return nil
	}

	out := make(map[int64][]sales.Listing)
	delivered := make(map[int64]map[string]struct{})

	add := func(chatID int64, l sales.Listing) {
		keys, ok := delivered[chatID]
		if !ok {
			keys = make(map[string]struct{})
			delivered[chatID] = keys
		}
		if _, dup := keys[l.Key()]; dup {
			return
		}
		keys[l.Key()] = struct{}{}
		out[chatID] = append(out[chatID], l)
	}

	for _, l := range newListings {
		for _, chatID := range general {
			add(chatID, l)
		}

		title := strings.ToLower(l.Title)
		for _, w := range watches {
			watched := strings.ToLower(strings.TrimSpace(w.Title))
			if watched == "" {
				continue
			}
			if strings.Contains(title, watched) {
				add(w.ChatID, l)
			}
		}
	}

	return out
}

package ingest

import "steam-sales-notifier/pkg/sales"

// Diff returns the listings in incoming whose identity key is absent from
// previous, preserving the order they appeared in incoming. On a first-ever
// run (empty previous snapshot) every incoming listing is new.
func Diff(previous, incoming []sales.Listing) []sales.Listing {
	seen := make(map[string]struct{}, len(previous))
	for _, l := range previous {
		seen[l.Key()] = struct{}{}
	}

	var fresh []sales.Listing
	for _, l := range incoming {
		if _, ok := seen[l.Key()]; ok {
			continue
		}
		fresh = append(fresh, l)
	}
	return fresh
}

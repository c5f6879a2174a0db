package telegram

import (
	"fmt"
	"strings"

	"steam-sales-notifier/pkg/sales"
)

// maxMessageLen caps one outbound payload; longer listing pages are split
// into multiple sends.
const maxMessageLen = 4000

// FormatAlert renders one newly discounted listing for delivery.
func FormatAlert(l sales.Listing) string {
	var b strings.Builder
	b.WriteString("🔥 New discount spotted!\n")
	fmt.Fprintf(&b, "🎮 %s\n", l.Title)
	if l.Price != "" {
		fmt.Fprintf(&b, "💰 %s\n", l.Price)
	}
	fmt.Fprintf(&b, "🔗 %s", l.Link)
	return b.String()
}

// FormatListings renders a listing page as one or more messages, each within
// the payload cap.
func FormatListings(listings []sales.Listing) []string {
	var messages []string
	var chunk strings.Builder

	for _, l := range listings {
		entry := fmt.Sprintf("🎮 %s\n💰 %s\n🔗 %s\n\n", l.Title, l.Price, l.Link)
		if chunk.Len() > 0 && chunk.Len()+len(entry) > maxMessageLen {
			messages = append(messages, strings.TrimRight(chunk.String(), "\n"))
			chunk.Reset()
		}
		chunk.WriteString(entry)
	}

	if chunk.Len() > 0 {
		messages = append(messages, strings.TrimRight(chunk.String(), "\n"))
	}
	return messages
}

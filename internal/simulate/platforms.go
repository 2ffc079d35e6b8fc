package simulate

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fixed viewer counts per platform, taken over from the original service.
var viewerCounts = map[string]int{
	"Instagram": 30,
	"YouTube":   3000,
	"Facebook":  49,
	"Twitch":    75,
	"Unknown":   10,
}

var titleCaser = cases.Title(language.English)

// PlatformFor classifies a destination address into a display label. Known
// platforms match by substring; other addresses derive a title-cased label
// from the registrable host token, falling back to "Unknown".
func PlatformFor(destination string) string {
	lowered := strings.ToLower(destination)
	switch {
	case strings.Contains(lowered, "instagram"):
		return "Instagram"
	case strings.Contains(lowered, "youtube"):
		return "YouTube"
	case strings.Contains(lowered, "facebook"):
		return "Facebook"
	case strings.Contains(lowered, "twitch"):
		return "Twitch"
	}
	if label := hostLabel(destination); label != "" {
		return label
	}
	return "Unknown"
}

// ViewerCountFor returns the fixed viewer count for a platform label,
// defaulting to the "Unknown" bucket.
func ViewerCountFor(platform string) int {
	if count, ok := viewerCounts[platform]; ok {
		return count
	}
	return viewerCounts["Unknown"]
}

// hostLabel derives a label from the destination host, e.g.
// rtmp://live.restream.io/live -> "Restream".
func hostLabel(destination string) string {
	parsed, err := url.Parse(destination)
	if err != nil || parsed.Host == "" {
		return ""
	}
	parts := strings.Split(parsed.Hostname(), ".")
	if len(parts) < 2 {
		return ""
	}
	token := parts[len(parts)-2]
	if token == "" {
		return ""
	}
	return titleCaser.String(token)
}

// Package youtube recognises watch pages and looks up canonical video titles.
package youtube

import (
	"net/url"
	"strings"
)

const PlaceholderTitle = "Unknown Video"

// watchHosts lists the hosts whose /watch pages get the affordance.
var watchHosts = map[string]bool{
	"www.youtube.com":     true,
	"youtube.com":         true,
	"m.youtube.com":       true,
	"www.youtubekids.com": true,
}

// relayPrefixes are the tab URL patterns the relay searches when the panel asks
// for an analysis of the current video.
var relayPrefixes = []string{
	"https://www.youtube.com/watch",
	"https://www.youtubekids.com/watch",
}

// IsWatchURL reports whether raw is a watch page carrying a v parameter.
func IsWatchURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return watchHosts[strings.ToLower(u.Host)] && u.Path == "/watch" && u.Query().Get("v") != ""
}

// IsKidsHost reports whether raw points at the kids site.
func IsKidsHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Host), "youtubekids.com")
}

// MatchesTabPattern reports whether a tab URL is eligible for a panel
// initiated analysis.
func MatchesTabPattern(raw string) bool {
	for _, p := range relayPrefixes {
		if strings.HasPrefix(raw, p) {
			return true
		}
	}
	return false
}

// VideoIDFromURL returns the v query parameter, or "" when there is none.
func VideoIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

// Package normalize cleans scraped titles and extracts artist names from
// common video title patterns.
package normalize

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`[\s\x{00A0}\x{3000}]+`)
	// Matches " - ニコニコ動画", " | niconico", and the older "(Re:仮)" variants.
	siteSuffix = regexp.MustCompile(
		`(?i)\s*[-‐－|｜]\s*(?:ニコニコ動画|niconico|ニコニコ)(?:\s*[(（][^)）]*[)）])?\s*$`,
	)
)

// Title trims and collapses whitespace and strips the trailing site suffix.
// Title(Title(s)) == Title(s) for every s.
func Title(raw string) string {
	s := strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
	for {
		stripped := strings.TrimSpace(siteSuffix.ReplaceAllString(s, ""))
		if stripped == s {
			return s
		}
		s = stripped
	}
}

// ArtistRule extracts an artist from a title. Group selects the capture
// group holding the name.
type ArtistRule struct {
	Name    string
	Pattern *regexp.Regexp
	Group   int
}

// DefaultArtistRules is evaluated in order; the first rule that yields a
// non-empty name wins.
var DefaultArtistRules = []ArtistRule{
	{Name: "slash", Pattern: regexp.MustCompile(`^.+?\s*/\s*(.+)$`), Group: 1},
	{Name: "dash", Pattern: regexp.MustCompile(`^.+?\s+[-－]\s+(.+)$`), Group: 1},
	{Name: "feat", Pattern: regexp.MustCompile(`(?i)\b(?:feat(?:uring)?\b\.?|ft\.)\s*([^()（）\[\]【】]+)`), Group: 1},
}

// Artist applies DefaultArtistRules to title.
func Artist(title string) string {
	return ArtistWithRules(title, DefaultArtistRules)
}

// ArtistWithRules returns the first non-empty match from rules, or "".
func ArtistWithRules(title string, rules []ArtistRule) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	for _, rule := range rules {
		if rule.Pattern == nil {
			continue
		}
		m := rule.Pattern.FindStringSubmatch(title)
		if rule.Group >= len(m) {
			continue
		}
		if name := strings.TrimSpace(m[rule.Group]); name != "" {
			return name
		}
	}
	return ""
}

// ResolveArtist prefers the uploader name and falls back to the title
// heuristics.
func ResolveArtist(ownerName, title string) string {
	if owner := strings.TrimSpace(ownerName); owner != "" {
		return owner
	}
	return Artist(title)
}

package fetch

import (
	"regexp"
	"strings"
)

// Track titles reported by players carry decorations that hurt lyrics
// search accuracy: bracketed qualifiers, release years, version suffixes
// and marketing phrases. CleanTrackName strips them down to the bare
// title the providers index by.

var (
	bracketedRe     = regexp.MustCompile(`\s*[\(\[\{<].*?[\)\]\}>]`)
	yearRe          = regexp.MustCompile(`\b\d{4}\b`)
	shortYearRe     = regexp.MustCompile(`\b'\d{2}\b`)
	dashSuffixRe    = regexp.MustCompile(`(?i)\s+-\s+|\s*-\s*(?:remaster|version|edit|mix|single|live|from)\b`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
	trailingPunctRe = regexp.MustCompile(`[.,;:!?]+$`)
	nonLatinRe      = regexp.MustCompile(`[^\x00-\x7F\x{00C0}-\x{00FF}\x{2000}-\x{206F}]`)
	bareWordRe      = regexp.MustCompile(`\b[A-Za-z]+\b`)
	specialCharRe   = regexp.MustCompile(`[^\w\s]`)

	marketingPhraseRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:from|on)\s+(?:the\s+)?(?:"[^"]*"|'[^']*'|\S+)?\s*(?:soundtrack|album|movie|film|series|show)\b`),
		regexp.MustCompile(`(?i)\b(?:original|movie|film|radio|single|album|instrumental|acoustic|live|studio|extended|shortened)\s+(?:version|edit|mix|cut|recording)\b`),
		regexp.MustCompile(`(?i)\b(?:remaster(?:ed)?|remix(?:ed)?|feat\.?|ft\.?|featuring)\b`),
		regexp.MustCompile(`(?i)\b(?:bonus\s+track|deluxe\s+edition|digital\s+exclusive)\b`),
		regexp.MustCompile(`(?i)\b(?:explicit|clean)\s+(?:version|edit)?\b`),
		regexp.MustCompile(`(?i)\d+(?:th|st|nd|rd)?\s+(?:anniversary|edition)\b`),
		regexp.MustCompile(`(?i)\b(?:anthology|world\s+wildlife\s+fund)\s+(?:version)?\b`),
	}

	quoteReplacer = strings.NewReplacer(
		"’", "'",
		"‘", "'",
		"“", `"`,
		"”", `"`,
		"´", "'",
		"`", "'",
	)
)

// CleanTrackName normalizes a raw player-reported title for searching.
// When cleaning would strip the title to nothing, it falls back to
// recovering the plain words from the original so a search is still
// possible.
func CleanTrackName(track string) string {
	if track == "" {
		return ""
	}
	original := track

	// Nested brackets fall to repeated stripping from the inside out.
	for bracketedRe.MatchString(track) {
		track = bracketedRe.ReplaceAllString(track, "")
	}

	track = yearRe.ReplaceAllString(track, "")
	track = shortYearRe.ReplaceAllString(track, "")

	// Keep only the part before a version-style dash suffix.
	if parts := dashSuffixRe.Split(track, 2); len(parts) > 0 {
		track = parts[0]
	}

	for _, re := range marketingPhraseRes {
		track = re.ReplaceAllString(track, "")
	}

	// Drop non-Latin runes but keep accented Latin characters.
	track = nonLatinRe.ReplaceAllString(track, "")
	track = quoteReplacer.Replace(track)

	track = whitespaceRe.ReplaceAllString(track, " ")
	track = strings.TrimSpace(track)
	track = strings.TrimSpace(trailingPunctRe.ReplaceAllString(track, ""))

	if len([]rune(track)) < 2 && original != "" {
		if words := bareWordRe.FindAllString(original, -1); len(words) > 0 {
			return strings.Join(words, " ")
		}
		return strings.TrimSpace(specialCharRe.ReplaceAllString(original, ""))
	}

	return track
}

// artistSeparators are the joiners multi-artist credits commonly use.
// Ordered so that dotted variants survive their undotted prefixes.
var artistSeparators = []string{
	"/", "|", "&", ",",
	" and ", " with ",
	" feat ", " feat. ", " ft ", " ft. ", " featuring ",
}

// ContainsArtistSeparator reports whether the artist credit looks like
// a multi-artist string worth splitting for a retry.
func ContainsArtistSeparator(artist string) bool {
	for _, sep := range artistSeparators {
		if strings.Contains(artist, sep) {
			return true
		}
	}
	return false
}

// SplitArtists breaks a multi-artist credit into individual names.
func SplitArtists(artist string) []string {
	normalized := artist
	for _, sep := range artistSeparators {
		normalized = strings.ReplaceAll(normalized, sep, "|")
	}

	var artists []string
	for _, part := range strings.Split(normalized, "|") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			artists = append(artists, trimmed)
		}
	}
	return artists
}

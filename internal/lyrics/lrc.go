// Package lyrics parses timestamped lyric text into a playback timeline.
package lyrics

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Timeline is an ordered set of (offset, line) pairs built once per track.
// Offsets are milliseconds from track start. It is immutable after Parse.
type Timeline struct {
	offsets []int64
	lines   []string
}

// New builds a timeline from parallel offset and line slices. Both slices
// are copied. Mismatched lengths are truncated to the shorter one.
func New(offsets []int64, lines []string) *Timeline {
	n := len(offsets)
	if len(lines) < n {
		n = len(lines)
	}
	t := &Timeline{
		offsets: make([]int64, n),
		lines:   make([]string, n),
	}
	copy(t.offsets, offsets[:n])
	copy(t.lines, lines[:n])
	return t
}

// Matches the leading bracketed timestamp of an LRC line.
var timestampRe = regexp.MustCompile(`^\[[^\]]*\]`)

// Parse converts raw LRC-style text into a Timeline. Lines whose bracketed
// prefix does not start with a decade digit ([0 through [3) are treated as
// metadata and skipped, as are lines that are empty once the timestamp is
// removed. Malformed timestamps skip the line. Input order is preserved;
// non-monotonic input is not re-sorted. An input with no usable lines
// yields an empty timeline, not an error.
func Parse(raw string) *Timeline {
	t := &Timeline{}

	for _, line := range strings.Split(raw, "\n") {
		if !hasTimestampPrefix(line) {
			continue
		}

		loc := timestampRe.FindString(line)
		if loc == "" {
			continue
		}

		text := strings.TrimSpace(line[len(loc):])
		if text == "" {
			continue
		}

		ms, ok := parseTimestampMS(loc[1 : len(loc)-1])
		if !ok {
			continue
		}

		t.offsets = append(t.offsets, ms)
		t.lines = append(t.lines, text)
	}

	return t
}

// hasTimestampPrefix reports whether the line starts with [0, [1, [2 or [3.
func hasTimestampPrefix(line string) bool {
	return len(line) >= 2 && line[0] == '[' && line[1] >= '0' && line[1] <= '3'
}

// parseTimestampMS converts "MM:SS.ff" into milliseconds.
func parseTimestampMS(s string) (int64, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}

	minutes, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || minutes < 0 {
		return 0, false
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || seconds < 0 {
		return 0, false
	}

	return int64(math.Round((float64(minutes)*60 + seconds) * 1000)), true
}

// Len returns the number of timeline entries.
func (t *Timeline) Len() int {
	return len(t.offsets)
}

// Offset returns the offset in milliseconds of entry i.
func (t *Timeline) Offset(i int) int64 {
	return t.offsets[i]
}

// Line returns the lyric text of entry i.
func (t *Timeline) Line(i int) string {
	return t.lines[i]
}

// LastOffset returns the offset of the final entry, or 0 for an empty
// timeline.
func (t *Timeline) LastOffset() int64 {
	if len(t.offsets) == 0 {
		return 0
	}
	return t.offsets[len(t.offsets)-1]
}

// Locate returns the index i of the line whose interval contains posMS,
// i.e. offsets[i] <= posMS < offsets[i+1]. It returns -1 when posMS falls
// before the first entry or at/after the last entry.
func (t *Timeline) Locate(posMS int64) int {
	for i := 1; i < len(t.offsets); i++ {
		if t.offsets[i-1] <= posMS && posMS < t.offsets[i] {
			return i - 1
		}
	}
	return -1
}

// LocateUpcoming returns the index of the first line whose offset lies in
// the window (posMS+minAhead, posMS+maxAhead), or -1 if none does. Used
// for continuous streams where the reported position is already stale by
// the time the display happens.
func (t *Timeline) LocateUpcoming(posMS, minAhead, maxAhead int64) int {
	for i := 0; i < len(t.offsets); i++ {
		if t.offsets[i] > posMS+minAhead && t.offsets[i] < posMS+maxAhead {
			return i
		}
	}
	return -1
}

// Closest returns the index of the entry with the smallest absolute offset
// difference to posMS, or -1 for an empty timeline.
func (t *Timeline) Closest(posMS int64) int {
	best := -1
	var bestDiff int64
	for i, off := range t.offsets {
		diff := off - posMS
		if diff < 0 {
			diff = -diff
		}
		if best == -1 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	return best
}

// Context returns the lines surrounding entry i as (previous, current,
// next), with empty strings where i-1 or i+1 is out of bounds.
func (t *Timeline) Context(i int) (prev, cur, next string) {
	if i < 0 || i >= len(t.lines) {
		return "", "", ""
	}
	if i > 0 {
		prev = t.lines[i-1]
	}
	cur = t.lines[i]
	if i+1 < len(t.lines) {
		next = t.lines[i+1]
	}
	return prev, cur, next
}

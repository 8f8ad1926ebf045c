package story

import (
	"regexp"
	"strconv"
	"strings"

	"photoyarn/pkg/domain"
)

var markerPattern = regexp.MustCompile(`(?i)^\[IMAGE\s*(\d+)\]`)

type scanState int

const (
	stateSeeking scanState = iota
	stateAccumulating
)

// ParseSegments scans reply line by line. A marker line opens a segment; text
// following the marker on the same line belongs to it. Lines before the first
// marker are ignored, and segments without text are dropped.
func ParseSegments(reply string) []domain.StorySegment {
	var (
		segments []domain.StorySegment
		state    = stateSeeking
		marker   int
		lines    []string
	)
	flush := func() {
		if state != stateAccumulating {
			return
		}
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		if text != "" {
			segments = append(segments, domain.StorySegment{Marker: marker, Text: text})
		}
		lines = lines[:0]
	}

	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimSpace(raw)
		if m := markerPattern.FindStringSubmatchIndex(line); m != nil {
			flush()
			state = stateAccumulating
			marker = parseMarker(line[m[2]:m[3]])
			if rest := strings.TrimSpace(line[m[1]:]); rest != "" {
				lines = append(lines, rest)
			}
			continue
		}
		if state == stateAccumulating && line != "" {
			lines = append(lines, line)
		}
	}
	flush()
	return segments
}

// parseMarker returns 0 for numbers too large to index anything.
func parseMarker(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// SplitBlocks is the positional fallback: the reply is cut at every line that
// starts with "[IMAGE" and each non-empty block is returned in order.
func SplitBlocks(reply string) []string {
	var (
		blocks  []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "[IMAGE") {
			flush()
			continue
		}
		if line != "" {
			current = append(current, line)
		}
	}
	flush()
	return blocks
}

package story

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultMaxWords = 100
	MinMaxWords     = 10
	MaxMaxWords     = 500

	DefaultMaxBeats = 10
	MinMaxBeats     = 1
	MaxMaxBeats     = 50
)

// Options tunes a single synthesis call.
type Options struct {
	Guidance string
	MaxWords int
	MaxBeats int
	// APIKey overrides the generator's default credential when set.
	APIKey string
}

// ClampMaxWords returns n when it lies in [10, 500] and the default otherwise.
func ClampMaxWords(n int) int {
	if n < MinMaxWords || n > MaxMaxWords {
		return DefaultMaxWords
	}
	return n
}

// ClampMaxBeats returns n when it lies in [1, 50] and the default otherwise.
func ClampMaxBeats(n int) int {
	if n < MinMaxBeats || n > MaxMaxBeats {
		return DefaultMaxBeats
	}
	return n
}

// ParseMaxWords reads a form value; blank or unparsable input yields the default.
func ParseMaxWords(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultMaxWords
	}
	return ClampMaxWords(n)
}

// ParseMaxBeats reads a form value; blank or unparsable input yields the default.
func ParseMaxBeats(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultMaxBeats
	}
	return ClampMaxBeats(n)
}

// DuplicatePolicy decides what happens when the model tags two segments with
// the same image marker.
type DuplicatePolicy string

const (
	// DuplicateLastWins keeps one beat per image at the first occurrence's
	// position, carrying the text of the last occurrence.
	DuplicateLastWins DuplicatePolicy = "last-wins"
	// DuplicateFirstWins keeps the first occurrence and drops the rest.
	DuplicateFirstWins DuplicatePolicy = "first-wins"
	// DuplicateReject fails the synthesis with ErrDuplicateMarker.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateKeepAll emits one beat per segment, so an image may back
	// several slides.
	DuplicateKeepAll DuplicatePolicy = "keep-all"
)

// ParseDuplicatePolicy maps a config value to a policy. Empty means last-wins.
func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return DuplicateLastWins, nil
	case DuplicateLastWins, DuplicateFirstWins, DuplicateReject, DuplicateKeepAll:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate marker policy %q", raw)
	}
}

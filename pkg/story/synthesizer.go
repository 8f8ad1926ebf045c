package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"photoyarn/pkg/ai"
	"photoyarn/pkg/domain"
)

var (
	ErrNoDescriptions  = errors.New("no descriptions to narrate")
	ErrDuplicateMarker = errors.New("duplicate image marker in story")
)

// Beat is a story segment resolved to a description. Index is the zero-based
// position of the description in the list passed to Synthesize.
type Beat struct {
	Index       int
	Description domain.Description
	Text        string
}

// Result holds the resolved beats in reply order plus the raw model reply.
type Result struct {
	Beats []Beat
	Raw   string
}

// Synthesizer asks a text model for a story and maps it back onto images.
type Synthesizer struct {
	gen    ai.TextGenerator
	policy DuplicatePolicy
	logger *slog.Logger
}

// NewSynthesizer builds a Synthesizer. An empty policy means last-wins.
func NewSynthesizer(gen ai.TextGenerator, policy DuplicatePolicy, logger *slog.Logger) *Synthesizer {
	if policy == "" {
		policy = DuplicateLastWins
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{gen: gen, policy: policy, logger: logger}
}

// Synthesize issues one model call and resolves the reply. A reply with zero
// usable segments yields an empty beat list without error.
func (s *Synthesizer) Synthesize(ctx context.Context, descs []domain.Description, opts Options) (Result, error) {
	if len(descs) == 0 {
		return Result{}, ErrNoDescriptions
	}
	prompt := BuildPrompt(descs, opts)
	reply, err := s.gen.GenerateText(ctx, opts.APIKey, "", prompt)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(reply) == "" {
		return Result{}, ai.ErrEmptyResponse
	}

	segments := ParseSegments(reply)
	var beats []Beat
	if len(segments) > 0 {
		beats, err = s.mapByMarker(segments, descs)
		if err != nil {
			return Result{}, err
		}
		if len(beats) != len(segments) {
			s.logger.Warn("story segment count mismatch", "segments", len(segments), "beats", len(beats))
		}
	} else {
		blocks := SplitBlocks(reply)
		s.logger.Warn("no image markers in story; mapping by position", "blocks", len(blocks), "descriptions", len(descs))
		beats = mapByPosition(blocks, descs)
		if len(beats) != len(blocks) {
			s.logger.Warn("story segment count mismatch", "segments", len(blocks), "beats", len(beats))
		}
	}
	return Result{Beats: beats, Raw: reply}, nil
}

func (s *Synthesizer) mapByMarker(segments []domain.StorySegment, descs []domain.Description) ([]Beat, error) {
	beats := make([]Beat, 0, len(segments))
	seen := make(map[int]int, len(segments))
	for _, seg := range segments {
		idx := seg.Marker - 1
		if idx < 0 || idx >= len(descs) {
			s.logger.Warn("image marker out of range", "marker", seg.Marker, "descriptions", len(descs))
			continue
		}
		if pos, dup := seen[idx]; dup && s.policy != DuplicateKeepAll {
			switch s.policy {
			case DuplicateReject:
				return nil, fmt.Errorf("%w: [IMAGE %d]", ErrDuplicateMarker, seg.Marker)
			case DuplicateFirstWins:
				s.logger.Warn("duplicate image marker dropped", "marker", seg.Marker)
			default:
				s.logger.Warn("duplicate image marker replaces earlier segment", "marker", seg.Marker)
				beats[pos].Text = seg.Text
			}
			continue
		}
		seen[idx] = len(beats)
		beats = append(beats, Beat{Index: idx, Description: descs[idx], Text: seg.Text})
	}
	return beats, nil
}

func mapByPosition(blocks []string, descs []domain.Description) []Beat {
	n := min(len(blocks), len(descs))
	beats := make([]Beat, 0, n)
	for i := 0; i < n; i++ {
		beats = append(beats, Beat{Index: i, Description: descs[i], Text: blocks[i]})
	}
	return beats
}

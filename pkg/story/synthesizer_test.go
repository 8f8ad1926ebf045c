package story

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"photoyarn/pkg/ai"
	"photoyarn/pkg/domain"
)

type fakeGenerator struct {
	reply  string
	err    error
	prompt string
	apiKey string
}

func (f *fakeGenerator) GenerateText(_ context.Context, apiKey, _, userPrompt string) (string, error) {
	f.prompt = userPrompt
	f.apiKey = apiKey
	return f.reply, f.err
}

func descriptions(n int) []domain.Description {
	out := make([]domain.Description, n)
	for i := range out {
		out[i] = domain.Description{Ordinal: i, Filename: fmt.Sprintf("img%d.jpg", i+1), Text: fmt.Sprintf("scene %d", i+1)}
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSynthesizeReordersByMarker(t *testing.T) {
	gen := &fakeGenerator{reply: "Title line\n[IMAGE 1]\nThe fox wakes.\n\n[IMAGE 3]\nThe river sparkles.\n[image 2]\nThe fox drinks.\n"}
	s := NewSynthesizer(gen, DuplicateLastWins, quietLogger())
	res, err := s.Synthesize(context.Background(), descriptions(3), Options{MaxWords: 50, MaxBeats: 10, APIKey: "k"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if gen.apiKey != "k" {
		t.Fatalf("api key = %q", gen.apiKey)
	}
	wantIdx := []int{0, 2, 1}
	wantText := []string{"The fox wakes.", "The river sparkles.", "The fox drinks."}
	if len(res.Beats) != 3 {
		t.Fatalf("beats = %d, want 3", len(res.Beats))
	}
	for i, b := range res.Beats {
		if b.Index != wantIdx[i] || b.Text != wantText[i] {
			t.Fatalf("beat %d = %+v", i, b)
		}
		if b.Description.Filename != fmt.Sprintf("img%d.jpg", wantIdx[i]+1) {
			t.Fatalf("beat %d description = %+v", i, b.Description)
		}
	}
	if res.Raw != gen.reply {
		t.Fatalf("raw reply not preserved")
	}
}

func TestSynthesizeDropsOutOfRangeMarker(t *testing.T) {
	// Four surviving descriptions; the fifth image failed upstream.
	gen := &fakeGenerator{reply: "[IMAGE 1]\na\n[IMAGE 5]\ngone\n[IMAGE 4]\nd\n[IMAGE 0]\nzero"}
	s := NewSynthesizer(gen, "", quietLogger())
	res, err := s.Synthesize(context.Background(), descriptions(4), Options{})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.Beats) != 2 || res.Beats[0].Index != 0 || res.Beats[1].Index != 3 {
		t.Fatalf("unexpected beats: %+v", res.Beats)
	}
}

func TestSynthesizeFallbackWithoutMarkers(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		descs int
		want  []string
	}{
		{
			name:  "plain prose",
			reply: "Once upon a time.\nThe end.",
			descs: 3,
			want:  []string{"Once upon a time.\nThe end."},
		},
		{
			name:  "unnumbered markers",
			reply: "[IMAGE X]\nfirst\n[IMAGE Y]\nsecond\n[IMAGE Z]\nthird",
			descs: 2,
			want:  []string{"first", "second"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSynthesizer(&fakeGenerator{reply: tc.reply}, "", quietLogger())
			res, err := s.Synthesize(context.Background(), descriptions(tc.descs), Options{})
			if err != nil {
				t.Fatalf("synthesize: %v", err)
			}
			if len(res.Beats) != len(tc.want) {
				t.Fatalf("beats = %d, want %d", len(res.Beats), len(tc.want))
			}
			for i, b := range res.Beats {
				if b.Index != i || b.Text != tc.want[i] {
					t.Fatalf("beat %d = %+v", i, b)
				}
			}
		})
	}
}

func TestSynthesizeDuplicatePolicies(t *testing.T) {
	reply := "[IMAGE 1]\nfirst take\n[IMAGE 2]\nmiddle\n[IMAGE 1]\nsecond take"
	tests := []struct {
		policy  DuplicatePolicy
		want    []string
		indexes []int
		wantErr error
	}{
		{policy: DuplicateLastWins, want: []string{"second take", "middle"}, indexes: []int{0, 1}},
		{policy: DuplicateFirstWins, want: []string{"first take", "middle"}, indexes: []int{0, 1}},
		{policy: DuplicateKeepAll, want: []string{"first take", "middle", "second take"}, indexes: []int{0, 1, 0}},
		{policy: DuplicateReject, wantErr: ErrDuplicateMarker},
	}
	for _, tc := range tests {
		t.Run(string(tc.policy), func(t *testing.T) {
			s := NewSynthesizer(&fakeGenerator{reply: reply}, tc.policy, quietLogger())
			res, err := s.Synthesize(context.Background(), descriptions(2), Options{})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("synthesize: %v", err)
			}
			if len(res.Beats) != len(tc.want) {
				t.Fatalf("unexpected beats: %+v", res.Beats)
			}
			for i, b := range res.Beats {
				if b.Text != tc.want[i] || b.Index != tc.indexes[i] {
					t.Fatalf("beat %d = (%d, %q), want (%d, %q)", i, b.Index, b.Text, tc.indexes[i], tc.want[i])
				}
			}
		})
	}
}

func TestSynthesizeErrors(t *testing.T) {
	s := NewSynthesizer(&fakeGenerator{reply: "  \n "}, "", quietLogger())
	if _, err := s.Synthesize(context.Background(), descriptions(1), Options{}); !errors.Is(err, ai.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}

	s = NewSynthesizer(&fakeGenerator{err: fmt.Errorf("wrap: %w", ai.ErrBlocked)}, "", quietLogger())
	if _, err := s.Synthesize(context.Background(), descriptions(1), Options{}); !errors.Is(err, ai.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}

	s = NewSynthesizer(&fakeGenerator{reply: "x"}, "", quietLogger())
	if _, err := s.Synthesize(context.Background(), nil, Options{}); !errors.Is(err, ErrNoDescriptions) {
		t.Fatalf("expected ErrNoDescriptions, got %v", err)
	}
}

func TestSynthesizeMarkersWithoutText(t *testing.T) {
	// Markers only: nothing parses, and the fallback has no blocks either.
	s := NewSynthesizer(&fakeGenerator{reply: "[IMAGE 1]\n\n[IMAGE 2]\n"}, "", quietLogger())
	res, err := s.Synthesize(context.Background(), descriptions(2), Options{})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.Beats) != 0 {
		t.Fatalf("expected no beats, got %+v", res.Beats)
	}
}

func TestBuildPromptBeatModes(t *testing.T) {
	descs := descriptions(3)

	all := BuildPrompt(descs, Options{MaxWords: 40, MaxBeats: 3, Guidance: "make it spooky"})
	if !strings.Contains(all, "exactly one beat per image") {
		t.Fatalf("expected one-beat-per-image instruction:\n%s", all)
	}
	if strings.Contains(all, "reorder") {
		t.Fatalf("non-selective prompt should not allow reordering:\n%s", all)
	}
	for _, want := range []string{"Image 1: scene 1", "Image 3: scene 3", "make it spooky", "40 words", "[IMAGE 1]"} {
		if !strings.Contains(all, want) {
			t.Fatalf("prompt missing %q:\n%s", want, all)
		}
	}

	some := BuildPrompt(descs, Options{MaxWords: 40, MaxBeats: 2})
	if !strings.Contains(some, "at most 2 beats") || !strings.Contains(some, "reorder") {
		t.Fatalf("expected selective instruction:\n%s", some)
	}
	if strings.Contains(some, "guidance") {
		t.Fatalf("guidance section should be omitted when empty")
	}
}

func TestParseSegmentsKeepsInlineText(t *testing.T) {
	segs := ParseSegments("preamble\n  [IMAGE 2] Dawn breaks.\nBirds sing.\n[IMAGE3]\n\nNight.")
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2: %+v", len(segs), segs)
	}
	if segs[0].Marker != 2 || segs[0].Text != "Dawn breaks.\nBirds sing." {
		t.Fatalf("segment 0 = %+v", segs[0])
	}
	if segs[1].Marker != 3 || segs[1].Text != "Night." {
		t.Fatalf("segment 1 = %+v", segs[1])
	}
}

func TestClampAndParse(t *testing.T) {
	tests := []struct {
		in, want int
		fn       func(int) int
	}{
		{in: 5, want: 100, fn: ClampMaxWords},
		{in: 9999, want: 100, fn: ClampMaxWords},
		{in: 50, want: 50, fn: ClampMaxWords},
		{in: 10, want: 10, fn: ClampMaxWords},
		{in: 500, want: 500, fn: ClampMaxWords},
		{in: 0, want: 10, fn: ClampMaxBeats},
		{in: 51, want: 10, fn: ClampMaxBeats},
		{in: 1, want: 1, fn: ClampMaxBeats},
	}
	for _, tc := range tests {
		if got := tc.fn(tc.in); got != tc.want {
			t.Fatalf("clamp(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if got := ParseMaxWords("abc"); got != DefaultMaxWords {
		t.Fatalf("ParseMaxWords(abc) = %d", got)
	}
	if got := ParseMaxBeats(" 7 "); got != 7 {
		t.Fatalf("ParseMaxBeats(7) = %d", got)
	}
	if got := ParseMaxBeats(""); got != DefaultMaxBeats {
		t.Fatalf("ParseMaxBeats(empty) = %d", got)
	}
}

func TestParseDuplicatePolicy(t *testing.T) {
	if p, err := ParseDuplicatePolicy(""); err != nil || p != DuplicateLastWins {
		t.Fatalf("empty policy = %q, %v", p, err)
	}
	if p, err := ParseDuplicatePolicy("Reject"); err != nil || p != DuplicateReject {
		t.Fatalf("reject policy = %q, %v", p, err)
	}
	if p, err := ParseDuplicatePolicy(" keep-all "); err != nil || p != DuplicateKeepAll {
		t.Fatalf("expected keep-all, got %q, %v", p, err)
	}
	if _, err := ParseDuplicatePolicy("random"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

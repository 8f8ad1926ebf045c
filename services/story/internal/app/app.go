package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"photoyarn/internal/util"
	"photoyarn/pkg/ai"
	"photoyarn/pkg/archive"
	"photoyarn/pkg/artifact"
	"photoyarn/pkg/domain"
	"photoyarn/pkg/imaging"
	"photoyarn/pkg/storage"
	"photoyarn/pkg/story"
)

var (
	storiesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photoyarn_stories_created_total",
		Help: "Stories generated and persisted.",
	})

	storyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photoyarn_story_failures_total",
		Help: "Story requests that failed, by stage.",
	}, []string{"stage"})

	imagesDescribedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photoyarn_images_described_total",
		Help: "Images processed by the description stage, by result.",
	}, []string{"result"})

	pipelineDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "photoyarn_pipeline_duration_seconds",
		Help:    "End-to-end duration of one story request.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
)

type extractor interface {
	Extract(ctx context.Context, uploads []archive.Upload) ([]domain.ImageEntry, error)
}

type normalizer interface {
	Normalize(raw []byte) ([]byte, error)
}

type describer interface {
	Describe(ctx context.Context, filename string, jpeg []byte, apiKey string) (string, error)
}

type synthesizer interface {
	Synthesize(ctx context.Context, descs []domain.Description, opts story.Options) (story.Result, error)
}

type artifactStore interface {
	Put(ctx context.Context, draft artifact.Draft) (domain.StoryArtifact, error)
	Get(ctx context.Context, id string) (domain.StoryArtifact, error)
	OpenImage(ctx context.Context, id, name string) (storage.Object, error)
}

type cleanupScheduler interface {
	Schedule(ctx context.Context, storyID string, createdAt time.Time) (domain.CleanupTask, error)
}

// Config holds the collaborators of the story pipeline.
type Config struct {
	Extractor   extractor
	Normalizer  normalizer
	Describer   describer
	Synthesizer synthesizer
	Artifacts   artifactStore
	Scheduler   cleanupScheduler

	// DescribeConcurrency bounds in-flight description calls; 0 means 1.
	DescribeConcurrency   int
	// DescribeRatePerSecond paces description calls; 0 means unpaced.
	DescribeRatePerSecond float64
}

// App runs one upload through extraction, description, synthesis and persistence.
type App struct {
	extractor   extractor
	normalizer  normalizer
	describer   describer
	synthesizer synthesizer
	artifacts   artifactStore
	scheduler   cleanupScheduler
	concurrency int
	ratePerSec  float64
}

// Request is one story request.
type Request struct {
	Uploads []archive.Upload
	Options story.Options
}

// Result is returned to the uploader on success.
type Result struct {
	StoryID string
	Story   string
	Slides  []domain.Slide
	Images  []domain.ImageSummary
}

// New validates cfg and builds the App.
func New(cfg Config) (*App, error) {
	if cfg.Extractor == nil || cfg.Describer == nil || cfg.Synthesizer == nil {
		return nil, errors.New("extractor, describer and synthesizer required")
	}
	if cfg.Artifacts == nil || cfg.Scheduler == nil {
		return nil, errors.New("artifact store and cleanup scheduler required")
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = imaging.Default
	}
	if cfg.DescribeConcurrency < 1 {
		cfg.DescribeConcurrency = 1
	}
	return &App{
		extractor:   cfg.Extractor,
		normalizer:  cfg.Normalizer,
		describer:   cfg.Describer,
		synthesizer: cfg.Synthesizer,
		artifacts:   cfg.Artifacts,
		scheduler:   cfg.Scheduler,
		concurrency: cfg.DescribeConcurrency,
		ratePerSec:  cfg.DescribeRatePerSecond,
	}, nil
}

// CreateStory runs the full pipeline. Nothing is stored unless a story with at
// least one beat was produced.
func (a *App) CreateStory(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	logger := util.LoggerFromContext(ctx)

	entries, err := a.extractor.Extract(ctx, req.Uploads)
	if err != nil {
		storyFailuresTotal.WithLabelValues("extract").Inc()
		return Result{}, err
	}
	logger.Info("images extracted", "count", len(entries))

	descs, byOrdinal, err := a.describeAll(ctx, entries, req.Options.APIKey)
	if err != nil {
		storyFailuresTotal.WithLabelValues("describe").Inc()
		return Result{}, err
	}
	if len(descs) == 0 {
		storyFailuresTotal.WithLabelValues("describe").Inc()
		return Result{}, ErrNoValidImages
	}

	synth, err := a.synthesizer.Synthesize(ctx, descs, req.Options)
	if err != nil {
		storyFailuresTotal.WithLabelValues("synthesize").Inc()
		return Result{}, fmt.Errorf("%w: %w", ErrStoryGeneration, err)
	}
	if len(synth.Beats) == 0 {
		storyFailuresTotal.WithLabelValues("synthesize").Inc()
		return Result{}, fmt.Errorf("%w: story has no segments", ErrStoryGeneration)
	}

	draft := artifact.Draft{Story: synth.Raw, Slides: make([]artifact.DraftSlide, 0, len(synth.Beats))}
	for i, beat := range synth.Beats {
		entry := byOrdinal[beat.Description.Ordinal]
		draft.Slides = append(draft.Slides, artifact.DraftSlide{
			Position: i + 1,
			Filename: entry.OriginalName,
			Image:    entry.Data,
			Text:     beat.Text,
		})
	}
	stored, err := a.artifacts.Put(ctx, draft)
	if err != nil {
		storyFailuresTotal.WithLabelValues("persist").Inc()
		return Result{}, fmt.Errorf("persist story: %w", err)
	}
	if _, err := a.scheduler.Schedule(ctx, stored.ID, stored.CreatedAt); err != nil {
		logger.Error("cleanup scheduling failed", "story_id", stored.ID, "err", err)
	}

	images := make([]domain.ImageSummary, 0, len(descs))
	for _, d := range descs {
		images = append(images, domain.ImageSummary{Filename: d.Filename, Summary: d.Text})
	}

	storiesCreatedTotal.Inc()
	pipelineDurationSeconds.Observe(time.Since(start).Seconds())
	logger.Info("story created",
		"story_id", stored.ID,
		"images", len(entries),
		"described", len(descs),
		"slides", len(stored.Slides),
		"duration", time.Since(start),
	)
	return Result{
		StoryID: stored.ID,
		Story:   stored.Story,
		Slides:  stored.Slides,
		Images:  images,
	}, nil
}

// GetStory returns a stored artifact or artifact.ErrNotFound.
func (a *App) GetStory(ctx context.Context, id string) (domain.StoryArtifact, error) {
	return a.artifacts.Get(ctx, id)
}

// OpenImage opens a stored slide image. The caller closes the body.
func (a *App) OpenImage(ctx context.Context, id, name string) (storage.Object, error) {
	return a.artifacts.OpenImage(ctx, id, name)
}

// describeAll normalizes and describes every entry. Failed entries are logged
// and skipped; the survivors come back in ordinal order.
func (a *App) describeAll(ctx context.Context, entries []domain.ImageEntry, apiKey string) ([]domain.Description, map[int]domain.ImageEntry, error) {
	logger := util.LoggerFromContext(ctx)
	results := make([]*domain.Description, len(entries))

	var limiter *rate.Limiter
	if a.ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.ratePerSec), 1)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.concurrency)
	for i, entry := range entries {
		i, entry := i, entry
		eg.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(egCtx); err != nil {
					return err
				}
			}
			jpeg, err := a.normalizer.Normalize(entry.Data)
			if err != nil {
				imagesDescribedTotal.WithLabelValues("invalid").Inc()
				logger.Warn("image skipped: normalize failed", "file", entry.OriginalName, "ordinal", entry.Ordinal, "err", err)
				return nil
			}
			text, err := a.describer.Describe(egCtx, entry.OriginalName, jpeg, apiKey)
			switch {
			case err == nil:
			case errors.Is(err, ai.ErrSkipped):
				imagesDescribedTotal.WithLabelValues("skipped").Inc()
				logger.Info("image skipped: platform metadata", "file", entry.OriginalName)
				return nil
			case egCtx.Err() != nil:
				return egCtx.Err()
			default:
				imagesDescribedTotal.WithLabelValues("failed").Inc()
				logger.Warn("image skipped: describe failed", "file", entry.OriginalName, "ordinal", entry.Ordinal, "err", err)
				return nil
			}
			imagesDescribedTotal.WithLabelValues("ok").Inc()
			results[i] = &domain.Description{Ordinal: entry.Ordinal, Filename: entry.OriginalName, Text: text}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	descs := make([]domain.Description, 0, len(entries))
	byOrdinal := make(map[int]domain.ImageEntry, len(entries))
	for i, d := range results {
		if d == nil {
			continue
		}
		descs = append(descs, *d)
		byOrdinal[d.Ordinal] = entries[i]
	}
	return descs, byOrdinal, nil
}

package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"photoyarn/internal/util"
	"photoyarn/pkg/domain"
	"photoyarn/pkg/storage"
	"photoyarn/pkg/store"
)

var (
	ErrNotFound    = errors.New("story not found")
	ErrInvalidName = errors.New("invalid image name")
)

const (
	// DefaultCacheTTL bounds how long another replica may serve a record
	// after it was deleted elsewhere.
	DefaultCacheTTL = time.Minute

	deletionMarkTTL = 10 * time.Minute
)

// DraftSlide is one slide before persistence. Position is 1-based and, with
// the original basename, names the stored image.
type DraftSlide struct {
	Position int
	Filename string
	Image    []byte
	Text     string
}

// Draft is a story ready to be persisted.
type Draft struct {
	Story  string
	Slides []DraftSlide
}

// Store persists story artifacts: slide images in an object store and the
// structured record in a metadata store.
type Store struct {
	objects storage.ObjectStore
	meta    store.Store
	logger  *slog.Logger
	now     func() time.Time

	// cacheMu orders record caching against deletion marks.
	cacheMu  sync.Mutex
	records  *cache.Cache
	deleting *cache.Cache
}

// NewStore wires the backends. Records are cached for cacheTTL,
// DefaultCacheTTL when zero.
func NewStore(objects storage.ObjectStore, meta store.Store, cacheTTL time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Store{
		objects:  objects,
		meta:     meta,
		logger:   logger,
		now:      time.Now,
		records:  cache.New(cacheTTL, 5*time.Minute),
		deleting: cache.New(deletionMarkTTL, 5*time.Minute),
	}
}

// Put allocates an id, writes the slide images and then the record. When any
// step fails the images written so far are removed.
func (s *Store) Put(ctx context.Context, draft Draft) (domain.StoryArtifact, error) {
	id := util.NewID()
	artifact := domain.StoryArtifact{
		ID:        id,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
		Story:     draft.Story,
		Slides:    make([]domain.Slide, 0, len(draft.Slides)),
	}
	written := make([]string, 0, len(draft.Slides))
	for _, slide := range draft.Slides {
		name := ImageName(slide.Position, slide.Filename)
		key := objectKey(id, name)
		contentType := mime.TypeByExtension(strings.ToLower(path.Ext(name)))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := s.objects.Put(ctx, key, bytes.NewReader(slide.Image), int64(len(slide.Image)), contentType); err != nil {
			s.rollback(id, append(written, key))
			return domain.StoryArtifact{}, fmt.Errorf("store slide image %s: %w", name, err)
		}
		written = append(written, key)
		artifact.Slides = append(artifact.Slides, domain.Slide{
			ImageURL:     ImageURL(id, name),
			StorySegment: slide.Text,
		})
	}
	if err := s.meta.SaveStory(ctx, artifact); err != nil {
		s.rollback(id, written)
		return domain.StoryArtifact{}, fmt.Errorf("save story record: %w", err)
	}
	s.records.SetDefault(id, artifact)
	return artifact, nil
}

// Get returns the stored record or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (domain.StoryArtifact, error) {
	if !validID(id) {
		return domain.StoryArtifact{}, ErrNotFound
	}
	if cached, ok := s.records.Get(id); ok {
		return cached.(domain.StoryArtifact), nil
	}
	artifact, ok, err := s.meta.GetStory(ctx, id)
	if err != nil {
		return domain.StoryArtifact{}, fmt.Errorf("load story record: %w", err)
	}
	if !ok {
		return domain.StoryArtifact{}, ErrNotFound
	}
	s.cacheRecord(artifact)
	return artifact, nil
}

// Delete removes images and record. Deleting an unknown id succeeds.
// Images go first so a failed delete leaves a listable record behind.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	s.markDeleting(id)
	if err := s.objects.DeletePrefix(ctx, storyPrefix(id)); err != nil {
		return fmt.Errorf("delete story images: %w", err)
	}
	s.records.Delete(id)
	if err := s.meta.DeleteStory(ctx, id); err != nil {
		return fmt.Errorf("delete story record: %w", err)
	}
	s.records.Delete(id)
	return nil
}

// markDeleting evicts id and keeps Get from caching it again while the
// delete is in flight or just finished.
func (s *Store) markDeleting(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.deleting.SetDefault(id, struct{}{})
	s.records.Delete(id)
}

func (s *Store) cacheRecord(artifact domain.StoryArtifact) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if _, marked := s.deleting.Get(artifact.ID); marked {
		return
	}
	s.records.SetDefault(artifact.ID, artifact)
}

// OpenImage opens one stored slide image. The caller closes the body.
func (s *Store) OpenImage(ctx context.Context, id, name string) (storage.Object, error) {
	if !validID(id) {
		return storage.Object{}, ErrNotFound
	}
	if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") || strings.Contains(name, "\\") {
		return storage.Object{}, ErrInvalidName
	}
	obj, err := s.objects.Get(ctx, objectKey(id, name))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.Object{}, ErrNotFound
		}
		return storage.Object{}, fmt.Errorf("open story image: %w", err)
	}
	return obj, nil
}

// List returns every stored story, oldest first.
func (s *Store) List(ctx context.Context) ([]store.StoryRef, error) {
	return s.meta.ListStories(ctx)
}

func (s *Store) rollback(id string, keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil {
			s.logger.Error("story rollback failed", "story_id", id, "key", key, "err", err)
		}
	}
}

// ImageName is the stored name of a slide image: "<position>_<basename>".
func ImageName(position int, filename string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "image.jpg"
	}
	return fmt.Sprintf("%d_%s", position, base)
}

// ImageURL is the public path serving a stored slide image.
func ImageURL(id, name string) string {
	return "/stories/" + id + "/images/" + url.PathEscape(name)
}

func storyPrefix(id string) string {
	return "stories/" + id + "/"
}

func objectKey(id, name string) string {
	return storyPrefix(id) + name
}

// validID accepts the hex ids produced by util.NewID and rejects anything
// that could escape the story prefix.
func validID(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

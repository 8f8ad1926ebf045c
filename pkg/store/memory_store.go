package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"photoyarn/pkg/domain"
)

// MemoryStore keeps story records in-process. Used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	stories map[string]domain.StoryArtifact
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stories: make(map[string]domain.StoryArtifact)}
}

// SaveStory stores a copy of the record.
func (m *MemoryStore) SaveStory(_ context.Context, story domain.StoryArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stories[story.ID]; exists {
		return fmt.Errorf("story %s already exists", story.ID)
	}
	story.Slides = append([]domain.Slide(nil), story.Slides...)
	m.stories[story.ID] = story
	return nil
}

// GetStory returns a copy of the stored record.
func (m *MemoryStore) GetStory(_ context.Context, id string) (domain.StoryArtifact, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	story, ok := m.stories[id]
	if !ok {
		return domain.StoryArtifact{}, false, nil
	}
	story.Slides = append([]domain.Slide(nil), story.Slides...)
	return story, true, nil
}

// DeleteStory removes a record if present.
func (m *MemoryStore) DeleteStory(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.stories, id)
	m.mu.Unlock()
	return nil
}

// ListStories returns all records ordered by creation time.
func (m *MemoryStore) ListStories(_ context.Context) ([]StoryRef, error) {
	m.mu.RLock()
	refs := make([]StoryRef, 0, len(m.stories))
	for id, story := range m.stories {
		refs = append(refs, StoryRef{ID: id, CreatedAt: story.CreatedAt})
	}
	m.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].CreatedAt.Equal(refs[j].CreatedAt) {
			return refs[i].ID < refs[j].ID
		}
		return refs[i].CreatedAt.Before(refs[j].CreatedAt)
	})
	return refs, nil
}

package store

import (
	"context"
	"time"

	"photoyarn/pkg/domain"
)

// Store persists story records. Slide image bytes live in object storage;
// only the structured record is kept here.
type Store interface {
	SaveStory(ctx context.Context, story domain.StoryArtifact) error
	GetStory(ctx context.Context, id string) (domain.StoryArtifact, bool, error)
	// DeleteStory removes a record. Deleting an unknown id is not an error.
	DeleteStory(ctx context.Context, id string) error
	ListStories(ctx context.Context) ([]StoryRef, error)
}

// StoryRef identifies a stored story without loading its slides.
type StoryRef struct {
	ID        string
	CreatedAt time.Time
}

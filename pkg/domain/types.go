package domain

import "time"

// ImageEntry is one image pulled out of an upload. Ordinal is the position
// assigned at extraction time and never changes afterwards.
type ImageEntry struct {
	OriginalName string
	Data         []byte
	Ordinal      int
}

// Description is the vision model's summary of a single image.
type Description struct {
	Ordinal  int    `json:"ordinal"`
	Filename string `json:"filename"`
	Text     string `json:"summary"`
}

// StorySegment is one block of narrative parsed from the model reply.
type StorySegment struct {
	Marker int
	Text   string
}

// Slide pairs a stored image with its narrative segment.
type Slide struct {
	ImageURL     string `json:"image_url"`
	StorySegment string `json:"story_segment"`
}

// StoryArtifact is the persisted result of one story generation.
type StoryArtifact struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Slides    []Slide   `json:"slides"`
	Story     string    `json:"story"`
}

type TaskState string

const (
	TaskScheduled TaskState = "scheduled"
	TaskDue       TaskState = "due"
	TaskDeleted   TaskState = "deleted"
)

// CleanupTask removes a story artifact once DueAt has passed.
type CleanupTask struct {
	DueAt   time.Time `json:"dueAt"`
	StoryID string    `json:"storyId"`
	State   TaskState `json:"state"`
}

// ImageSummary is the per-image description echoed back to the uploader.
type ImageSummary struct {
	Filename string `json:"filename"`
	Summary  string `json:"summary"`
}

package app

import "errors"

var (
	// ErrNoValidImages indicates every extracted image failed to normalize or describe.
	ErrNoValidImages = errors.New("no valid images could be processed")
	// ErrStoryGeneration wraps any failure of the story model call or an empty story.
	ErrStoryGeneration = errors.New("story generation failed")
)

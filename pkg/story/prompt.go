package story

import (
	"fmt"
	"strings"

	"photoyarn/pkg/domain"
)

// BuildPrompt renders the narrative instruction for descs. When there are
// more images than beats the model is allowed to pick, reorder and omit.
func BuildPrompt(descs []domain.Description, opts Options) string {
	maxWords := ClampMaxWords(opts.MaxWords)
	maxBeats := ClampMaxBeats(opts.MaxBeats)
	n := len(descs)

	var b strings.Builder
	selective := n > maxBeats
	if selective {
		fmt.Fprintf(&b, "You are given %d images and their descriptions. Craft a compelling story from a selection of them. "+
			"You may reorder, omit or select the images that best fit the narrative; not every image has to appear. "+
			"Write at most %d beats, each under %d words.\n", n, maxBeats, maxWords)
	} else {
		fmt.Fprintf(&b, "You are given %d images and their descriptions. Write a compelling story with exactly one beat per image, "+
			"in the order listed, where each image is a key moment of the narrative.\n", n)
	}
	if guidance := strings.TrimSpace(opts.Guidance); guidance != "" {
		fmt.Fprintf(&b, "\nThe user asked for the following guidance: %s\n", guidance)
	}

	b.WriteString("\nEach segment should:\n")
	b.WriteString("1. Describe what is happening in that moment\n")
	b.WriteString("2. Advance the overall narrative\n")
	b.WriteString("3. Connect smoothly with the previous and next segments\n")
	fmt.Fprintf(&b, "4. Stay within %d words\n\n", maxWords)

	b.WriteString("Start every segment with a marker line naming the image it belongs to, using the image number from the list below:\n")
	if selective {
		b.WriteString("[IMAGE X]\nStory segment for image X...\n\n")
	} else {
		b.WriteString("[IMAGE 1]\nStory segment for the first image...\n\n[IMAGE 2]\nStory segment for the second image...\n\n")
	}

	b.WriteString("Image descriptions:\n")
	for i, d := range descs {
		fmt.Fprintf(&b, "Image %d: %s\n", i+1, strings.TrimSpace(d.Text))
	}
	return b.String()
}

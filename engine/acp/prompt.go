package acp

import (
	"strings"
	"time"

	"github.com/thoughttree/agentbridge"
)

// composePrompt renders turns as "role: content" paragraphs, prefixed with
// today's date, followed by one image block per attachment. Returns
// ErrEmptyPrompt when there is neither text nor an image.
func composePrompt(turns []agentbridge.Turn, now time.Time) ([]contentBlock, error) {
	var (
		parts  []string
		images []contentBlock
	)
	for _, t := range turns {
		if strings.TrimSpace(t.Content) != "" {
			parts = append(parts, t.Role+": "+t.Content)
		}
		for _, img := range t.Images {
			if img.Data == "" {
				continue
			}
			images = append(images, contentBlock{Type: "image", Data: img.Data, MIMEType: img.MIMEType})
		}
	}
	if len(parts) == 0 && len(images) == 0 {
		return nil, agentbridge.ErrEmptyPrompt
	}

	text := "Current date: " + now.Format("Monday, January 2, 2006")
	if len(parts) > 0 {
		text += "\n\n" + strings.Join(parts, "\n\n")
	}
	return append([]contentBlock{{Type: "text", Text: text}}, images...), nil
}

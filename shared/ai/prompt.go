package ai

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed prompt.txt
var defaultSystemPrompt string

// WatchURL is the address handed to the remote model. Kids pages share video
// IDs with the main site, and only the main site is reachable by the model.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// LoadSystemPrompt returns the contents of path, or the bundled prompt when
// path is empty. It is read on every call so edits apply without a restart.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return defaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", path, err)
	}
	return string(data), nil
}

// BuildUserPrompt pins the request to one video, repeating its identifier and
// URL.
func BuildUserPrompt(videoID, title string) string {
	url := WatchURL(videoID)
	return fmt.Sprintf(`IMPORTANT: You MUST analyze ONLY this specific video:

YouTube URL: %[1]s
Video ID: %[2]s
Video Title: %[3]s

DO NOT analyze:
- Related videos
- Recommended videos
- Playlist videos
- Videos in the description
- Any other video

ONLY analyze the video with ID: %[2]s

In your JSON response, you MUST include "videoId": "%[2]s" exactly as shown.

Now analyze this video: %[1]s`, url, videoID, title)
}

const localPromptTemplate = `Analyze this YouTube video's metadata to identify the experience it promises to deliver.

VIDEO METADATA:
%s

Examine the language, tone, and presentation patterns. Provide analysis using active, descriptive language (avoid all forms of "to be"):

**Content Promise:**
[What experience the title, description, and channel presentation promise to deliver]

**Stimulation Signals:**
[Identify patterns suggesting high/low sensory intensity: fast-pacing keywords, excitement language, calm descriptors, educational framing, etc.]

**Potential Neural Impact:**
[Describe the likely effect on a child's nervous system based on promised content: rapid attention shifts, sustained focus, emotional peaks, cognitive engagement, etc.]

**Target Engagement Pattern:**
[The viewing experience this metadata suggests: continuous excitement, calm exploration, challenge-reward cycles, emotional storytelling, etc.]

Note: This analysis examines the PROMISE the content makes through its presentation. The Full Video Analysis will measure whether the actual content delivers on this promise and calculate the precise D-Level score based on real audiovisual data.`

// BuildPromisePrompt embeds scraped page text in the local "promise analysis"
// template.
func BuildPromisePrompt(pageText string) string {
	return fmt.Sprintf(localPromptTemplate, strings.TrimSpace(pageText))
}

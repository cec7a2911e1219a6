package display

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"dlevel-stack/internal/models"
	"dlevel-stack/shared/ai"
	"dlevel-stack/shared/markup"
)

// ThumbnailURL is the medium quality still of a video.
func ThumbnailURL(videoID string) string {
	return "https://img.youtube.com/vi/" + videoID + "/mqdefault.jpg"
}

// DetailMarkdown lays out one analysis as a markdown document: profile,
// verdict, scores and the full narrative.
func DetailMarkdown(r models.AnalysisRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", orPlaceholder(r.Title))
	if r.VideoID != "" {
		fmt.Fprintf(&b, "[Watch on YouTube](%s) · ![thumbnail](%s)\n\n", ai.WatchURL(r.VideoID), ThumbnailURL(r.VideoID))
	}
	if r.ChannelName != "" {
		fmt.Fprintf(&b, "Channel: %s\n\n", r.ChannelName)
	}

	b.WriteString("## Visual Dopamine Profile\n\n")
	fmt.Fprintf(&b, "**D-Level: %s** (%s)\n\n", r.LevelText(), category(r))
	if len(r.DopamineTypes) > 0 {
		for _, t := range r.DopamineTypes {
			fmt.Fprintf(&b, "- %s: %s%%\n", t.Type, num(t.Value))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Verdict\n\n")
	fmt.Fprintf(&b, "%s\n\n", orPlaceholder(r.Verdict))

	b.WriteString("## Detailed Analysis\n\n")
	fmt.Fprintf(&b, "- Neural Overdrive: %s/10\n", num(r.NeuralOverdrive.Score))
	fmt.Fprintf(&b, "- Emotional Coherence: %s/100\n", num(r.EmotionalCoherence.Score))
	depth := num(r.CognitiveDepth.Score) + "/100"
	if r.CognitiveDepth.Index != "" {
		depth += " (" + r.CognitiveDepth.Index + ")"
	}
	fmt.Fprintf(&b, "- Cognitive Depth: %s\n", depth)
	fmt.Fprintf(&b, "- Intent-Stimulus Alignment: %s/100\n\n", num(r.IntentStimulusAlignment.Score))

	if r.RhythmicAnalysis.Analysis != "" {
		fmt.Fprintf(&b, "### Rhythm\n\n%s\n\n", r.RhythmicAnalysis.Analysis)
	}
	if r.DLevelJustification != "" {
		fmt.Fprintf(&b, "### Why this D-Level\n\n%s\n\n", r.DLevelJustification)
	}
	if r.FullAnalysis != "" {
		fmt.Fprintf(&b, "%s\n", r.FullAnalysis)
	}
	return b.String()
}

func DetailHTML(r models.AnalysisRecord) string {
	return markup.Full(DetailMarkdown(r))
}

func DetailText(r models.AnalysisRecord) string {
	return markup.PlainText(DetailMarkdown(r))
}

// WriteTable prints entries as aligned columns.
func WriteTable(w io.Writer, entries []Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No analyses found. Visit a YouTube video and run the analysis to get started.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO ID\tD-LEVEL\tCATEGORY\tTITLE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Key, e.Record.LevelText(), category(e.Record), orPlaceholder(e.Record.Title))
	}
	return tw.Flush()
}

func category(r models.AnalysisRecord) models.Category {
	if r.DLevelCategory.Valid() {
		return r.DLevelCategory
	}
	return models.CategoryForLevel(r.DLevel)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

package segment

import (
	"strings"

	"github.com/transponster/bot/internal/pkg/transcriber"
)

// Block is one diarized transcript segment
type Block struct {
	SpeakerID string
	Start     float64
	End       float64
	Text      string
}

// TranscriptBlocks groups words into blocks, one per continuous speaker run.
// Word texts are concatenated as is - spacing tokens carry their own separators.
func TranscriptBlocks(words []transcriber.Word) []Block {
	var res []Block
	var current *Block
	var text strings.Builder

	flush := func() {
		if current != nil {
			current.Text = text.String()
			res = append(res, *current)
			text.Reset()
		}
	}

	for _, w := range words {
		speaker := w.SpeakerID
		if speaker == "" {
			speaker = "unknown"
		}
		if current == nil || speaker != current.SpeakerID {
			flush()
			current = &Block{SpeakerID: speaker, Start: w.Start}
		}
		current.End = w.End
		text.WriteString(w.Text)
	}
	flush()
	return res
}

// RenderTranscript renders the full result as a time coded transcript.
// Falls back to the plain recognized text when no word data is present.
func RenderTranscript(result *transcriber.Result) string {
	if len(result.Words) == 0 {
		return result.Text
	}
	lines := make([]string, 0, len(result.Words))
	for _, b := range TranscriptBlocks(result.Words) {
		lines = append(lines,
			FormatTimestamp(b.Start)+" --> "+FormatTimestamp(b.End)+" - ["+b.SpeakerID+"]",
			"",
			b.Text,
			"")
	}
	return strings.Join(lines, "\n")
}

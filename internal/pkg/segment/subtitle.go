package segment

import (
	"strconv"
	"strings"

	"github.com/transponster/bot/internal/pkg/transcriber"
)

// Cue is one timed subtitle entry
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// Defaults for cue breaking
const (
	DefaultMaxCueChars    = 40
	DefaultMaxCueDuration = 4.0
)

// SubtitleCues builds subtitle cues from word level output. Only speech
// tokens are used. A cue closes on sentence terminal punctuation, when the
// joined text reaches maxChars, or when the cue spans maxDuration seconds.
func SubtitleCues(words []transcriber.Word, maxChars int, maxDuration float64) []Cue {
	if maxChars <= 0 {
		maxChars = DefaultMaxCueChars
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxCueDuration
	}

	var res []Cue
	var buf []string
	var start, end float64

	flush := func() {
		if len(buf) == 0 {
			return
		}
		res = append(res, Cue{
			Index: len(res) + 1,
			Start: start,
			End:   end,
			Text:  strings.Join(buf, " "),
		})
		buf = nil
	}

	for _, w := range words {
		if w.Type != "word" {
			continue
		}
		if len(buf) == 0 {
			start = w.Start
		}
		buf = append(buf, w.Text)
		end = w.End

		if endsSentence(w.Text) || joinedLen(buf) >= maxChars || end-start >= maxDuration {
			flush()
		}
	}
	flush()
	return res
}

func endsSentence(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasSuffix(t, ".") || strings.HasSuffix(t, "!") || strings.HasSuffix(t, "?")
}

func joinedLen(buf []string) int {
	res := len(buf) - 1
	for _, s := range buf {
		res += len([]rune(s))
	}
	return res
}

// RenderSRT renders cues as a standard numbered cue subtitle file
func RenderSRT(cues []Cue) string {
	var sb strings.Builder
	for _, c := range cues {
		sb.WriteString(strconv.Itoa(c.Index))
		sb.WriteString("\n")
		sb.WriteString(FormatTimestamp(c.Start) + " --> " + FormatTimestamp(c.End))
		sb.WriteString("\n")
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transponster/bot/internal/pkg/transcriber"
)

func words(ws ...transcriber.Word) []transcriber.Word {
	return ws
}

func word(text, speaker string, start, end float64) transcriber.Word {
	return transcriber.Word{Text: text, Type: "word", Start: start, End: end, SpeakerID: speaker}
}

func spacing(speaker string, start, end float64) transcriber.Word {
	return transcriber.Word{Text: " ", Type: "spacing", Start: start, End: end, SpeakerID: speaker}
}

func TestTranscriptBlocks_OneSpeaker(t *testing.T) {
	bs := TranscriptBlocks(words(
		word("Labas", "speaker_0", 0.1, 0.5),
		spacing("speaker_0", 0.5, 0.6),
		word("rytas.", "speaker_0", 0.6, 1.0)))

	assert.Equal(t, 1, len(bs))
	assert.Equal(t, "speaker_0", bs[0].SpeakerID)
	assert.Equal(t, "Labas rytas.", bs[0].Text)
	assert.Equal(t, 0.1, bs[0].Start)
	assert.Equal(t, 1.0, bs[0].End)
}

func TestTranscriptBlocks_SplitsOnSpeakerChange(t *testing.T) {
	bs := TranscriptBlocks(words(
		word("Labas.", "speaker_0", 0.1, 0.5),
		word("Sveiki.", "speaker_1", 0.6, 1.0),
		word("Kaip?", "speaker_0", 1.1, 1.5)))

	assert.Equal(t, 3, len(bs))
	assert.Equal(t, "speaker_0", bs[0].SpeakerID)
	assert.Equal(t, "speaker_1", bs[1].SpeakerID)
	assert.Equal(t, "speaker_0", bs[2].SpeakerID)
}

func TestTranscriptBlocks_EmptySpeakerIsUnknown(t *testing.T) {
	bs := TranscriptBlocks(words(word("Labas.", "", 0.1, 0.5)))

	assert.Equal(t, 1, len(bs))
	assert.Equal(t, "unknown", bs[0].SpeakerID)
}

func TestRenderTranscript(t *testing.T) {
	r := &transcriber.Result{Text: "Labas rytas.", Words: words(
		word("Labas", "speaker_0", 0.0, 0.5),
		spacing("speaker_0", 0.5, 0.6),
		word("rytas.", "speaker_0", 0.6, 1.2))}

	res := RenderTranscript(r)

	assert.Equal(t, "00:00:00,000 --> 00:00:01,200 - [speaker_0]\n\nLabas rytas.\n", res)
}

func TestRenderTranscript_NoWords_FallsBackToText(t *testing.T) {
	r := &transcriber.Result{Text: "Labas rytas."}

	assert.Equal(t, "Labas rytas.", RenderTranscript(r))
}

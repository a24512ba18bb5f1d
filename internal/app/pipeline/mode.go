package pipeline

import "strings"

// Mode selects the deliverables produced for one file
type Mode int

// Modes
const (
	ModeTranscript Mode = iota
	ModeSubtitles
	ModeBoth
)

func (m Mode) String() string {
	switch m {
	case ModeSubtitles:
		return "subtitles"
	case ModeBoth:
		return "both"
	}
	return "transcript"
}

// ClassifyMode derives the output mode from keywords in the file name.
// "both" wins over "subtitles", anything else means transcript only.
func ClassifyMode(fileName string) Mode {
	name := strings.ToLower(fileName)
	if strings.Contains(name, "both") || strings.Contains(name, "обидва") {
		return ModeBoth
	}
	if strings.Contains(name, "subtitles") || strings.Contains(name, "субтитри") {
		return ModeSubtitles
	}
	return ModeTranscript
}

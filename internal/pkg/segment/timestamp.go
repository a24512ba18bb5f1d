package segment

import (
	"fmt"
	"math"
)

// FormatTimestamp renders seconds as a fixed width HH:MM:SS,mmm value
// with millisecond rounding
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

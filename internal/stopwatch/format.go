package stopwatch

import (
	"fmt"
	"time"
)

// Zero is the display text of a zero duration.
const Zero = "00:00:00.000"

// Format renders d as HH:MM:SS.mmm. Hours and minutes are zero-padded to two
// digits, seconds to two integer digits with exactly three decimals. The value
// is truncated to the millisecond, so 59.9999s renders as 00:00:59.999 and
// never rolls into the next minute. Hours are not wrapped; values of 100 or
// more simply use more digits. Negative durations render as Zero.
func Format(d time.Duration) string {
	if d <= 0 {
		return Zero
	}

	ms := int64(d / time.Millisecond)
	hours := ms / int64(time.Hour/time.Millisecond)
	ms -= hours * int64(time.Hour/time.Millisecond)
	minutes := ms / int64(time.Minute/time.Millisecond)
	ms -= minutes * int64(time.Minute/time.Millisecond)
	seconds := ms / 1000
	ms -= seconds * 1000

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, ms)
}

package stores

import (
	"time"

	"github.com/oarkflow/date"
)

// parseFlexibleTime handles the timestamp shapes different SQL drivers hand
// back for the same column.
func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package fs

import (
	"fmt"
	"time"
)

const unit = 1024

var units = []string{"B", "KB", "MB", "GB", "TB"}

// ModTimeLayout is day/month/year with a 12 hour clock.
const ModTimeLayout = "02/01/2006 03:04:05 PM"

// SizeLabel formats n with binary steps and one decimal, e.g. 1536 -> "1.5 KB".
// Values past the last unit stay in TB.
func SizeLabel(n int64) string {
	size := float64(n)
	order := 0
	for size >= unit && order < len(units)-1 {
		size /= unit
		order++
	}
	return fmt.Sprintf("%.1f %s", size, units[order])
}

// ModTimeLabel formats t in local time with ModTimeLayout.
func ModTimeLabel(t time.Time) string {
	return t.Local().Format(ModTimeLayout)
}

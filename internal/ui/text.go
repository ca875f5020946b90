package ui

import (
	"time"

	"github.com/mattn/go-runewidth"
)

// Truncate shortens s to width terminal cells.
func Truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

// Clock renders a relay timestamp as local wall time. Unparseable values
// are shown as they came.
func Clock(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("15:04")
}

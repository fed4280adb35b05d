package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// wrapText wraps plain text to maxWidth display cells. Wide runes count
// double.
func wrapText(text string, maxWidth int) string {
	if maxWidth <= 10 {
		return text
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = wrapLine(line, maxWidth)
	}
	return strings.Join(lines, "\n")
}

// wrapLine breaks at the last space that fits, or mid-word when a single
// word is wider than the line.
func wrapLine(line string, maxWidth int) string {
	if runewidth.StringWidth(line) <= maxWidth {
		return line
	}

	var out []string
	var current []rune
	width := 0
	lastSpace := -1

	for _, r := range line {
		w := runewidth.RuneWidth(r)
		if width+w > maxWidth && width > 0 {
			if r == ' ' {
				out = append(out, string(current))
				current, width, lastSpace = current[:0], 0, -1
				continue
			}
			if lastSpace > 0 {
				out = append(out, strings.TrimRight(string(current[:lastSpace]), " "))
				current = append([]rune(nil), current[lastSpace+1:]...)
			} else {
				out = append(out, string(current))
				current = current[:0]
			}
			width = runewidth.StringWidth(string(current))
			lastSpace = -1
		}
		if r == ' ' {
			lastSpace = len(current)
		}
		current = append(current, r)
		width += w
	}
	if len(current) > 0 {
		out = append(out, string(current))
	}
	return strings.Join(out, "\n")
}

package tui

import (
	"fmt"
	"strings"
	"time"
)

// datePicker selects a calendar day no later than today.
type datePicker struct {
	day time.Time
	max time.Time
}

func newDatePicker(now time.Time) *datePicker {
	today := startOfDay(now)
	return &datePicker{day: today, max: today}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// move shifts the selection by days, clamped to today.
func (p *datePicker) move(days int) {
	p.clamp(p.day.AddDate(0, 0, days))
}

// moveMonth shifts the selection by months, clamped to today.
func (p *datePicker) moveMonth(months int) {
	p.clamp(p.day.AddDate(0, months, 0))
}

func (p *datePicker) clamp(next time.Time) {
	if next.After(p.max) {
		next = p.max
	}
	p.day = next
}

// View renders the month of the selection as a grid.
func (p *datePicker) View() string {
	var b strings.Builder
	b.WriteString(boldStyle.Render(p.day.Format("January 2006")))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Su Mo Tu We Th Fr Sa"))
	b.WriteString("\n")

	first := time.Date(p.day.Year(), p.day.Month(), 1, 0, 0, 0, 0, p.day.Location())
	b.WriteString(strings.Repeat("   ", int(first.Weekday())))
	for d := first; d.Month() == first.Month(); d = d.AddDate(0, 0, 1) {
		cell := fmt.Sprintf("%2d", d.Day())
		switch {
		case d.Equal(p.day):
			cell = selectedStyle.Render(cell)
		case d.After(p.max):
			cell = dimStyle.Render(cell)
		}
		b.WriteString(cell)
		if d.Weekday() == time.Saturday {
			b.WriteString("\n")
		} else {
			b.WriteString(" ")
		}
	}
	return strings.TrimRight(b.String(), " \n")
}

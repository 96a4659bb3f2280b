// Package display renders durations, timestamps, and currency amounts for
// the CLI and API consumers. Formatting never feeds back into billing math.
package display

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter formats amounts and timestamps for a locale and currency.
type Formatter struct {
	printer *message.Printer
	unit    currency.Unit
}

// NewFormatter builds a formatter for the given BCP 47 locale tag and ISO
// 4217 currency code, e.g. ("vi", "VND").
func NewFormatter(locale, currencyCode string) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("invalid currency %q: %w", currencyCode, err)
	}
	return &Formatter{
		printer: message.NewPrinter(tag),
		unit:    unit,
	}, nil
}

// Currency renders an amount in the smallest whole currency unit, with the
// locale's grouping and symbol, e.g. 30000 → "30.000 ₫" for vi/VND.
func (f *Formatter) Currency(amount int64) string {
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(amount)))
}

// Clock renders the time-of-day portion of a timestamp in local time.
func (f *Formatter) Clock(t time.Time) string {
	return t.Local().Format("15:04:05")
}

// Date renders the date portion of a timestamp in local time, day first.
func (f *Formatter) Date(t time.Time) string {
	return t.Local().Format("02/01/2006")
}

// Duration renders a fractional hour count compactly: seconds only below a
// minute, zero components elided. Examples: "45s", "3m 20s", "2h", "2h 30m",
// "1h 2m 3s".
func Duration(hours float64) string {
	// Round to the nearest second so e.g. 10.0/60.0 hours renders as
	// 10 minutes rather than 9m 59s after float truncation.
	totalSeconds := int(math.Round(hours * 3600))
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60

	switch {
	case h == 0 && m == 0:
		return fmt.Sprintf("%ds", s)
	case h == 0:
		return fmt.Sprintf("%dm %ds", m, s)
	case m == 0 && s == 0:
		return fmt.Sprintf("%dh", h)
	case s == 0:
		return fmt.Sprintf("%dh %dm", h, m)
	default:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
}

// Table renders rows as a plain aligned text table.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		// Extra cells beyond the header count are dropped.
		if len(cells) > len(widths) {
			cells = cells[:len(widths)]
		}
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
		}
		b.WriteString("\n")
	}
	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}

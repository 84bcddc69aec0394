package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ErrUnparsableDuration is returned when no duration can be read from the text.
var ErrUnparsableDuration = errors.New("unparsable duration")

var unitSeconds = map[string]float64{
	"ժ": 3600, "ժամ": 3600, "h": 3600, "hr": 3600, "hrs": 3600, "hour": 3600, "hours": 3600,
	"ր": 60, "րոպե": 60, "m": 60, "min": 60, "mins": 60, "minute": 60, "minutes": 60,
	"վ": 1, "վրկ": 1, "s": 1, "sec": 1, "secs": 1, "second": 1, "seconds": 1,
}

// ParseDuration reads "1ժ 30ր", "1h 30m", "1 hour 30 minutes", "01:30:00" or a
// bare number of minutes and returns the total in seconds.
func ParseDuration(raw string) (int, error) {
	text := strings.ToLower(CleanText(raw))
	if text == "" {
		return 0, ErrUnparsableDuration
	}
	if strings.Contains(text, ":") {
		if secs, ok := parseClock(text); ok {
			return secs, nil
		}
	}
	return parseUnits(text)
}

func parseClock(text string) (int, bool) {
	fields := strings.Fields(text)
	var clock string
	for _, f := range fields {
		if strings.Contains(f, ":") {
			clock = f
			break
		}
	}
	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	values := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		values[i] = n
	}
	if len(values) == 2 {
		return values[0]*60 + values[1], true
	}
	return values[0]*3600 + values[1]*60 + values[2], true
}

func parseUnits(text string) (int, error) {
	runes := []rune(text)
	var (
		total   float64
		matched bool
	)
	i := 0
	for i < len(runes) {
		if !unicode.IsDigit(runes[i]) {
			i++
			continue
		}
		start := i
		for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == ',') {
			i++
		}
		num, err := strconv.ParseFloat(strings.ReplaceAll(string(runes[start:i]), ",", "."), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnparsableDuration, text)
		}
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		unitStart := i
		for i < len(runes) && unicode.IsLetter(runes[i]) {
			i++
		}
		unit := string(runes[unitStart:i])
		if unit == "" {
			// a bare number is read as minutes
			total += num * 60
			matched = true
			continue
		}
		mult, ok := unitSeconds[unit]
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrUnparsableDuration, unit)
		}
		total += num * mult
		matched = true
	}
	if !matched {
		return 0, fmt.Errorf("%w: %q", ErrUnparsableDuration, text)
	}
	return int(math.Round(total)), nil
}

// FormatDuration renders seconds in the catalog's display form, e.g. "1ժ 30ր".
// The output always parses back to the same value.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0ր"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	parts := make([]string, 0, 3)
	if h > 0 {
		parts = append(parts, strconv.Itoa(h)+"ժ")
	}
	if m > 0 {
		parts = append(parts, strconv.Itoa(m)+"ր")
	}
	if s > 0 {
		parts = append(parts, strconv.Itoa(s)+"վ")
	}
	return strings.Join(parts, " ")
}

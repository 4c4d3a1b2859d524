package marketdata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a lookback window such as "30d", "6mo", "1y" or "max"
type Period struct {
	Label  string
	Years  int
	Months int
	Days   int
	// Max means all available history
	Max bool
}

// ParsePeriod parses a period label. Empty means one year.
func ParsePeriod(s string) (Period, error) {
	label := strings.ToLower(strings.TrimSpace(s))
	if label == "" {
		label = "1y"
	}
	if label == "max" {
		return Period{Label: label, Max: true}, nil
	}

	var unit string
	for _, suffix := range []string{"mo", "d", "w", "y"} {
		if strings.HasSuffix(label, suffix) {
			unit = suffix
			break
		}
	}
	if unit == "" {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}

	n, err := strconv.Atoi(strings.TrimSuffix(label, unit))
	if err != nil || n <= 0 {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}

	p := Period{Label: label}
	switch unit {
	case "d":
		p.Days = n
	case "w":
		p.Days = 7 * n
	case "mo":
		p.Months = n
	case "y":
		p.Years = n
	}
	return p, nil
}

// MustParsePeriod is ParsePeriod for constants
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Start returns the first day of the window ending on now's UTC date.
// Max returns the zero time.
func (p Period) Start(now time.Time) time.Time {
	if p.Max {
		return time.Time{}
	}
	return today(now).AddDate(-p.Years, -p.Months, -p.Days)
}

// Longer returns whichever period reaches further back from now
func (p Period) Longer(other Period, now time.Time) Period {
	if p.Max {
		return p
	}
	if other.Max {
		return other
	}
	if other.Start(now).Before(p.Start(now)) {
		return other
	}
	return p
}

func (p Period) String() string {
	return p.Label
}

func today(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

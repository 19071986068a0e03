package sub

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	// durationPattern matches relative ranges like "7d", "2w", "3m", "1y"
	durationPattern = regexp.MustCompile(`^(\d+)([dwmy])$`)
	dayStampPattern = regexp.MustCompile(`^\d{8}$`)
)

// ResolveTimerange converts a subscription timerange into the day stamp the
// extractor's published-after filter expects. A raw YYYYMMDD stamp passes
// through unchanged; relative ranges are resolved against now.
//
// Supported units:
//   - d: days
//   - w: weeks (7 days)
//   - m: months (30 days, approximation)
//   - y: years (365 days, approximation)
func ResolveTimerange(s string, now time.Time) (string, error) {
	if s == "" {
		return "", fmt.Errorf("timerange is empty")
	}
	if dayStampPattern.MatchString(s) {
		return s, nil
	}

	matches := durationPattern.FindStringSubmatch(s)
	if matches == nil {
		return "", fmt.Errorf("invalid timerange format: %s (expected YYYYMMDD or <number><unit>, e.g. 7d, 2w, 3m, 1y)", s)
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil || num < 0 {
		return "", fmt.Errorf("invalid number in timerange: %s", matches[1])
	}

	var duration time.Duration
	switch matches[2] {
	case "d":
		duration = time.Duration(num) * 24 * time.Hour
	case "w":
		duration = time.Duration(num) * 7 * 24 * time.Hour
	case "m":
		duration = time.Duration(num) * 30 * 24 * time.Hour
	case "y":
		duration = time.Duration(num) * 365 * 24 * time.Hour
	}

	return now.Add(-duration).Format("20060102"), nil
}

// Package cronexpr validates 5-field cron expressions with field-specific
// error messages and computes next fire times.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type field struct {
	name string
	min  int
	max  int
}

// The five fields in order. Day-of-week allows 7 as an alias for Sunday.
var fields = []field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 7},
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks a 5-field cron expression. Each field accepts *, */n, a-b,
// comma lists or a single integer within the field's range. Errors name the
// offending field so the API can surface them directly.
func Validate(expr string) error {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) != 5 {
		return fmt.Errorf("cron expression must have exactly 5 fields, got %d", len(parts))
	}

	for i, part := range parts {
		if err := validateField(part, fields[i]); err != nil {
			return err
		}
	}

	// Final authority on syntax is the parser that computes fire times, so
	// validation can never accept what scheduling would reject.
	if _, err := parser.Parse(normalize(expr)); err != nil {
		return fmt.Errorf("invalid cron expression: %v", err)
	}
	return nil
}

// normalize rewrites the day-of-week field so 7 means Sunday. The underlying
// parser only accepts 0-6 there.
func normalize(expr string) string {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) != 5 {
		return expr
	}
	parts[4] = normalizeDow(parts[4])
	return strings.Join(parts, " ")
}

func normalizeDow(part string) string {
	if part == "*" || strings.HasPrefix(part, "*/") {
		return part
	}
	var out []string
	for _, piece := range strings.Split(part, ",") {
		if piece == "7" {
			out = append(out, "0")
			continue
		}
		if low, high, ok := strings.Cut(piece, "-"); ok && high == "7" {
			if low == "7" {
				out = append(out, "0")
			} else {
				out = append(out, low+"-6", "0")
			}
			continue
		}
		out = append(out, piece)
	}
	return strings.Join(out, ",")
}

func validateField(part string, f field) error {
	if part == "*" {
		return nil
	}

	if step, ok := strings.CutPrefix(part, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n < 1 {
			return fmt.Errorf("%s field: step %q must be a positive integer", f.name, step)
		}
		return nil
	}

	for _, piece := range strings.Split(part, ",") {
		if low, high, ok := strings.Cut(piece, "-"); ok {
			a, err1 := parseInRange(low, f)
			b, err2 := parseInRange(high, f)
			if err1 != nil {
				return err1
			}
			if err2 != nil {
				return err2
			}
			if a > b {
				return fmt.Errorf("%s field: range %q is inverted", f.name, piece)
			}
			continue
		}
		if _, err := parseInRange(piece, f); err != nil {
			return err
		}
	}
	return nil
}

func parseInRange(s string, f field) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s field: %q is not a number", f.name, s)
	}
	if n < f.min || n > f.max {
		return 0, fmt.Errorf("%s field: %d is outside the valid range %d-%d", f.name, n, f.min, f.max)
	}
	return n, nil
}

// Next computes the first fire time strictly after the given instant.
// The expression must already have passed Validate.
func Next(expr string, after time.Time) (time.Time, error) {
	schedule, err := parser.Parse(normalize(expr))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(after), nil
}

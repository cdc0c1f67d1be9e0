// Package period handles the MM/YYYY bookkeeping periods typed into the
// closure form: input masking, validation and month ranges.
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	nonDigit   = regexp.MustCompile(`\D`)
	sixDigits  = regexp.MustCompile(`^\d{6}$`)
	ErrInvalid = errors.New("invalid period, use MMYYYY")
	ErrRange   = errors.New("initial period is after final period")
)

// Period is a calendar month.
type Period struct {
	Month int
	Year  int
}

// Mask formats raw keyboard input as MM/YYYY. Non-digits are dropped and
// anything past the sixth digit is discarded. Two digits or fewer are
// returned unchanged so the user can keep typing the month.
func Mask(input string) string {
	digits := nonDigit.ReplaceAllString(input, "")
	if len(digits) <= 2 {
		return digits
	}
	end := len(digits)
	if end > 6 {
		end = 6
	}
	return digits[:2] + "/" + digits[2:end]
}

// Strip removes the first "/" separator, mirroring what the form submits.
func Strip(s string) string {
	return strings.Replace(s, "/", "", 1)
}

// Valid reports whether s is six digits once the separator is stripped.
// It does not check the month; Parse does.
func Valid(s string) bool {
	return sixDigits.MatchString(Strip(s))
}

// Parse reads MMYYYY or MM/YYYY.
func Parse(s string) (Period, error) {
	raw := Strip(strings.TrimSpace(s))
	if !sixDigits.MatchString(raw) {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	month, _ := strconv.Atoi(raw[:2])
	year, _ := strconv.Atoi(raw[2:])
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: month %02d out of range", ErrInvalid, month)
	}
	if year < 1900 {
		return Period{}, fmt.Errorf("%w: year %d out of range", ErrInvalid, year)
	}
	return Period{Month: month, Year: year}, nil
}

// String renders MMYYYY, the format bots receive on their command line.
func (p Period) String() string {
	return fmt.Sprintf("%02d%04d", p.Month, p.Year)
}

// Display renders MM/YYYY.
func (p Period) Display() string {
	return fmt.Sprintf("%02d/%04d", p.Month, p.Year)
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// Next returns the following month.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Month: 1, Year: p.Year + 1}
	}
	return Period{Month: p.Month + 1, Year: p.Year}
}

// Range lists every month from `from` to `to`, both included.
func Range(from, to Period) ([]Period, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s > %s", ErrRange, from.Display(), to.Display())
	}
	var out []Period
	for cur := from; !to.Before(cur); cur = cur.Next() {
		out = append(out, cur)
	}
	return out, nil
}

// ProgressFor is the percentage reached after i of total periods are done,
// truncated and bounded to [0,100].
func ProgressFor(i, total int) int {
	if total <= 0 || i <= 0 {
		return 0
	}
	if i >= total {
		return 100
	}
	return i * 100 / total
}

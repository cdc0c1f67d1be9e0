// Package cnpj normalizes Brazilian company tax identifiers.
package cnpj

import "regexp"

var nonDigit = regexp.MustCompile(`\D`)

// Length is the number of digits in a CNPJ.
const Length = 14

// Normalize strips punctuation, e.g. "11.111.111/0001-92" -> "11111111000192".
func Normalize(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}

// Valid reports whether s holds exactly 14 digits once normalized.
// Check digits are not verified; the portal accepts what it issued.
func Valid(s string) bool {
	return len(Normalize(s)) == Length
}

// Format renders a CNPJ as 00.000.000/0000-00. Values that do not normalize
// to 14 digits are returned unchanged.
func Format(s string) string {
	d := Normalize(s)
	if len(d) != Length {
		return s
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}

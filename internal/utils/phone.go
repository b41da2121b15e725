package utils

import "strings"

// NormalizePhone strips everything but digits.
func NormalizePhone(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatPhone renders 10 or 11 digit numbers with dashes (010-1234-5678);
// other lengths are returned as bare digits.
func FormatPhone(v string) string {
	d := NormalizePhone(v)
	switch len(d) {
	case 11:
		return d[:3] + "-" + d[3:7] + "-" + d[7:]
	case 10:
		return d[:3] + "-" + d[3:6] + "-" + d[6:]
	}
	return d
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

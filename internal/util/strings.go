package util

import "strings"

// SafeTruncate returns at most maxLen leading bytes of s. Token and
// code values are logged through this so only a prefix ever reaches the
// log stream. A negative maxLen yields the empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so issuer and resource URLs
// compare equal regardless of how they were configured.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// Package util holds small helpers shared across packages: prefix-only
// truncation for logging secrets, URL normalization for issuer
// comparison, and IP classification backing the redirect URI SSRF
// checks.
package util

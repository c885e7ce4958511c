// Package testutil holds shared fixtures for the package tests: canned
// clients, codes, and tokens, PKCE pair generation, and small assertion
// helpers.
package testutil

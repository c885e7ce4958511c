// Package valkey backs the storage interfaces with a Valkey server
// (wire-compatible with Redis).
//
// The Store type implements [storage.ClientStore], [storage.CodeStore],
// and [storage.TokenStore], so a single connection serves all three.
// Use it when servers scale horizontally or state must survive a
// restart.
//
// Keys share a configurable prefix (default "mcpauth:") so the instance
// can be shared with other applications:
//
//	{prefix}client:{clientID}   -> JSON(Client)
//	{prefix}client:ip:{ip}      -> registration count (with TTL)
//	{prefix}code:{code}         -> JSON(AuthorizationCode) (with TTL)
//	{prefix}token:{value}       -> JSON(Token) (TTL for access tokens)
//
// Codes and access tokens expire through Valkey TTLs rather than a
// cleanup loop. ConsumeAuthorizationCode and RotateRefreshToken run as
// Lua scripts via EVAL, so the read-check-delete sequence is a single
// server-side step and at most one caller can win a given value even
// with many server instances sharing the store.
//
// Minimal setup:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "mcpauth:",
//	})
//
// Pass a tls.Config and password for encrypted connections to a managed
// instance. Client secret checks use bcrypt, so stored secrets are
// hashes and validation cost does not depend on where a mismatch
// occurs.
package valkey

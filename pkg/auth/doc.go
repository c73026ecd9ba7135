// Package auth defines the authenticated principal abstraction used across lectern.
//
// Identity itself is owned by an upstream system. Lectern only needs to know a
// principal's opaque ID and two capability flags: whether the principal is a
// teacher (may create institutes, be invited to roles) and whether it is a
// student. Principals are resolved from bearer tokens through a Directory:
//
//	token, hash, prefix, err := auth.NewTokenGenerator().GenerateToken()
//	// hand token to the client, store hash and prefix with the principal
//	p, err := directory.LookupByTokenHash(ctx, auth.HashToken(token))
//
// Tokens have the form lectern_<base64url(32 random bytes)> and are stored only
// as SHA256 hashes.
package auth

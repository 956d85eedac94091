package jwtx

import "errors"

// Verification outcomes. Callers only branch on ErrExpired; the other two
// exist so logs can tell tampering from garbage.
var (
	ErrExpired    = errors.New("jwtx: token expired")
	ErrMalformed  = errors.New("jwtx: malformed token")
	ErrInvalidSig = errors.New("jwtx: invalid signature")
)

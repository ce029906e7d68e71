package store

import "errors"

var (
	ErrPolicyConflict   = errors.New("policy version conflict")
	ErrSignupKeyInvalid = errors.New("signup key missing or revoked")
	ErrSignupKeyUsed    = errors.New("signup key already used")
	ErrUsernameTaken    = errors.New("username already taken")
)

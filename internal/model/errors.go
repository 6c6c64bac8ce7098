package model

import "errors"

var (
	ErrAuth         = errors.New("authentication failed")
	ErrTokenExpired = errors.New("access token expired")
	ErrCancelled    = errors.New("cancelled")
)

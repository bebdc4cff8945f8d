package domain

import "errors"

var (
	ErrPresenceNotFound = errors.New("interpreter not registered")
	ErrRequestNotFound  = errors.New("request not found")
	ErrSessionNotFound  = errors.New("session not found")
)

package domain

import "errors"

var (
	ErrPlayerNotFound   = errors.New("player not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrConnectionClosed = errors.New("connection closed")
)

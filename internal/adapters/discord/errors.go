package discord

import "errors"

// Sentinel errors for the Discord adapter.
var (
	ErrNoToken         = errors.New("discord token is empty")
	ErrNoChannel       = errors.New("target channel id is empty")
	ErrChannelNotFound = errors.New("target channel not found")
	ErrUnknownUser     = errors.New("user not found")
)

package twitch

import "errors"

var (
	// ErrAuth means the access token is missing, invalid or expired. The
	// app degrades to logged-out browsing when it sees this.
	ErrAuth = errors.New("twitch: not authorized")

	// ErrChannelNotFound is returned when a login name cannot be resolved.
	ErrChannelNotFound = errors.New("twitch: channel not found")

	// ErrRaid wraps a raid start or cancel rejected by the platform.
	ErrRaid = errors.New("twitch: raid rejected")

	// ErrTransport marks a dropped push connection. The eventsub client
	// reconnects on its own; this only surfaces in logs.
	ErrTransport = errors.New("twitch: push connection lost")
)

// Package domain defines the core data types and errors shared across the
// raccoon proxy, session store, and framing layers.
package domain

import "time"

// DefaultRouteKey names the mandatory fallback entry of a [Routes] table.
const DefaultRouteKey = "default"

// Routes maps a normalized host key (the Host header with "." replaced by
// "_") to a backend "ip:port" address.
type Routes map[string]string

// Session is a single challenge-issued session token and its expiry.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the session expiry is strictly before now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// Package store persists draft snapshots. Every implementation returns
// sentinel.ErrNotFound from Load when no live snapshot exists.
package store

import "time"

// DefaultTTL bounds how long an abandoned draft survives.
const DefaultTTL = 7 * 24 * time.Hour

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

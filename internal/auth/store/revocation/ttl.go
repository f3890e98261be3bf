// Package revocation records revoked access-token JTIs until the token would
// have expired anyway.
package revocation

import (
	"fmt"
	"time"

	"intake/pkg/platform/sentinel"
)

// Clock returns the current time. Injected for tests.
type Clock func() time.Time

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}

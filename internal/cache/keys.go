package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TerminalJobTTL bounds how long a completed or failed job record is served
// from Redis before falling back to the store.
const TerminalJobTTL = 30 * time.Minute

func JobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

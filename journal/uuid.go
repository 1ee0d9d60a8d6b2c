package journal

import (
	"sync"
	"time"

	"github.com/gocql/gocql"
)

// A UUIDSource mints the time-based UUIDs assigned to journaled events.
type UUIDSource func() gocql.UUID

// monotonicUUIDSource returns a UUIDSource whose UUID timestamps never step
// backwards across the UUIDs it mints, even if the wall clock does. Each call
// returns an independent source with its own ordering state. Within one atomic
// write this yields the non-decreasing time UUIDs the tag view relies on.
func monotonicUUIDSource() UUIDSource {
	var (
		mu   sync.Mutex
		last time.Time
	)

	return func() gocql.UUID {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if !now.After(last) {
			now = last.Add(100 * time.Nanosecond)
		}
		last = now

		return gocql.UUIDFromTime(now)
	}
}

// timeBucketOf returns the time-bucket key for a time UUID: the UTC day the
// UUID's timestamp falls in.
func timeBucketOf(u gocql.UUID) string {
	return u.Time().UTC().Format("20060102")
}

// Package connid allocates process-wide connection identifiers.
package connid

import (
	"fmt"
	"sync/atomic"
)

var counter atomic.Int64

// Next returns the next identifier, "conn-1", "conn-2", ... The counter is
// monotonic for the process lifetime and never reused.
func Next() string {
	return fmt.Sprintf("conn-%d", counter.Add(1))
}

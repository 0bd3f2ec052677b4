// Package lock provides mutexes with optional runtime deadlock detection.
package lock

import (
	"os"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// RWMutex is a drop-in replacement for sync.RWMutex which can detect
// potential deadlocks at runtime. Detection is off unless
// GITHUB_MIRROR_DEADLOCK_TIMEOUT is set to a valid duration.
type RWMutex = deadlock.RWMutex

// Mutex is a drop-in replacement for sync.Mutex, see RWMutex.
type Mutex = deadlock.Mutex

func init() {
	deadlock.Opts.Disable = true

	if v := os.Getenv("GITHUB_MIRROR_DEADLOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			deadlock.Opts.Disable = false
			deadlock.Opts.DeadlockTimeout = d
		}
	}
}

//go:build deadlock

// Package sync provides the lock types used by the relay's connection
// registry and rate limiter. Building with -tags deadlock swaps the mutexes
// for go-deadlock ones that report lock-order inversions and stuck locks.
package sync

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

// Mutex reports locks held longer than deadlock.Opts.DeadlockTimeout.
type Mutex = deadlock.Mutex

// RWMutex reports locks held longer than deadlock.Opts.DeadlockTimeout.
type RWMutex = deadlock.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

// Enabled reports whether deadlock detection is compiled in.
const Enabled = true

func init() {
	// Registry locks are only held for map updates; anything close to this
	// is a bug.
	deadlock.Opts.DeadlockTimeout = 10 * time.Second

	if os.Getenv("NRELAY_NO_DEADLOCK_DETECT") != "" {
		deadlock.Opts.Disable = true
		return
	}

	deadlock.Opts.PrintAllCurrentGoroutines = true
	deadlock.Opts.LogBuf = os.Stderr
	deadlock.Opts.OnPotentialDeadlock = func() {
		log.Fatal().Msg("potential deadlock detected")
	}

	log.Warn().Msg("deadlock detection enabled")
}

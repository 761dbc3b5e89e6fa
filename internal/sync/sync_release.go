//go:build !deadlock

// Package sync provides the lock types used by the relay's connection
// registry and rate limiter. Building with -tags deadlock swaps the mutexes
// for go-deadlock ones that report lock-order inversions and stuck locks.
package sync

import "sync"

// Mutex is the standard sync.Mutex.
type Mutex = sync.Mutex

// RWMutex is the standard sync.RWMutex.
type RWMutex = sync.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

// Enabled reports whether deadlock detection is compiled in.
const Enabled = false

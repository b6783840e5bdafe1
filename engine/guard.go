package engine

import (
	"errors"
	"sync/atomic"
)

var ErrReentrantCall = errors.New("engine: execution already in flight")

// reentrancyGuard serializes the dispatching entry points: exactly one
// execution may be mid-flight per engine instance. Acquisition is scoped —
// the returned release runs in a defer so every exit path, including an
// aborted dispatch, unsets the guard.
type reentrancyGuard struct {
	held atomic.Bool
}

func (g *reentrancyGuard) acquire() (release func(), err error) {
	if !g.held.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { g.held.Store(false) }, nil
}

// Package executor is the destination-side dispatch boundary. It forwards a
// request's payload to the receiver's registered handler and translates
// every failure mode — error return, panic, exhausted gas budget — into a
// plain (success, resultBytes) pair. The engine must never abort on a
// destination-side failure, so nothing escapes a dispatch.
package executor

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// CallContext is handed to an ExecuteHandler. Handlers meter their own work
// against Gas; exceeding the budget aborts only the handler, never the
// engine operation around it.
type CallContext struct {
	FromChainID uint64
	From        common.Address
	Nonce       uint64
	Data        []byte
	Gas         *GasMeter
}

// FallbackContext is handed to a FallbackHandler after a failed execution.
type FallbackContext struct {
	ToChainID uint64
	To        common.Address
	Nonce     uint64
	Data      []byte
	Reason    []byte
	Gas       *GasMeter
}

// ExecuteHandler is the capability an application exposes to receive
// cross-network calls.
type ExecuteHandler interface {
	Execute(ctx *CallContext) ([]byte, error)
}

// FallbackHandler is the capability an application exposes to be notified
// of its own failed outbound calls.
type FallbackHandler interface {
	Fallback(ctx *FallbackContext) ([]byte, error)
}

// Router resolves receiver addresses to registered handlers and performs the
// guarded dispatch. The registry is its own concern so the engine stays free
// of application wiring.
type Router struct {
	mu   sync.RWMutex
	exec map[common.Address]ExecuteHandler
	fall map[common.Address]FallbackHandler
}

func NewRouter() *Router {
	return &Router{
		exec: make(map[common.Address]ExecuteHandler),
		fall: make(map[common.Address]FallbackHandler),
	}
}

// RegisterExecute binds an execute handler to a receiver address,
// replacing any previous binding.
func (r *Router) RegisterExecute(addr common.Address, h ExecuteHandler) {
	r.mu.Lock()
	r.exec[addr] = h
	r.mu.Unlock()
}

// RegisterFallback binds a fallback handler to a fallback address.
func (r *Router) RegisterFallback(addr common.Address, h FallbackHandler) {
	r.mu.Lock()
	r.fall[addr] = h
	r.mu.Unlock()
}

// DispatchExecute runs the receiver's execute handler under the given gas
// budget. It reports success, the handler's result or diagnostic bytes, and
// the gas actually consumed (always within budget).
func (r *Router) DispatchExecute(fromChainID uint64, from, to common.Address, data []byte, nonce uint64, budget uint64) (ok bool, result []byte, gasUsed uint64) {
	r.mu.RLock()
	h := r.exec[to]
	r.mu.RUnlock()
	if h == nil {
		return false, []byte("no execute handler registered for receiver"), 0
	}
	meter := NewGasMeter(budget)
	ctx := &CallContext{FromChainID: fromChainID, From: from, Nonce: nonce, Data: data, Gas: meter}
	ok, result = guarded(func() ([]byte, error) { return h.Execute(ctx) })
	return ok, result, meter.Used()
}

// DispatchFallback runs the fallback handler bound to the request's fallback
// address, forwarding the original payload and the recorded failure reason.
func (r *Router) DispatchFallback(fallback common.Address, toChainID uint64, to common.Address, data []byte, nonce uint64, reason []byte, budget uint64) (ok bool, result []byte, gasUsed uint64) {
	r.mu.RLock()
	h := r.fall[fallback]
	r.mu.RUnlock()
	if h == nil {
		return false, []byte("no fallback handler registered"), 0
	}
	meter := NewGasMeter(budget)
	ctx := &FallbackContext{ToChainID: toChainID, To: to, Nonce: nonce, Data: data, Reason: reason, Gas: meter}
	ok, result = guarded(func() ([]byte, error) { return h.Fallback(ctx) })
	return ok, result, meter.Used()
}

// guarded invokes fn and converts every abnormal termination into
// (false, diagnosticBytes).
func guarded(fn func() ([]byte, error)) (ok bool, result []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			result = []byte(fmt.Sprintf("handler aborted: %v", rec))
			log.Debug("Dispatch aborted", "panic", rec)
		}
	}()
	res, err := fn()
	if err != nil {
		return false, []byte(err.Error())
	}
	return true, res
}

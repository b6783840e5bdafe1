// Package engine drives the request lifecycle state machine: call on the
// source network, execute on the destination network, and the fallback and
// retry recovery paths in between. One Engine instance serves one network
// deployment; all protocol counters live on the instance.
package engine

import (
	"errors"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/anycall-protocol/go-anycall/executor"
	"github.com/anycall-protocol/go-anycall/journal"
	"github.com/anycall-protocol/go-anycall/ledger"
	"github.com/anycall-protocol/go-anycall/params"
	"github.com/anycall-protocol/go-anycall/store"
	"github.com/anycall-protocol/go-anycall/types"
)

var (
	ErrPaused           = errors.New("engine: paused")
	ErrNotAllowed       = errors.New("engine: caller/target pair not whitelisted")
	ErrNotRelayer       = errors.New("engine: caller is not the trusted relayer")
	ErrWrongDestination = errors.New("engine: request is not destined for this network")
	ErrWrongSource      = errors.New("engine: request did not originate on this network")
	ErrRequestMismatch  = errors.New("engine: request id does not match the supplied args")
	ErrNonceTooHigh     = errors.New("engine: nonce exceeds the minted sequence counter")
	ErrExpired          = errors.New("engine: request expired")
	ErrHashMismatch     = errors.New("engine: digest does not match the stored record")
	ErrGasLimitTooLow   = errors.New("engine: execution gas limit below protocol minimum")
)

// Engine is the lifecycle state machine for one network deployment.
type Engine struct {
	chainID uint64
	cfg     *params.Config

	ledger *ledger.CreditLedger
	store  *store.StateStore
	jrn    journal.Writer
	router *executor.Router

	admin        common.Address
	pendingAdmin common.Address

	relayer          common.Address
	pendingRelayer   common.Address
	relayerEffective time.Time

	paused    bool
	whitelist mapset.Set[callPair]

	// nonce is the per-source-network call sequence counter. AnyCall and
	// Retry are the only minting sites; values are never reused.
	nonce uint64

	guard reentrancyGuard
	mu    sync.Mutex
	now   func() time.Time
	log   log.Logger

	callIntentFeed event.Feed
	execResultFeed event.Feed
	fallbackFeed   event.Feed
}

// New wires an engine for the given network. jrn may be journal.Discard.
func New(chainID uint64, cfg *params.Config, admin, relayer common.Address, l *ledger.CreditLedger, s *store.StateStore, jrn journal.Writer, r *executor.Router) (*Engine, error) {
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	if jrn == nil {
		jrn = journal.Discard
	}
	return &Engine{
		chainID:   chainID,
		cfg:       cfg,
		ledger:    l,
		store:     s,
		jrn:       jrn,
		router:    r,
		admin:     admin,
		relayer:   relayer,
		whitelist: mapset.NewSet[callPair](),
		now:       time.Now,
		log:       log.New("module", "engine", "chain", chainID),
	}, nil
}

// ChainID returns the network this engine is deployed on.
func (e *Engine) ChainID() uint64 { return e.chainID }

// Nonce returns the current value of the sequence counter.
func (e *Engine) Nonce() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonce
}

// AnyCall accepts a cross-network call request. It mints the next sequence
// number, stamps the canonical ExecArgs, charges the source-side fee,
// persists the pending record and emits the call intent for the relayer.
// The returned id is the request's identity for its whole life.
func (e *Engine) AnyCall(caller common.Address, call types.CallArgs) (types.RequestID, error) {
	if call.ExecGasLimit < params.MinExecGasLimit {
		rejectCounter.Inc(1)
		return types.RequestID{}, ErrGasLimitTooLow
	}

	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		rejectCounter.Inc(1)
		return types.RequestID{}, ErrPaused
	}
	if e.cfg.WhitelistEnabled {
		pair := callPair{From: caller, ToChainID: call.ToChainID, To: call.To}
		if !e.whitelist.Contains(pair) {
			e.mu.Unlock()
			rejectCounter.Inc(1)
			return types.RequestID{}, ErrNotAllowed
		}
	}
	e.mu.Unlock()

	// Fee first: a caller that cannot pay must leave no trace behind.
	if err := e.ledger.ChargeOnCall(caller, e.cfg.GasPrice); err != nil {
		rejectCounter.Inc(1)
		return types.RequestID{}, err
	}

	e.mu.Lock()
	e.nonce++
	nonce := e.nonce
	e.mu.Unlock()

	args := types.Stamp(e.chainID, caller, nonce, call)
	id := args.ID()
	digest := args.Digest()

	if err := e.store.Create(id, digest); err != nil {
		// A fresh nonce cannot collide; this is a store fault, not a
		// caller error.
		return types.RequestID{}, err
	}

	callCounter.Inc(1)
	e.jrn.Append(&journal.Record{Kind: journal.KindCallIntent, ID: id, Digest: digest, Args: *args})
	e.callIntentFeed.Send(CallIntentEvent{ID: id, Args: args})
	e.log.Debug("Call accepted", "id", id, "to", call.To, "toChain", call.ToChainID, "nonce", nonce)
	return id, nil
}

// AnyExec runs a relayed request against its receiver on this network. Only
// the trusted relayer may submit, and only one execution may be mid-flight.
// A destination-handler failure never surfaces as an error: it is recorded
// as a Fail state plus an emitted diagnostic, recoverable via fallback or
// retry. The gas-accounting window is settled on every path.
func (e *Engine) AnyExec(operator common.Address, args *types.ExecArgs) error {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		rejectCounter.Inc(1)
		return ErrPaused
	}
	if operator != e.relayer {
		e.mu.Unlock()
		rejectCounter.Inc(1)
		return ErrNotRelayer
	}
	e.mu.Unlock()

	release, err := e.guard.acquire()
	if err != nil {
		return err
	}
	defer release()

	if args.ToChainID != e.chainID {
		rejectCounter.Inc(1)
		return ErrWrongDestination
	}

	id := args.ID()
	digest := args.Digest()

	win, err := e.ledger.OpenWindow(args.To, args.ExecGasLimit, args.RecrGasLimit, e.cfg.GasPrice)
	if err != nil {
		rejectCounter.Inc(1)
		return err
	}

	start := e.now()
	var used uint64
	// Settlement runs unconditionally, dispatch failure included.
	defer func() { win.Settle(used) }()

	ok, result, used := e.router.DispatchExecute(args.FromChainID, args.From, args.To, args.Data, args.Nonce, args.ExecGasLimit)
	execTimer.UpdateSince(start)
	execCounter.Inc(1)

	e.jrn.Append(&journal.Record{Kind: journal.KindExecResult, ID: id, Digest: digest, Args: *args, Success: ok, Aux: result})
	e.execResultFeed.Send(ExecResultEvent{ID: id, Args: args, Success: ok, Result: result})

	if ok {
		// The record (if this network holds one) stays Sent: the emitted
		// exec-result is the caller's proof of success.
		e.log.Debug("Execution succeeded", "id", id, "to", args.To, "gasUsed", used)
		return nil
	}

	execFailCounter.Inc(1)
	e.log.Debug("Execution failed", "id", id, "to", args.To, "reason", string(result))
	return e.markFailed(id, digest, result)
}

// AutoFallback is the operator-invoked recovery step after an observed
// execution failure. It runs on the request's source network: the record
// moves to Fail, and when a fallback receiver was designated the engine
// dispatches to it within the configured allowance. A failed attempt leaves
// the record in Fail with the fresh reason; caller-driven fallback stays
// available until expiration.
func (e *Engine) AutoFallback(operator common.Address, args *types.ExecArgs, reason []byte) error {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		rejectCounter.Inc(1)
		return ErrPaused
	}
	if operator != e.relayer {
		e.mu.Unlock()
		rejectCounter.Inc(1)
		return ErrNotRelayer
	}
	e.mu.Unlock()

	release, err := e.guard.acquire()
	if err != nil {
		return err
	}
	defer release()

	if args.FromChainID != e.chainID {
		rejectCounter.Inc(1)
		return ErrWrongSource
	}

	id := args.ID()
	digest := args.Digest()

	rec, err := e.store.Get(id)
	if err != nil {
		rejectCounter.Inc(1)
		return err
	}
	if rec.Digest != digest {
		rejectCounter.Inc(1)
		return ErrHashMismatch
	}
	if err := e.markFailed(id, digest, reason); err != nil {
		return err
	}

	if !args.HasFallback() {
		// Nothing to call; the record stays Fail permanently unless the
		// caller retries.
		e.jrn.Append(&journal.Record{Kind: journal.KindFallbackResult, ID: id, Digest: digest, Args: *args, Success: false, Aux: reason})
		e.fallbackFeed.Send(FallbackResultEvent{ID: id, Digest: digest, Args: args, Reason: reason, Success: false})
		e.log.Debug("No fallback receiver designated", "id", id)
		return nil
	}

	ok := e.dispatchFallback(id, digest, args, reason)
	if ok {
		return e.store.Transition(id, types.StatusFallbackSuccess, nil)
	}
	return nil
}

// AnyFallback is the caller-driven fallback path. Anyone may submit it with
// the original ExecArgs; the stored digest is the anti-tamper anchor that
// guarantees the replayed args are exactly the ones accepted at call time.
func (e *Engine) AnyFallback(id types.RequestID, args *types.ExecArgs) error {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		rejectCounter.Inc(1)
		return ErrPaused
	}
	e.mu.Unlock()

	release, err := e.guard.acquire()
	if err != nil {
		return err
	}
	defer release()

	rec, err := e.checkResubmission(id, args)
	if err != nil {
		rejectCounter.Inc(1)
		return err
	}

	ok := e.dispatchFallback(id, args.Digest(), args, rec.Reason)
	if ok {
		return e.store.Transition(id, types.StatusFallbackSuccess, nil)
	}
	return nil
}

// Retry re-submits a failed request as a brand-new call with fresh gas
// limits. The old record is left in Fail permanently as audit trail; the
// retried delivery gets a new sequence number and therefore a new id.
func (e *Engine) Retry(caller common.Address, id types.RequestID, args *types.ExecArgs, newExecLimit, newRecrLimit uint64) (types.RequestID, error) {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		rejectCounter.Inc(1)
		return types.RequestID{}, ErrPaused
	}
	if e.cfg.WhitelistEnabled {
		// A retry mints a fresh call intent, so the original pair must
		// still be whitelisted.
		pair := callPair{From: args.From, ToChainID: args.ToChainID, To: args.To}
		if !e.whitelist.Contains(pair) {
			e.mu.Unlock()
			rejectCounter.Inc(1)
			return types.RequestID{}, ErrNotAllowed
		}
	}
	e.mu.Unlock()

	if newExecLimit < params.MinExecGasLimit {
		rejectCounter.Inc(1)
		return types.RequestID{}, ErrGasLimitTooLow
	}
	if _, err := e.checkResubmission(id, args); err != nil {
		rejectCounter.Inc(1)
		return types.RequestID{}, err
	}

	if err := e.ledger.ChargeOnCall(caller, e.cfg.GasPrice); err != nil {
		rejectCounter.Inc(1)
		return types.RequestID{}, err
	}

	e.mu.Lock()
	e.nonce++
	nonce := e.nonce
	e.mu.Unlock()

	fresh := *args
	fresh.Nonce = nonce
	fresh.ExecGasLimit = newExecLimit
	fresh.RecrGasLimit = newRecrLimit
	newID := fresh.ID()
	newDigest := fresh.Digest()

	if err := e.store.Create(newID, newDigest); err != nil {
		return types.RequestID{}, err
	}

	retryCounter.Inc(1)
	e.jrn.Append(&journal.Record{Kind: journal.KindCallIntent, ID: newID, Digest: newDigest, Args: fresh})
	e.callIntentFeed.Send(CallIntentEvent{ID: newID, Args: &fresh})
	e.log.Debug("Request retried", "old", id, "new", newID, "nonce", nonce)
	return newID, nil
}

// MarkRetried records that a retried successor of a failed request executed
// successfully, closing the old record terminally. Operator-invoked; the
// retry itself never touches the old record.
func (e *Engine) MarkRetried(operator common.Address, id types.RequestID) error {
	e.mu.Lock()
	if operator != e.relayer {
		e.mu.Unlock()
		return ErrNotRelayer
	}
	e.mu.Unlock()
	return e.store.Transition(id, types.StatusRetrySuccess, nil)
}

// checkResubmission validates a caller-supplied (id, args) pair against the
// stored record. The checks are ordered as documented: identity, source
// network, nonce sanity bound, stored status, expiration, digest. All
// violations are fatal, non-retriable rejections.
func (e *Engine) checkResubmission(id types.RequestID, args *types.ExecArgs) (*types.RequestState, error) {
	if args.ID() != id {
		return nil, ErrRequestMismatch
	}
	if args.FromChainID != e.chainID {
		return nil, ErrWrongSource
	}
	e.mu.Lock()
	minted := e.nonce
	e.mu.Unlock()
	if args.Nonce > minted {
		return nil, ErrNonceTooHigh
	}
	rec, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.StatusFail {
		return nil, store.ErrInvalidTransition
	}
	deadline := time.Unix(int64(rec.CreatedAt), 0).Add(e.cfg.ExpireWindow)
	if e.now().After(deadline) {
		return nil, ErrExpired
	}
	if args.Digest() != rec.Digest {
		return nil, ErrHashMismatch
	}
	return rec, nil
}

// dispatchFallback runs the fallback handler within the configured
// allowance and records the outcome. A failed attempt refreshes the stored
// reason; the state machine stays in Fail.
func (e *Engine) dispatchFallback(id types.RequestID, digest common.Hash, args *types.ExecArgs, reason []byte) bool {
	ok, result, used := e.router.DispatchFallback(args.Fallback, args.ToChainID, args.To, args.Data, args.Nonce, reason, e.cfg.AutoFallbackExecGas)
	fallbackCounter.Inc(1)

	e.jrn.Append(&journal.Record{Kind: journal.KindFallbackResult, ID: id, Digest: digest, Args: *args, Success: ok, Aux: result})
	e.fallbackFeed.Send(FallbackResultEvent{ID: id, Digest: digest, Args: args, Reason: reason, Success: ok})

	if !ok {
		fallbackFailCounter.Inc(1)
		e.log.Debug("Fallback failed", "id", id, "reason", string(result), "gasUsed", used)
		if err := e.store.Transition(id, types.StatusFail, result); err != nil {
			e.log.Error("Failed to refresh failure reason", "id", id, "err", err)
		}
		return false
	}
	e.log.Debug("Fallback succeeded", "id", id, "gasUsed", used)
	return true
}

// markFailed moves the record to Fail, creating it first when this network
// has never seen the request (the destination side learns about a request
// through its failure).
func (e *Engine) markFailed(id types.RequestID, digest common.Hash, reason []byte) error {
	err := e.store.Transition(id, types.StatusFail, reason)
	if errors.Is(err, store.ErrNotFound) {
		return e.store.CreateFailed(id, digest, reason)
	}
	return err
}

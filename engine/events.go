package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/anycall-protocol/go-anycall/types"
)

// CallIntentEvent announces an accepted call for the relay operator to carry
// to the destination network.
type CallIntentEvent struct {
	ID   types.RequestID
	Args *types.ExecArgs
}

// ExecResultEvent reports the outcome of a destination-side dispatch.
type ExecResultEvent struct {
	ID      types.RequestID
	Args    *types.ExecArgs
	Success bool
	Result  []byte
}

// FallbackResultEvent reports the outcome of a fallback attempt, automatic
// or caller-driven.
type FallbackResultEvent struct {
	ID      types.RequestID
	Digest  common.Hash
	Args    *types.ExecArgs
	Reason  []byte
	Success bool
}

// SubscribeCallIntents delivers CallIntentEvents to the given channel.
func (e *Engine) SubscribeCallIntents(ch chan<- CallIntentEvent) event.Subscription {
	return e.callIntentFeed.Subscribe(ch)
}

// SubscribeExecResults delivers ExecResultEvents to the given channel.
func (e *Engine) SubscribeExecResults(ch chan<- ExecResultEvent) event.Subscription {
	return e.execResultFeed.Subscribe(ch)
}

// SubscribeFallbackResults delivers FallbackResultEvents to the given channel.
func (e *Engine) SubscribeFallbackResults(ch chan<- FallbackResultEvent) event.Subscription {
	return e.fallbackFeed.Subscribe(ch)
}

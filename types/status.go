package types

import "github.com/ethereum/go-ethereum/common"

// Status is the lifecycle state of a request record. The numeric values are
// storage- and wire-stable; do not reorder.
type Status uint8

const (
	// StatusSent is the initial state of every accepted call. A successful
	// destination execution leaves the record in StatusSent: the emitted
	// exec-result record is the caller's proof of success and no further
	// transition is needed.
	StatusSent Status = iota

	// StatusFail records a destination-handler failure. The only ways out
	// are a successful fallback or supersession by a retried request.
	StatusFail

	// StatusFallbackSuccess is terminal: the fallback handler ran.
	StatusFallbackSuccess

	// StatusRetrySuccess is terminal: the request was superseded by a
	// retried request whose execution the operator confirmed.
	StatusRetrySuccess
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusFail:
		return "fail"
	case StatusFallbackSuccess:
		return "fallback_success"
	case StatusRetrySuccess:
		return "retry_success"
	}
	return "unknown"
}

// Terminal reports whether no further transition may leave this state.
func (s Status) Terminal() bool {
	return s == StatusFallbackSuccess || s == StatusRetrySuccess
}

// CanTransitionTo reports whether s -> next is a legal lifecycle edge.
// Fail -> Fail is allowed so a failed fallback attempt can refresh the
// stored reason without widening the state space.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusSent:
		return next == StatusFail
	case StatusFail:
		return next == StatusFail || next == StatusFallbackSuccess || next == StatusRetrySuccess
	}
	return false
}

// RequestState is the durable lifecycle record of one request. The digest is
// written once at creation and never changes afterwards: it is the integrity
// anchor every later fallback/retry submission is checked against.
type RequestState struct {
	Status    Status
	Digest    common.Hash
	Reason    []byte // last failure reason, empty if none
	CreatedAt uint64 // unix seconds at record creation
	UpdatedAt uint64 // unix seconds of the last transition
}

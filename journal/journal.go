// Package journal persists the protocol's externally observable records in
// an append-only log. The off-chain relay operator tails this log to learn
// about call intents on the source network and to submit confirmations on
// the destination network.
package journal

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/tidwall/wal"

	"github.com/anycall-protocol/go-anycall/types"
)

// Kind discriminates the record payloads. Values are storage-stable.
type Kind uint8

const (
	KindCallIntent Kind = iota + 1
	KindExecResult
	KindFallbackResult
	KindDeposit
	KindWithdraw
	KindPremium
	KindArrears
)

func (k Kind) String() string {
	switch k {
	case KindCallIntent:
		return "call_intent"
	case KindExecResult:
		return "exec_result"
	case KindFallbackResult:
		return "fallback_result"
	case KindDeposit:
		return "deposit"
	case KindWithdraw:
		return "withdraw"
	case KindPremium:
		return "premium"
	case KindArrears:
		return "arrears"
	}
	return "unknown"
}

// Record is one journal entry. Fields that do not apply to a Kind are left
// at their zero value; Aux carries kind-specific bytes (execution result,
// failure reason, or an amount encoded big-endian).
type Record struct {
	Kind    Kind
	ID      common.Hash
	Digest  common.Hash
	Account common.Address
	Args    types.ExecArgs
	Success bool
	Aux     []byte
}

// Writer is the append side of the journal. Components that only emit
// records depend on this rather than on the full Journal.
type Writer interface {
	Append(rec *Record) (uint64, error)
}

var ErrClosed = errors.New("journal: closed")

// Journal is an append-only, RLP-framed record log backed by a write-ahead
// log on disk. Indexes are contiguous and start at 1.
type Journal struct {
	mu     sync.Mutex
	log    *wal.Log
	last   uint64
	closed bool
}

// Open opens (or creates) a journal at the given directory.
func Open(dir string) (*Journal, error) {
	l, err := wal.Open(dir, nil)
	if err != nil {
		return nil, err
	}
	last, err := l.LastIndex()
	if err != nil {
		l.Close()
		return nil, err
	}
	return &Journal{log: l, last: last}, nil
}

// Append writes a record and returns its index.
func (j *Journal) Append(rec *Record) (uint64, error) {
	enc, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return 0, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}
	idx := j.last + 1
	if err := j.log.Write(idx, enc); err != nil {
		return 0, err
	}
	j.last = idx
	return idx, nil
}

// Read decodes the record at the given index.
func (j *Journal) Read(index uint64) (*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	data, err := j.log.Read(index)
	if err != nil {
		return nil, err
	}
	rec := new(Record)
	if err := rlp.DecodeBytes(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// LastIndex returns the index of the newest record, zero when empty.
func (j *Journal) LastIndex() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.log.Close()
}

// nopWriter drops records; used when a component runs without a journal.
type nopWriter struct{}

func (nopWriter) Append(*Record) (uint64, error) { return 0, nil }

// Discard is a Writer that drops every record.
var Discard Writer = nopWriter{}

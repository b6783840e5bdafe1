package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// RequestID uniquely identifies one attempted cross-network call. It is the
// keccak digest of (source chain id, nonce) and is never reused: retries mint
// a fresh nonce and therefore a fresh id.
type RequestID = common.Hash

// CallArgs is what a source-side caller submits. It is immutable once
// accepted; the engine stamps it into canonical ExecArgs form.
type CallArgs struct {
	ToChainID    uint64         // destination network
	To           common.Address // receiver on the destination network
	Fallback     common.Address // zero address means "no fallback"
	ExecGasLimit uint64         // destination execution budget
	RecrGasLimit uint64         // recursion/callback budget pre-approved for the receiver
	Data         []byte         // opaque payload forwarded to the receiver
}

// ExecArgs is the canonical, network-stamped form of a request. Its RLP
// encoding in declared field order is the content the request digest commits
// to, so anyone holding the original CallArgs plus the assigned nonce can
// reproduce it bit for bit.
type ExecArgs struct {
	FromChainID  uint64
	From         common.Address
	ToChainID    uint64
	To           common.Address
	Fallback     common.Address
	Nonce        uint64
	ExecGasLimit uint64
	RecrGasLimit uint64
	Data         []byte
}

// requestKey is the preimage of a RequestID.
type requestKey struct {
	FromChainID uint64
	Nonce       uint64
}

// ComputeRequestID derives the request id for a (source chain, nonce) pair.
func ComputeRequestID(fromChainID, nonce uint64) RequestID {
	enc, err := rlp.EncodeToBytes(&requestKey{FromChainID: fromChainID, Nonce: nonce})
	if err != nil {
		panic(err) // two uint64 fields cannot fail to encode
	}
	return crypto.Keccak256Hash(enc)
}

// Digest returns the content hash of the canonical encoding. A change to any
// field changes the digest; nil and empty payloads encode identically.
func (a *ExecArgs) Digest() common.Hash {
	enc, err := rlp.EncodeToBytes(a)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}

// ID returns the request id implied by the args' own (chain, nonce) pair.
func (a *ExecArgs) ID() RequestID {
	return ComputeRequestID(a.FromChainID, a.Nonce)
}

// HasFallback reports whether a fallback receiver was designated at call time.
func (a *ExecArgs) HasFallback() bool {
	return a.Fallback != (common.Address{})
}

// Stamp builds the canonical ExecArgs for a caller-submitted CallArgs,
// filling in the source network, sender and the freshly minted nonce.
func Stamp(fromChainID uint64, from common.Address, nonce uint64, call CallArgs) *ExecArgs {
	return &ExecArgs{
		FromChainID:  fromChainID,
		From:         from,
		ToChainID:    call.ToChainID,
		To:           call.To,
		Fallback:     call.Fallback,
		Nonce:        nonce,
		ExecGasLimit: call.ExecGasLimit,
		RecrGasLimit: call.RecrGasLimit,
		Data:         call.Data,
	}
}

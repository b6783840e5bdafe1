package params

// Gas constants of the relay protocol. These mirror the costs the source
// network charges up front for work that happens later on the destination
// network, so changing them changes the fee a caller owes at submission time.
const (
	// CallOverheadGas is the fixed source-side bookkeeping overhead charged
	// per accepted call, on top of the configured auto-fallback reserve.
	CallOverheadGas uint64 = 100_000

	// DefaultAutoFallbackExecGas bounds the automatic fallback dispatch that
	// the relay operator may trigger after a destination-side failure.
	DefaultAutoFallbackExecGas uint64 = 300_000

	// MinExecGasLimit rejects calls whose execution budget could never cover
	// a dispatch at all.
	MinExecGasLimit uint64 = 100
)

package executor

import "github.com/ethereum/go-ethereum/log"

// EchoHandler is a trivial application handler that meters a fixed cost and
// echoes the payload back. The relay daemon registers it for smoke runs and
// the tests use it as a well-behaved receiver.
type EchoHandler struct {
	// CostPerCall is metered against the execution budget on every call.
	CostPerCall uint64
}

func (e *EchoHandler) Execute(ctx *CallContext) ([]byte, error) {
	ctx.Gas.Use(e.CostPerCall)
	log.Debug("Echo handler executed", "from", ctx.From, "fromChain", ctx.FromChainID, "nonce", ctx.Nonce, "payload", len(ctx.Data))
	return ctx.Data, nil
}

func (e *EchoHandler) Fallback(ctx *FallbackContext) ([]byte, error) {
	ctx.Gas.Use(e.CostPerCall)
	log.Debug("Echo handler fallback", "to", ctx.To, "toChain", ctx.ToChainID, "nonce", ctx.Nonce, "reason", string(ctx.Reason))
	return nil, nil
}

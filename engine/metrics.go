package engine

import "github.com/ethereum/go-ethereum/metrics"

var (
	callCounter         = metrics.NewRegisteredCounter("anycall/engine/calls", nil)
	execCounter         = metrics.NewRegisteredCounter("anycall/engine/execs", nil)
	execFailCounter     = metrics.NewRegisteredCounter("anycall/engine/execs/failed", nil)
	fallbackCounter     = metrics.NewRegisteredCounter("anycall/engine/fallbacks", nil)
	fallbackFailCounter = metrics.NewRegisteredCounter("anycall/engine/fallbacks/failed", nil)
	retryCounter        = metrics.NewRegisteredCounter("anycall/engine/retries", nil)
	rejectCounter       = metrics.NewRegisteredCounter("anycall/engine/rejected", nil)
	execTimer           = metrics.NewRegisteredTimer("anycall/engine/exec/duration", nil)
)

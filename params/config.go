package params

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
)

// Config carries the per-deployment tunables of a relay engine instance.
// One Config belongs to exactly one engine; there are no process-wide
// protocol singletons.
type Config struct {
	// ExpireWindow is how long a failed request stays eligible for
	// caller-driven fallback or retry after its creation timestamp.
	ExpireWindow time.Duration

	// AutoFallbackExecGas is the gas allowance for operator-triggered
	// automatic fallback dispatches. It is also part of the up-front
	// fee reserved by ChargeOnCall.
	AutoFallbackExecGas uint64

	// GasPrice is the source-network gas price used when converting
	// protocol gas overheads into native value.
	GasPrice *uint256.Int

	// Premium is the relay-operator markup added to the gas price when
	// settling destination-side execution. Admin-settable at runtime via
	// the engine; this is only the boot value.
	Premium *uint256.Int

	// RelayerDelay is the mandatory wait between proposing a new trusted
	// relayer identity and the moment it may become effective.
	RelayerDelay time.Duration

	// WhitelistEnabled gates calls on the caller/target whitelist.
	WhitelistEnabled bool
}

var (
	errNoGasPrice    = errors.New("config: gas price not set")
	errNoExpiry      = errors.New("config: expire window not set")
	errNoFallbackGas = errors.New("config: auto-fallback gas not set")
)

// DefaultConfig returns a config suitable for tests and single-node runs.
func DefaultConfig() *Config {
	return &Config{
		ExpireWindow:        7 * 24 * time.Hour,
		AutoFallbackExecGas: DefaultAutoFallbackExecGas,
		GasPrice:            uint256.NewInt(1),
		Premium:             uint256.NewInt(0),
		RelayerDelay:        48 * time.Hour,
	}
}

// Sanitize validates the config and fills optional fields with defaults.
func (c *Config) Sanitize() error {
	if c.GasPrice == nil || c.GasPrice.IsZero() {
		return errNoGasPrice
	}
	if c.ExpireWindow <= 0 {
		return errNoExpiry
	}
	if c.AutoFallbackExecGas == 0 {
		return errNoFallbackGas
	}
	if c.Premium == nil {
		c.Premium = uint256.NewInt(0)
	}
	return nil
}

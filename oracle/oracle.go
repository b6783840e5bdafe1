// Package oracle defines the price boundary between native currency and the
// protocol's internal unified-gas credit unit.
package oracle

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnauthorized = errors.New("oracle: caller is not the price updater")
	ErrZeroPrice    = errors.New("oracle: price must be non-zero")
)

// Price converts between native value and credit. Both directions use
// integer floor division; the loss direction is fixed so the ledger can be
// tested for rounding-direction consistency.
type Price interface {
	// PriceToCredit returns floor(native / unit price) credit units.
	PriceToCredit(native *uint256.Int) *uint256.Int

	// CreditToPrice returns credit * unit price in native value.
	CreditToPrice(credit *uint256.Int) *uint256.Int
}

// FixedOracle is a Price with a single admin-rotatable unit price. The price
// is only settable by the designated trusted updater.
type FixedOracle struct {
	mu      sync.RWMutex
	price   *uint256.Int
	updater common.Address
}

// NewFixedOracle builds an oracle at the given native-per-credit unit price.
func NewFixedOracle(price *uint256.Int, updater common.Address) (*FixedOracle, error) {
	if price == nil || price.IsZero() {
		return nil, ErrZeroPrice
	}
	return &FixedOracle{price: price.Clone(), updater: updater}, nil
}

// SetPrice rotates the unit price. Takes effect for all later conversions.
func (o *FixedOracle) SetPrice(caller common.Address, price *uint256.Int) error {
	if caller != o.updater {
		return ErrUnauthorized
	}
	if price == nil || price.IsZero() {
		return ErrZeroPrice
	}
	o.mu.Lock()
	o.price = price.Clone()
	o.mu.Unlock()
	return nil
}

// UnitPrice returns the current native value of one credit unit.
func (o *FixedOracle) UnitPrice() *uint256.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.price.Clone()
}

func (o *FixedOracle) PriceToCredit(native *uint256.Int) *uint256.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return new(uint256.Int).Div(native, o.price)
}

func (o *FixedOracle) CreditToPrice(credit *uint256.Int) *uint256.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return new(uint256.Int).Mul(credit, o.price)
}

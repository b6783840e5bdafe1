package oracle

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var updater = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func TestFloorRounding(t *testing.T) {
	o, err := NewFixedOracle(uint256.NewInt(7), updater)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	// 100 native at price 7 is 14 credit, floored.
	if got := o.PriceToCredit(uint256.NewInt(100)); !got.Eq(uint256.NewInt(14)) {
		t.Fatalf("PriceToCredit(100) = %s, want 14", got)
	}
	// Converting back returns 98: the 2-unit dust stays lost, always in the
	// same direction.
	if got := o.CreditToPrice(uint256.NewInt(14)); !got.Eq(uint256.NewInt(98)) {
		t.Fatalf("CreditToPrice(14) = %s, want 98", got)
	}
	// Below one credit's price converts to zero.
	if got := o.PriceToCredit(uint256.NewInt(6)); !got.IsZero() {
		t.Fatalf("PriceToCredit(6) = %s, want 0", got)
	}
}

func TestSetPriceAuth(t *testing.T) {
	o, _ := NewFixedOracle(uint256.NewInt(2), updater)

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	if err := o.SetPrice(stranger, uint256.NewInt(3)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if err := o.SetPrice(updater, uint256.NewInt(3)); err != nil {
		t.Fatalf("updater rejected: %v", err)
	}
	if !o.UnitPrice().Eq(uint256.NewInt(3)) {
		t.Fatalf("price not rotated")
	}
	if err := o.SetPrice(updater, uint256.NewInt(0)); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("zero price must be rejected, got %v", err)
	}
}

func TestZeroPriceConstructor(t *testing.T) {
	if _, err := NewFixedOracle(uint256.NewInt(0), updater); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("want ErrZeroPrice, got %v", err)
	}
	if _, err := NewFixedOracle(nil, updater); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("want ErrZeroPrice for nil, got %v", err)
	}
}

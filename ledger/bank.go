package ledger

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Bank is the native-currency boundary of the ledger. Deposits are forwarded
// through it to the fee sink and withdrawals are paid out of the sink. A
// failing transfer surfaces as ErrTransferFailed to ledger callers.
type Bank interface {
	Transfer(from, to common.Address, amount *uint256.Int) error
}

var ErrInsufficientFunds = errors.New("bank: insufficient native funds")

// MemBank is an in-memory Bank used by tests and the in-process relay
// daemon. Balances are minted explicitly.
type MemBank struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
}

func NewMemBank() *MemBank {
	return &MemBank{balances: make(map[common.Address]*uint256.Int)}
}

// Mint adds native funds to an account.
func (b *MemBank) Mint(addr common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(uint256.Int).Add(b.bal(addr), amount)
}

// BalanceOf returns the native balance of an account.
func (b *MemBank) BalanceOf(addr common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bal(addr).Clone()
}

func (b *MemBank) Transfer(from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount.IsZero() {
		return nil
	}
	fb := b.bal(from)
	if fb.Lt(amount) {
		return ErrInsufficientFunds
	}
	b.balances[from] = new(uint256.Int).Sub(fb, amount)
	b.balances[to] = new(uint256.Int).Add(b.bal(to), amount)
	return nil
}

// bal must be called with the lock held.
func (b *MemBank) bal(addr common.Address) *uint256.Int {
	if v, ok := b.balances[addr]; ok {
		return v
	}
	return uint256.NewInt(0)
}

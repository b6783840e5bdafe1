package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/anycall-protocol/go-anycall/journal"
)

// ExecWindow is one destination-side execution accounting window. OpenWindow
// escrows the execution and recursion budgets against the receiver's resting
// balance; Settle debits the actual consumed cost and closes the window.
// Settle must run on every exit path of the dispatch, including failures —
// the engine defers it before dispatching.
type ExecWindow struct {
	l       *CreditLedger
	account common.Address
	// effective price per gas unit for this window: gas price + premium,
	// frozen at open so a concurrent SetPremium cannot unbalance settlement
	eff *uint256.Int

	execApproved *big.Int // credit pre-authorized for the execution itself
	recrApproved *big.Int // credit pre-authorized for recursive calls
	settled      bool
}

// OpenWindow escrows the budgets for one execution. The receiver must hold
// enough resting credit to cover the full escrow, otherwise the execution is
// rejected before any dispatch happens.
func (l *CreditLedger) OpenWindow(receiver common.Address, execLimit, recrLimit uint64, gasPrice *uint256.Int) (*ExecWindow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.window != nil {
		return nil, ErrWindowOpen
	}

	eff := new(uint256.Int).Add(gasPrice, l.premium)
	execCredit := l.gasToCredit(execLimit, eff)
	recrCredit := l.gasToCredit(recrLimit, eff)

	need := new(big.Int).Add(execCredit, recrCredit)
	if l.bal(receiver).Cmp(need) < 0 {
		return nil, ErrInsufficientCredit
	}

	w := &ExecWindow{
		l:            l,
		account:      receiver,
		eff:          eff,
		execApproved: execCredit,
		recrApproved: recrCredit,
	}
	l.window = w
	l.inFlight.Add(l.inFlight, need)

	l.logger.Debug("Execution window opened", "receiver", receiver, "execCredit", execCredit, "recrCredit", recrCredit)
	return w, nil
}

// Settle debits the consumed cost (elapsed gas times the frozen effective
// price) from the escrow and the resting balance, then closes the window.
// The in-flight counter must return to zero and the resting balance must be
// non-negative afterwards; either violation is a ledger bug and panics.
// Settle is idempotent so it can sit safely in a defer.
func (w *ExecWindow) Settle(usedGas uint64) {
	l := w.l
	l.mu.Lock()

	if w.settled {
		l.mu.Unlock()
		return
	}
	w.settled = true

	cost := l.gasToCredit(usedGas, w.eff)
	if cost.Cmp(w.execApproved) > 0 {
		l.mu.Unlock()
		panic("ledger: settlement cost exceeds the pre-approved execution escrow")
	}

	l.bal(w.account).Sub(l.bal(w.account), cost)

	// Release the remaining escrow and close the window.
	remaining := new(big.Int).Add(w.execApproved, w.recrApproved)
	l.inFlight.Sub(l.inFlight, remaining)
	w.execApproved.SetInt64(0)
	w.recrApproved.SetInt64(0)
	l.window = nil

	if l.inFlight.Sign() != 0 {
		l.mu.Unlock()
		panic("ledger: in-flight credit counter unbalanced at window close")
	}
	if rest := l.bal(w.account); rest.Sign() < 0 {
		arrears := new(big.Int).Neg(rest)
		l.mu.Unlock()
		l.jrn.Append(&journal.Record{Kind: journal.KindArrears, Account: w.account, Aux: arrears.Bytes()})
		l.logger.Error("Credit changed", "reason", CreditChangeArrears, "account", w.account, "arrears", arrears)
		panic("ledger: resting balance negative after settlement")
	}
	l.mu.Unlock()

	l.bump(new(big.Int).Neg(cost))
	l.logger.Debug("Credit changed", "reason", CreditChangeExecSettle, "account", w.account, "usedGas", usedGas, "cost", cost)
}

// gasToCredit converts a gas quantity at an effective price into credit.
// Must be called with the lock held.
func (l *CreditLedger) gasToCredit(gas uint64, eff *uint256.Int) *big.Int {
	native := new(uint256.Int).Mul(uint256.NewInt(gas), eff)
	return l.price.PriceToCredit(native).ToBig()
}

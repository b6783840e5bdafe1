// Package ledger implements the unified-gas credit ledger: per-account
// prepaid execution budget, convertible to and from native value through a
// price oracle, with escrowed accounting windows around destination-side
// execution.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"

	"github.com/anycall-protocol/go-anycall/journal"
	"github.com/anycall-protocol/go-anycall/oracle"
	"github.com/anycall-protocol/go-anycall/params"
)

var (
	ErrUnauthorized       = errors.New("ledger: caller is not the account owner")
	ErrTransferFailed     = errors.New("ledger: native transfer failed")
	ErrInsufficientFee    = errors.New("ledger: attached payment cannot cover the call fee")
	ErrInsufficientCredit = errors.New("ledger: credit balance too low")
	ErrWindowOpen         = errors.New("ledger: an execution window is already open")
)

var (
	depositCounter  = metrics.NewRegisteredCounter("anycall/ledger/deposits", nil)
	withdrawCounter = metrics.NewRegisteredCounter("anycall/ledger/withdrawals", nil)
	supplyGauge     = metrics.NewRegisteredGauge("anycall/ledger/supply", nil)
)

// CreditLedger tracks per-account credit balances. Balances are signed: a
// balance may dip negative transiently inside an open execution window (the
// recursion escrow mechanics below keep that bounded), but must be
// non-negative whenever no window is open. A violation of that invariant is
// an accounting bug, not a user error, and panics.
type CreditLedger struct {
	mu      sync.Mutex
	price   oracle.Price
	bank    Bank
	feeSink common.Address
	cfg     *params.Config
	jrn     journal.Writer

	premium  *uint256.Int
	balances map[common.Address]*big.Int

	// Exactly one execution window may be open at a time; the engine's
	// reentrancy guard upholds this, the ledger re-checks it.
	window   *ExecWindow
	inFlight *big.Int

	// accrued is the lifetime sum of call fees drawn, kept for the
	// operator's solvency audit.
	accrued *big.Int

	logger log.Logger
}

// New builds a ledger. jrn may be journal.Discard.
func New(price oracle.Price, bank Bank, feeSink common.Address, cfg *params.Config, jrn journal.Writer) *CreditLedger {
	if jrn == nil {
		jrn = journal.Discard
	}
	return &CreditLedger{
		price:    price,
		bank:     bank,
		feeSink:  feeSink,
		cfg:      cfg,
		jrn:      jrn,
		premium:  cfg.Premium.Clone(),
		balances: make(map[common.Address]*big.Int),
		inFlight: new(big.Int),
		accrued:  new(big.Int),
		logger:   log.New("module", "ledger"),
	}
}

// BalanceOf returns a copy of the account's signed credit balance.
func (l *CreditLedger) BalanceOf(account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.bal(account))
}

// Premium returns the current relay-operator markup.
func (l *CreditLedger) Premium() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.premium.Clone()
}

// SetPremium replaces the markup. Effective immediately for subsequent
// settlements. The old/new pair is journaled for audit.
func (l *CreditLedger) SetPremium(premium *uint256.Int) {
	l.mu.Lock()
	old := l.premium
	l.premium = premium.Clone()
	l.mu.Unlock()

	aux := append(old.Bytes(), premium.Bytes()...)
	l.jrn.Append(&journal.Record{Kind: journal.KindPremium, Aux: aux})
	l.logger.Info("Premium updated", "old", old, "new", premium)
}

// Deposit converts the attached native value to credit at the current price
// and forwards the native value to the fee sink. The conversion floors, so
// any dust below one credit's price stays with the sink.
func (l *CreditLedger) Deposit(account common.Address, value *uint256.Int) error {
	if err := l.bank.Transfer(account, l.feeSink, value); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	credit := l.price.PriceToCredit(value)

	l.mu.Lock()
	l.bal(account).Add(l.bal(account), credit.ToBig())
	l.mu.Unlock()

	depositCounter.Inc(1)
	l.bump(credit.ToBig())
	l.jrn.Append(&journal.Record{Kind: journal.KindDeposit, Account: account, Aux: value.Bytes()})
	l.logger.Debug("Credit changed", "reason", CreditChangeDeposit, "account", account, "credit", credit)
	return nil
}

// Withdraw converts credit back to native value and pays it out of the fee
// sink. Only the account owner may withdraw, and only up to the resting
// balance minus any escrow held by an open execution window; the uncapped
// source behavior (negative resting balances) is a deliberate policy
// departure, see DESIGN.md. The debit happens under the lock before the
// native transfer and is refunded if the transfer fails.
func (l *CreditLedger) Withdraw(caller, account common.Address, credit *uint256.Int) error {
	if caller != account {
		return ErrUnauthorized
	}
	cr := credit.ToBig()

	l.mu.Lock()
	avail := new(big.Int).Set(l.bal(account))
	if l.window != nil && l.window.account == account {
		// The open window's escrow is already committed to settlement.
		avail.Sub(avail, l.window.execApproved)
		avail.Sub(avail, l.window.recrApproved)
	}
	if avail.Cmp(cr) < 0 {
		l.mu.Unlock()
		return ErrInsufficientCredit
	}
	l.bal(account).Sub(l.bal(account), cr)
	l.mu.Unlock()

	native := l.price.CreditToPrice(credit)
	if err := l.bank.Transfer(l.feeSink, account, native); err != nil {
		l.mu.Lock()
		l.bal(account).Add(l.bal(account), cr)
		l.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	withdrawCounter.Inc(1)
	l.bump(new(big.Int).Neg(cr))
	l.jrn.Append(&journal.Record{Kind: journal.KindWithdraw, Account: account, Aux: native.Bytes()})
	l.logger.Debug("Credit changed", "reason", CreditChangeWithdraw, "account", account, "credit", credit)
	return nil
}

// ChargeOnCall collects the source-side overhead fee for one accepted call:
// gas price times (protocol overhead + auto-fallback reserve). Pre-existing
// credit is drawn first; any shortfall is paid natively to the fee sink.
// Inside an open execution window of the same account the draw comes out of
// the recursion escrow, which is what keeps recursive calls from pushing the
// resting balance negative.
func (l *CreditLedger) ChargeOnCall(caller common.Address, gasPrice *uint256.Int) error {
	overhead := new(uint256.Int).Mul(gasPrice, uint256.NewInt(params.CallOverheadGas+l.cfg.AutoFallbackExecGas))
	cost := l.price.PriceToCredit(overhead).ToBig()

	l.mu.Lock()

	var avail *big.Int
	inWindow := l.window != nil && l.window.account == caller
	if inWindow {
		avail = l.window.recrApproved
	} else {
		avail = new(big.Int).Set(l.bal(caller))
		if avail.Sign() < 0 {
			avail.SetInt64(0)
		}
	}

	draw := new(big.Int).Set(cost)
	if draw.Cmp(avail) > 0 {
		draw.Set(avail)
	}
	short := new(big.Int).Sub(cost, draw)

	if short.Sign() > 0 {
		// Collect the shortfall natively before touching any counter so a
		// rejected call has no side effects.
		due, overflow := uint256.FromBig(short)
		if overflow {
			l.mu.Unlock()
			return ErrInsufficientFee
		}
		native := l.price.CreditToPrice(due)
		if err := l.bank.Transfer(caller, l.feeSink, native); err != nil {
			l.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrInsufficientFee, err)
		}
	}

	l.bal(caller).Sub(l.bal(caller), draw)
	if inWindow {
		l.window.recrApproved.Sub(l.window.recrApproved, draw)
		l.inFlight.Sub(l.inFlight, draw)
		if l.inFlight.Sign() < 0 {
			l.mu.Unlock()
			panic("ledger: in-flight credit counter went negative")
		}
	}
	l.accrued.Add(l.accrued, cost)
	l.mu.Unlock()

	l.bump(new(big.Int).Neg(draw))
	l.logger.Debug("Credit changed", "reason", CreditChangeCallFee, "account", caller, "cost", cost, "drawn", draw)
	return nil
}

// bal must not be called without the lock; it lazily creates the entry.
func (l *CreditLedger) bal(account common.Address) *big.Int {
	b, ok := l.balances[account]
	if !ok {
		b = new(big.Int)
		l.balances[account] = b
	}
	return b
}

// bump maintains the total-supply gauge.
func (l *CreditLedger) bump(delta *big.Int) {
	if delta.IsInt64() {
		supplyGauge.Inc(delta.Int64())
	}
}

package ledger

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/anycall-protocol/go-anycall/journal"
	"github.com/anycall-protocol/go-anycall/oracle"
	"github.com/anycall-protocol/go-anycall/params"
)

var (
	feeSink = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	updater = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func testConfig() *params.Config {
	cfg := params.DefaultConfig()
	cfg.AutoFallbackExecGas = 300
	cfg.GasPrice = uint256.NewInt(1)
	cfg.ExpireWindow = time.Hour
	return cfg
}

func newTestLedger(t *testing.T, price uint64) (*CreditLedger, *MemBank) {
	t.Helper()
	bank := NewMemBank()
	o, err := oracle.NewFixedOracle(uint256.NewInt(price), updater)
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	return New(o, bank, feeSink, testConfig(), journal.Discard), bank
}

// callCost is the credit fee ChargeOnCall collects under testConfig at
// native price 1.
func callCost() *big.Int {
	return new(big.Int).SetUint64(params.CallOverheadGas + 300)
}

// TestDepositWithdrawRoundTrip pins the rounding direction: deposit floors
// native to credit, withdraw floors credit back to native, and the dust is
// lost deterministically to the sink.
func TestDepositWithdrawRoundTrip(t *testing.T) {
	l, bank := newTestLedger(t, 7)
	bank.Mint(alice, uint256.NewInt(100))

	if err := l.Deposit(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if got := l.BalanceOf(alice); got.Cmp(big.NewInt(14)) != 0 {
		t.Fatalf("deposit credited %s, want 14", got)
	}
	if err := l.Withdraw(alice, alice, uint256.NewInt(14)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if got := bank.BalanceOf(alice); !got.Eq(uint256.NewInt(98)) {
		t.Fatalf("withdrew %s native, want 98", got)
	}
	// The 2-unit dust stays with the sink; the loss never exceeds one
	// credit's price.
	if got := bank.BalanceOf(feeSink); !got.Eq(uint256.NewInt(2)) {
		t.Fatalf("sink kept %s, want 2", got)
	}
	if got := l.BalanceOf(alice); got.Sign() != 0 {
		t.Fatalf("residual credit %s after full withdrawal", got)
	}
}

func TestWithdrawAuthAndCap(t *testing.T) {
	l, bank := newTestLedger(t, 1)
	bank.Mint(alice, uint256.NewInt(50))
	if err := l.Deposit(alice, uint256.NewInt(50)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if err := l.Withdraw(bob, alice, uint256.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	// The balance is a hard cap: no negative resting balances by policy.
	if err := l.Withdraw(alice, alice, uint256.NewInt(51)); !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("want ErrInsufficientCredit, got %v", err)
	}
	if err := l.Withdraw(alice, alice, uint256.NewInt(50)); err != nil {
		t.Fatalf("full withdraw failed: %v", err)
	}
}

// TestWithdrawDuringWindow pins the escrow cap: while an execution window is
// open, the escrowed portion of the balance is not withdrawable, so the
// settlement that follows can never drive the resting balance negative.
func TestWithdrawDuringWindow(t *testing.T) {
	l, bank := newTestLedger(t, 1)
	bank.Mint(bob, uint256.NewInt(10_000))
	if err := l.Deposit(bob, uint256.NewInt(10_000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	win, err := l.OpenWindow(bob, 4_000, 1_000, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	// 5 000 credit is escrowed; only the surplus may leave.
	if err := l.Withdraw(bob, bob, uint256.NewInt(10_000)); !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("full withdrawal mid-window: want ErrInsufficientCredit, got %v", err)
	}
	if err := l.Withdraw(bob, bob, uint256.NewInt(5_001)); !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("escrow-touching withdrawal: want ErrInsufficientCredit, got %v", err)
	}
	if err := l.Withdraw(bob, bob, uint256.NewInt(5_000)); err != nil {
		t.Fatalf("surplus withdrawal failed: %v", err)
	}

	win.Settle(4_000)
	if got := l.BalanceOf(bob); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("balance %s after settle, want 1000", got)
	}
	// The window is closed: the rest is withdrawable again.
	if err := l.Withdraw(bob, bob, uint256.NewInt(1_000)); err != nil {
		t.Fatalf("post-settle withdrawal failed: %v", err)
	}
}

// TestWithdrawRefundOnFailedTransfer verifies the debit-then-transfer order:
// the cap is enforced and the balance debited under one lock hold, and a
// failing native payout refunds the debit in full.
func TestWithdrawRefundOnFailedTransfer(t *testing.T) {
	l, bank := newTestLedger(t, 1)
	bank.Mint(alice, uint256.NewInt(100))
	if err := l.Deposit(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	// Drain the sink so the payout cannot be funded.
	if err := bank.Transfer(feeSink, bob, uint256.NewInt(100)); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if err := l.Withdraw(alice, alice, uint256.NewInt(50)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("want ErrTransferFailed, got %v", err)
	}
	if got := l.BalanceOf(alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed payout did not refund: balance %s, want 100", got)
	}
}

func TestDepositTransferFailed(t *testing.T) {
	l, _ := newTestLedger(t, 1)
	// Alice has no native funds, the forwarding transfer must fail and no
	// credit may appear.
	if err := l.Deposit(alice, uint256.NewInt(10)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("want ErrTransferFailed, got %v", err)
	}
	if l.BalanceOf(alice).Sign() != 0 {
		t.Fatalf("credit appeared despite failed transfer")
	}
}

func TestChargeOnCallFromCredit(t *testing.T) {
	l, bank := newTestLedger(t, 1)
	bank.Mint(alice, uint256.NewInt(1_000_000))
	if err := l.Deposit(alice, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if err := l.ChargeOnCall(alice, uint256.NewInt(1)); err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	want := new(big.Int).Sub(big.NewInt(1_000_000), callCost())
	if got := l.BalanceOf(alice); got.Cmp(want) != 0 {
		t.Fatalf("balance %s after charge, want %s", got, want)
	}
	// Fully covered from credit: no extra native left the caller.
	if got := bank.BalanceOf(alice); !got.IsZero() {
		t.Fatalf("caller native balance %s, want 0", got)
	}
}

func TestChargeOnCallNativeShortfall(t *testing.T) {
	l, bank := newTestLedger(t, 1)
	// No credit at all: the whole fee is due natively.
	bank.Mint(alice, uint256.NewInt(params.CallOverheadGas+300))

	if err := l.ChargeOnCall(alice, uint256.NewInt(1)); err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if got := bank.BalanceOf(alice); !got.IsZero() {
		t.Fatalf("caller kept %s native, want 0", got)
	}
	if got := bank.BalanceOf(feeSink); !got.Eq(uint256.NewInt(params.CallOverheadGas + 300)) {
		t.Fatalf("sink got %s", got)
	}
	if l.BalanceOf(alice).Sign() != 0 {
		t.Fatalf("charge must not leave a balance behind")
	}
}

func TestChargeOnCallUnpayable(t *testing.T) {
	l, _ := newTestLedger(t, 1)
	if err := l.ChargeOnCall(alice, uint256.NewInt(1)); !errors.Is(err, ErrInsufficientFee) {
		t.Fatalf("want ErrInsufficientFee, got %v", err)
	}
	if l.BalanceOf(alice).Sign() != 0 {
		t.Fatalf("rejected charge left a side effect")
	}
}

func TestWindowLifecycle(t *testing.T) {
	l, bank := newTestLedger(t, 1)
	bank.Mint(bob, uint256.NewInt(10_000))
	if err := l.Deposit(bob, uint256.NewInt(10_000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// Escrow exceeding the balance is rejected before any dispatch.
	if _, err := l.OpenWindow(bob, 20_000, 0, uint256.NewInt(1)); !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("want ErrInsufficientCredit, got %v", err)
	}

	win, err := l.OpenWindow(bob, 5_000, 1_000, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	// Only one window at a time.
	if _, err := l.OpenWindow(bob, 1, 0, uint256.NewInt(1)); !errors.Is(err, ErrWindowOpen) {
		t.Fatalf("want ErrWindowOpen, got %v", err)
	}

	win.Settle(3_000)
	if got := l.BalanceOf(bob); got.Cmp(big.NewInt(7_000)) != 0 {
		t.Fatalf("balance %s after settle, want 7000", got)
	}
	// Settle is idempotent: the deferred second call is a no-op.
	win.Settle(3_000)
	if got := l.BalanceOf(bob); got.Cmp(big.NewInt(7_000)) != 0 {
		t.Fatalf("double settle debited twice")
	}
	// The window is closed: a new one may open.
	win2, err := l.OpenWindow(bob, 1_000, 0, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	win2.Settle(0)
}

// TestWindowPremium verifies settlement uses price plus premium, frozen at
// window open.
func TestWindowPremium(t *testing.T) {
	l, bank := newTestLedger(t, 1)
	l.SetPremium(uint256.NewInt(2)) // effective price 3 per gas
	bank.Mint(bob, uint256.NewInt(30_000))
	if err := l.Deposit(bob, uint256.NewInt(30_000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	win, err := l.OpenWindow(bob, 5_000, 0, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	// A premium change mid-window must not affect this settlement.
	l.SetPremium(uint256.NewInt(100))
	win.Settle(2_000)

	want := big.NewInt(30_000 - 2_000*3)
	if got := l.BalanceOf(bob); got.Cmp(want) != 0 {
		t.Fatalf("balance %s, want %s", got, want)
	}
}

// TestRecursionEscrow charges a call fee for the account that currently has
// a window open: the fee must come out of the recursion escrow, leaving the
// resting balance non-negative after the window closes.
func TestRecursionEscrow(t *testing.T) {
	l, bank := newTestLedger(t, 1)
	fund := params.CallOverheadGas + 300 + 10_000
	bank.Mint(bob, uint256.NewInt(fund))
	if err := l.Deposit(bob, uint256.NewInt(fund)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	win, err := l.OpenWindow(bob, 5_000, params.CallOverheadGas+300, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := l.ChargeOnCall(bob, uint256.NewInt(1)); err != nil {
		t.Fatalf("recursive charge failed: %v", err)
	}
	win.Settle(5_000)

	want := big.NewInt(10_000 - 5_000)
	if got := l.BalanceOf(bob); got.Cmp(want) != 0 {
		t.Fatalf("balance %s after recursive window, want %s", got, want)
	}
}

// TestSettlementConservative is the solvency property: over random window
// sequences the sum of debits never exceeds the escrow approved at open,
// the in-flight counter returns to zero, and no balance is left negative.
func TestSettlementConservative(t *testing.T) {
	l, bank := newTestLedger(t, 1)
	rng := rand.New(rand.NewSource(7))

	fund := uint64(1 << 40)
	bank.Mint(bob, uint256.NewInt(fund))
	if err := l.Deposit(bob, uint256.NewInt(fund)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	remaining := new(big.Int).SetUint64(fund)
	for i := 0; i < 500; i++ {
		execLimit := rng.Uint64() % 100_000
		recrLimit := rng.Uint64() % 10_000

		before := l.BalanceOf(bob)
		win, err := l.OpenWindow(bob, execLimit, recrLimit, uint256.NewInt(1))
		if err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}
		used := uint64(0)
		if execLimit > 0 {
			used = rng.Uint64() % (execLimit + 1)
		}
		win.Settle(used)

		after := l.BalanceOf(bob)
		debit := new(big.Int).Sub(before, after)
		if debit.Cmp(new(big.Int).SetUint64(execLimit+recrLimit)) > 0 {
			t.Fatalf("window %d debited %s beyond its %d escrow", i, debit, execLimit+recrLimit)
		}
		if after.Sign() < 0 {
			t.Fatalf("window %d left a negative resting balance", i)
		}
		remaining.Sub(remaining, debit)
		if after.Cmp(remaining) != 0 {
			t.Fatalf("balance drifted from the debit ledger: %s vs %s", after, remaining)
		}
		// Outside a window the counter is zero: a fresh open must succeed
		// whenever the balance covers it, which it does here.
	}
}

func TestPremiumRoundTrip(t *testing.T) {
	l, _ := newTestLedger(t, 1)
	if !l.Premium().IsZero() {
		t.Fatalf("default premium must be zero")
	}
	l.SetPremium(uint256.NewInt(5))
	if !l.Premium().Eq(uint256.NewInt(5)) {
		t.Fatalf("premium not applied")
	}
}

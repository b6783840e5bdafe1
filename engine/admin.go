package engine

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrNotAdmin        = errors.New("engine: caller is not the admin")
	ErrNotPendingAdmin = errors.New("engine: caller is not the pending admin")
	ErrRotationDelay   = errors.New("engine: relayer rotation delay has not elapsed")
	ErrNoPendingChange = errors.New("engine: no pending relayer change")
)

// TransferAdmin starts a two-step admin handover. Repeating the call simply
// re-targets the pending admin; nothing takes effect until AcceptAdmin.
func (e *Engine) TransferAdmin(caller, newAdmin common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrNotAdmin
	}
	e.pendingAdmin = newAdmin
	e.log.Info("Admin transfer proposed", "current", e.admin, "pending", newAdmin)
	return nil
}

// AcceptAdmin completes the handover; only the proposed admin may accept.
func (e *Engine) AcceptAdmin(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingAdmin == (common.Address{}) || caller != e.pendingAdmin {
		return ErrNotPendingAdmin
	}
	e.log.Info("Admin transferred", "old", e.admin, "new", caller)
	e.admin = caller
	e.pendingAdmin = common.Address{}
	return nil
}

// ProposeRelayer stages a new trusted relayer identity. The change cannot be
// applied before the configured delay elapses. Re-proposing the same
// identity is a no-op so the original effective time is preserved.
func (e *Engine) ProposeRelayer(caller, newRelayer common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrNotAdmin
	}
	if e.pendingRelayer == newRelayer {
		return nil
	}
	e.pendingRelayer = newRelayer
	e.relayerEffective = e.now().Add(e.cfg.RelayerDelay)
	e.log.Info("Relayer rotation proposed", "current", e.relayer, "pending", newRelayer, "effectiveAt", e.relayerEffective)
	return nil
}

// ApplyRelayer makes the staged relayer identity effective once the delay
// has passed. Applying with nothing staged is a no-op, so repeated calls
// are harmless.
func (e *Engine) ApplyRelayer(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrNotAdmin
	}
	if e.pendingRelayer == (common.Address{}) {
		return nil
	}
	if e.now().Before(e.relayerEffective) {
		return ErrRotationDelay
	}
	e.log.Info("Relayer rotated", "old", e.relayer, "new", e.pendingRelayer)
	e.relayer = e.pendingRelayer
	e.pendingRelayer = common.Address{}
	e.relayerEffective = time.Time{}
	return nil
}

// Relayer returns the currently effective trusted relayer identity.
func (e *Engine) Relayer() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.relayer
}

// Pause stops the state-changing entry points.
func (e *Engine) Pause(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrNotAdmin
	}
	e.paused = true
	e.log.Warn("Engine paused", "chain", e.chainID)
	return nil
}

// Unpause resumes operation.
func (e *Engine) Unpause(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrNotAdmin
	}
	e.paused = false
	e.log.Info("Engine unpaused", "chain", e.chainID)
	return nil
}

// SetPremium updates the relay-operator markup on the ledger and journals
// the change.
func (e *Engine) SetPremium(caller common.Address, premium *uint256.Int) error {
	e.mu.Lock()
	if caller != e.admin {
		e.mu.Unlock()
		return ErrNotAdmin
	}
	e.mu.Unlock()
	e.ledger.SetPremium(premium)
	return nil
}

// callPair is one whitelisted (caller, destination) binding.
type callPair struct {
	From      common.Address
	ToChainID uint64
	To        common.Address
}

// SetWhitelist grants or revokes a caller/target pair.
func (e *Engine) SetWhitelist(caller, from common.Address, toChainID uint64, to common.Address, allowed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return ErrNotAdmin
	}
	pair := callPair{From: from, ToChainID: toChainID, To: to}
	if allowed {
		e.whitelist.Add(pair)
	} else {
		e.whitelist.Remove(pair)
	}
	return nil
}

package executor

import "fmt"

// outOfGas is the sentinel panic payload raised when a handler exceeds its
// budget. It stays inside this package: the router's recover translates it
// into diagnostic bytes like any other abort.
type outOfGas struct {
	budget uint64
	want   uint64
}

func (o outOfGas) String() string {
	return fmt.Sprintf("out of gas: budget %d, wanted %d", o.budget, o.want)
}

// GasMeter tracks a handler's consumption against a fixed budget. Exceeding
// the budget aborts the handler via panic, which the router catches; the
// surrounding engine operation keeps running.
type GasMeter struct {
	budget uint64
	used   uint64
}

func NewGasMeter(budget uint64) *GasMeter {
	return &GasMeter{budget: budget}
}

// Use consumes amount units, aborting the handler if the budget is blown.
func (m *GasMeter) Use(amount uint64) {
	if amount > m.budget-m.used {
		m.used = m.budget
		panic(outOfGas{budget: m.budget, want: amount})
	}
	m.used += amount
}

// Used returns the consumption so far; never exceeds the budget.
func (m *GasMeter) Used() uint64 { return m.used }

// Remaining returns the unconsumed budget.
func (m *GasMeter) Remaining() uint64 { return m.budget - m.used }

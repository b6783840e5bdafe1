package ledger

// CreditChangeReason describes why an account's credit balance moved. It is
// attached to log lines and journal records so the operator can reconstruct
// the ledger history per account.
type CreditChangeReason int

const (
	CreditChangeUnspecified CreditChangeReason = iota
	CreditChangeDeposit
	CreditChangeWithdraw
	CreditChangeCallFee
	CreditChangeExecSettle
	CreditChangeArrears
)

// String returns a human-readable string for the reason.
func (r CreditChangeReason) String() string {
	switch r {
	case CreditChangeUnspecified:
		return "unspecified"
	case CreditChangeDeposit:
		return "deposit"
	case CreditChangeWithdraw:
		return "withdraw"
	case CreditChangeCallFee:
		return "call_fee"
	case CreditChangeExecSettle:
		return "exec_settle"
	case CreditChangeArrears:
		return "arrears"
	}
	return "unknown"
}

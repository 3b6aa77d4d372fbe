package domain

import "github.com/shopspring/decimal"

// Balance is identified by (Account, ChainID, Module, TokenID). Mutated by
// event observation of credit/debit on each new block (spec §4.5); the
// Guards Reconciler paginates this table to rebuild Guards.
type Balance struct {
	ID      int64
	Account string
	ChainID ChainID
	Module  string
	TokenID string // empty for fungible balances
	Balance decimal.Decimal
}

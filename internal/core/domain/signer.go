package domain

import "encoding/json"

// Signer belongs to one Transaction, ordered by OrderIndex.
type Signer struct {
	ID            int64
	TransactionID int64
	Pubkey        string
	Address       *string
	OrderIndex    int
	CList         json.RawMessage
}

package domain

import "encoding/json"

// Event belongs to one Transaction. (TransactionID, OrderIndex) is unique.
// BlockHash/Height are denormalised for query efficiency, matching the
// teacher's habit of promoting frequently filtered fields onto the row
// that's actually queried rather than joined.
type Event struct {
	ID            int64
	TransactionID int64
	RequestKey    string
	ChainID       ChainID
	OrderIndex    int
	Module        string
	Name          string
	Params        json.RawMessage
	BlockHash     string
	Height        uint64
}

// QualifiedName is the "module.name" form used for subscription filtering
// and dedup (spec §3, §4.5, §4.7).
func (e *Event) QualifiedName() string {
	return e.Module + "." + e.Name
}

// IsTransfer reports whether this event is a fungible/non-fungible
// transfer event per the M.TRANSFER convention (spec §4.5).
func (e *Event) IsTransfer() bool {
	return e.Name == "TRANSFER"
}

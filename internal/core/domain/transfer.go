package domain

import "github.com/shopspring/decimal"

// TransferType classifies a Transfer by the module that emitted it.
type TransferType string

const (
	TransferFungible    TransferType = "fungible"
	TransferNonFungible TransferType = "non-fungible"
)

// knownNFTModules lists modules whose TRANSFER events carry a fourth
// tokenId argument and should be classified non-fungible (spec §4.5).
var knownNFTModules = map[string]bool{
	"marmalade-v2.ledger": true,
	"marmalade.ledger":    true,
}

// Transfer is derived from an M.TRANSFER event observed during
// materialisation; it belongs to one Transaction and optionally one
// Contract (by ModuleName).
type Transfer struct {
	ID          int64
	RequestKey  string
	ChainID     ChainID
	Network     Network
	PayloadHash string
	ModuleHash  string
	ModuleName  string
	From        string
	To          string
	Amount      decimal.Decimal
	Type        TransferType
	HasTokenID  bool
	TokenID     string
	Canonical   bool
}

// ClassifyTransferType decides fungible vs non-fungible by module name
// (spec §4.5: "M classifies as fungible unless the module is a known NFT
// module").
func ClassifyTransferType(moduleName string) TransferType {
	if knownNFTModules[moduleName] {
		return TransferNonFungible
	}
	return TransferFungible
}

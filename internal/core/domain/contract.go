package domain

// Contract is identified by (Network, ModuleName, ChainID).
type Contract struct {
	Network    Network
	ModuleName string
	ChainID    ChainID
	Symbol     string
	Decimals   int
	Type       TransferType
}

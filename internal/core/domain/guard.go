package domain

// Guard is identified by (Account, ChainID, Module). Rebuilt wholesale by
// the Guards Reconciler from current Balance rows (spec §4.6); owned
// exclusively by that component.
type Guard struct {
	Account   string
	ChainID   ChainID
	Module    string
	Keys      []string
	Predicate string
}

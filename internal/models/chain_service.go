package models

import "context"

// ProtocolParameters are the chain constants the transaction builder needs.
type ProtocolParameters struct {
	// MinFee is the flat network fee per transaction, in lovelace.
	MinFee int64 `json:"min_fee"`
	// MinUTXO is the minimum lovelace an output carrying assets must hold.
	MinUTXO int64 `json:"min_utxo"`
}

// TxStatus is the inclusion state of a broadcast transaction.
type TxStatus struct {
	// Confirmed reports whether the transaction is on chain.
	Confirmed bool `json:"confirmed"`
	// Depth is the number of blocks on top of the including block.
	Depth int64 `json:"depth"`
}

// ChainService is the read-only, eventually-consistent chain indexer.
// The engine never assumes immediate consistency after broadcasting.
type ChainService interface {
	// AddressUTXOs returns the unspent outputs currently sitting on an
	// address, newest state the indexer knows about.
	AddressUTXOs(ctx context.Context, address string) ([]PaymentObservation, error)
	// ProtocolParameters returns the current fee and size constants.
	ProtocolParameters(ctx context.Context) (*ProtocolParameters, error)
	// TransactionStatus reports the inclusion state of a transaction.
	// A transaction unknown to the indexer yields Confirmed == false.
	TransactionStatus(ctx context.Context, txID string) (*TxStatus, error)
}

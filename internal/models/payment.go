package models

import "fmt"

// PaymentObservation is one unspent output on the payment address,
// interpreted as an incoming payment. It is immutable once constructed.
type PaymentObservation struct {
	// TxHash is the hash of the transaction that created the output.
	TxHash string `json:"tx_hash"`
	// OutputIndex is the index of the output inside that transaction.
	OutputIndex uint32 `json:"output_index"`
	// Sender is the address that funded the transaction.
	Sender string `json:"sender"`
	// Received is the native currency carried by the output.
	Received Value `json:"received"`
	// Tokens are the native assets accompanying the payment, one Value per
	// asset class. Used for token-priced tiers and asset-keyed whitelists.
	Tokens []Value `json:"tokens,omitempty"`
	// Confirmations is the depth of the output below the chain tip.
	Confirmations int64 `json:"confirmations"`
}

// ID returns the chain-unique identifier of the observation.
func (p PaymentObservation) ID() string {
	return fmt.Sprintf("%s#%d", p.TxHash, p.OutputIndex)
}

// AssetIDs returns the asset class identifiers accompanying the payment.
func (p PaymentObservation) AssetIDs() []string {
	ids := make([]string, len(p.Tokens))
	for i, t := range p.Tokens {
		ids[i] = t.Asset
	}
	return ids
}

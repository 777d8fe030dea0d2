package models

// TxOut is one output of a transaction plan.
type TxOut struct {
	// Address is the recipient address.
	Address string `json:"address"`
	// Value is the native currency credited to the recipient.
	Value Value `json:"value"`
}

// MintInstruction mints one asset to a recipient.
type MintInstruction struct {
	// AssetName is the on-chain asset name to mint.
	AssetName string `json:"asset_name"`
	// MetadataPath is the metadata descriptor attached to the mint.
	MetadataPath string `json:"metadata_path"`
	// Recipient is the address receiving the minted asset.
	Recipient string `json:"recipient"`
}

// TransactionPlan is a balanced, unsigned transaction request ready for the
// external signer. Invariant: the sum of output values plus Fee equals the
// sum of input values.
type TransactionPlan struct {
	// ID ties the plan to its VendRequest across restarts.
	ID string `json:"id"`
	// Inputs are the payment outputs being spent.
	Inputs []PaymentObservation `json:"inputs"`
	// Outputs are the value distributions: buyer change, profit, dev fee.
	Outputs []TxOut `json:"outputs"`
	// Mints are the asset deliveries to the buyer.
	Mints []MintInstruction `json:"mints"`
	// Fee is the network fee consumed by the transaction.
	Fee Value `json:"fee"`
}

// InputTotal sums the native currency of all inputs.
func (p *TransactionPlan) InputTotal() int64 {
	var total int64
	for _, in := range p.Inputs {
		total += in.Received.Amount
	}
	return total
}

// OutputTotal sums the native currency of all outputs.
func (p *TransactionPlan) OutputTotal() int64 {
	var total int64
	for _, out := range p.Outputs {
		total += out.Value.Amount
	}
	return total
}

// Balanced reports whether outputs plus fee equal inputs.
func (p *TransactionPlan) Balanced() bool {
	return p.InputTotal() == p.OutputTotal()+p.Fee.Amount
}

package models

import "context"

// SigningMaterial is the set of opaque key and script references forwarded
// to the external signing tool. The engine never reads these files.
type SigningMaterial struct {
	// PaymentKeyFile signs the spend of the payment output.
	PaymentKeyFile string `json:"payment_key_file"`
	// PolicyScriptFiles are the minting policy scripts.
	PolicyScriptFiles []string `json:"policy_script_files"`
	// MintKeyFiles sign the mint.
	MintKeyFiles []string `json:"mint_key_files"`
}

// SignerService is the external signing and broadcasting tool.
type SignerService interface {
	// Submit signs and broadcasts a transaction plan and returns the
	// transaction id. Rejections wrap ErrSubmissionRejected.
	Submit(ctx context.Context, plan *TransactionPlan, material SigningMaterial) (string, error)
	// Submitted returns the transaction id previously broadcast for a plan
	// id, or the empty string if the signer never broadcast it. Used after
	// a restart to reconcile intent with external reality.
	Submitted(ctx context.Context, planID string) (string, error)
}

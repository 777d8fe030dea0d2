package txbuilder

import (
	"errors"
	"fmt"

	"github.com/openmint/vendere/internal/models"
)

var (
	// ErrExceedsSingleVendMax is returned when purchased plus bonus units
	// exceed the per-transaction ceiling. The builder never truncates the
	// count; the orchestrator decides what to do with the payment.
	ErrExceedsSingleVendMax = errors.New("vend exceeds single-vend maximum")
	// ErrUnbalancedPlan means the computed outputs plus fees do not equal
	// the inputs. This is a programming-level fault, not an input error.
	ErrUnbalancedPlan = errors.New("unbalanced transaction plan")
)

// Builder assembles balanced transaction plans: buyer delivery with change,
// profit output, optional dev fee output, and one mint instruction per
// reserved asset record.
type Builder struct {
	profitAddr    string
	devAddr       string
	devFee        int64 // lovelace per purchased unit, 0 disables the split
	singleVendMax int64
}

// New creates a transaction builder. devAddr may be empty when devFee is
// zero.
func New(profitAddr, devAddr string, devFee, singleVendMax int64) (*Builder, error) {
	if profitAddr == "" {
		return nil, fmt.Errorf("profit address is required")
	}
	if devFee < 0 {
		return nil, fmt.Errorf("dev fee must not be negative, got %d", devFee)
	}
	if devFee > 0 && devAddr == "" {
		return nil, fmt.Errorf("dev fee %d configured without a dev address", devFee)
	}
	if singleVendMax < 1 {
		return nil, fmt.Errorf("single-vend maximum must be at least 1, got %d", singleVendMax)
	}
	return &Builder{
		profitAddr:    profitAddr,
		devAddr:       devAddr,
		devFee:        devFee,
		singleVendMax: singleVendMax,
	}, nil
}

// CheckProtocol verifies the configured fee split can form valid outputs
// under the current protocol parameters. Called once before any payment is
// served.
func (b *Builder) CheckProtocol(params *models.ProtocolParameters) error {
	if b.devFee > 0 && b.devFee < params.MinUTXO {
		return fmt.Errorf("dev fee %d is below the minimum output value %d", b.devFee, params.MinUTXO)
	}
	return nil
}

// Build produces a balanced transaction plan for a vend request.
//
// The per-unit split is profit = unit price - dev fee. The network fee and
// the minimum lovelace accompanying the minted assets are carved out of the
// profit output, matching how an unattended sale absorbs chain costs. Any
// remainder of the payment above the purchased total is returned to the
// buyer as change.
func (b *Builder) Build(req *models.VendRequest, params *models.ProtocolParameters) (*models.TransactionPlan, error) {
	total := req.TotalUnits()
	if total > b.singleVendMax {
		return nil, fmt.Errorf("%d units requested, maximum %d: %w", total, b.singleVendMax, ErrExceedsSingleVendMax)
	}
	if int64(len(req.Records)) != total {
		return nil, fmt.Errorf("request holds %d records for %d units: %w", len(req.Records), total, ErrUnbalancedPlan)
	}
	if req.Payment.Received.Asset != models.Lovelace {
		// Token-priced tiers still settle outputs in the native currency
		// carried by the payment output; the plan splits only lovelace.
		return nil, fmt.Errorf("payment output carries no native currency: %w", ErrUnbalancedPlan)
	}

	received := req.Payment.Received.Amount
	gross := req.UnitPrice.Scale(req.Units)
	var purchasedTotal int64
	if req.UnitPrice.Asset == models.Lovelace {
		purchasedTotal = gross.Amount
	} else {
		// The lovelace riding along a token payment all flows to outputs.
		purchasedTotal = received
	}

	change := received - purchasedTotal
	if change < 0 {
		return nil, fmt.Errorf("payment %s is short of the purchase total %d: %w", req.Payment.Received, purchasedTotal, ErrUnbalancedPlan)
	}

	devTotal := int64(0)
	if b.devFee > 0 && b.devAddr != "" {
		devTotal = b.devFee * req.Units
	}

	buyerLovelace := change + params.MinUTXO
	profit := received - devTotal - params.MinFee - buyerLovelace
	if profit < 0 {
		return nil, fmt.Errorf("payment %s cannot cover dev fee %d, network fee %d and min output %d: %w",
			req.Payment.Received, devTotal, params.MinFee, params.MinUTXO, models.ErrInsufficientValue)
	}

	plan := &models.TransactionPlan{
		ID:     req.ID,
		Inputs: []models.PaymentObservation{req.Payment},
		Outputs: []models.TxOut{
			{Address: req.Payment.Sender, Value: models.Lovelaces(buyerLovelace)},
			{Address: b.profitAddr, Value: models.Lovelaces(profit)},
		},
		Fee: models.Lovelaces(params.MinFee),
	}
	if devTotal > 0 {
		plan.Outputs = append(plan.Outputs, models.TxOut{Address: b.devAddr, Value: models.Lovelaces(devTotal)})
	}
	for _, record := range req.Records {
		plan.Mints = append(plan.Mints, models.MintInstruction{
			AssetName:    record.Name,
			MetadataPath: record.MetadataPath,
			Recipient:    req.Payment.Sender,
		})
	}

	if !plan.Balanced() {
		return nil, fmt.Errorf("inputs %d, outputs %d, fee %d: %w",
			plan.InputTotal(), plan.OutputTotal(), plan.Fee.Amount, ErrUnbalancedPlan)
	}
	return plan, nil
}

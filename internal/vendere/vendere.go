package vendere

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openmint/vendere/internal/assetpool"
	"github.com/openmint/vendere/internal/metrics"
	"github.com/openmint/vendere/internal/models"
	"github.com/openmint/vendere/internal/pricing"
	"github.com/openmint/vendere/internal/scanner"
	"github.com/openmint/vendere/internal/txbuilder"
	"github.com/openmint/vendere/internal/whitelist"
	"github.com/openmint/vendere/pkg/logger"
)

// WhitelistKeyMode selects what identity a whitelist reservation is keyed
// by.
type WhitelistKeyMode string

const (
	// KeyByWallet keys quota by the buyer's address.
	KeyByWallet WhitelistKeyMode = "wallet"
	// KeyByAsset keys quota by assets accompanying the payment.
	KeyByAsset WhitelistKeyMode = "asset"
)

// Options holds the orchestration parameters of a vending machine.
type Options struct {
	// PaymentAddress is the watched address buyers pay into.
	PaymentAddress string
	// Material is forwarded opaquely to the external signer.
	Material models.SigningMaterial
	// KeyMode selects wallet- or asset-keyed whitelist reservations.
	KeyMode WhitelistKeyMode
	// PollInterval is the pause between successful polls.
	PollInterval time.Duration
	// ErrorBackoff is the longer pause after a recoverable poll failure.
	ErrorBackoff time.Duration
	// ConfirmTimeout bounds the wait for on-chain confirmation of a
	// submitted transaction before the attempt is treated as failed.
	ConfirmTimeout time.Duration
	// ConfirmPollInterval is the pause between confirmation checks.
	ConfirmPollInterval time.Duration
	// MaxRetries bounds transient retries per payment before abandonment.
	MaxRetries int
}

// VendingMachine is the restart-safe orchestration loop: it discovers new
// payments, reserves whitelist quota and asset records, builds balanced
// delivery transactions, hands them to the external signer and keeps
// durable markers so no payment is served twice and no asset is delivered
// twice.
type VendingMachine struct {
	logger  *logger.Logger
	metrics metrics.Recorder

	repo    models.Repository
	chain   models.ChainService
	signer  models.SignerService
	scanner *scanner.Scanner
	gate    whitelist.Gate
	pool    *assetpool.Pool
	engine  *pricing.Engine
	bogo    *pricing.Bogo
	builder *txbuilder.Builder

	opts Options

	params *models.ProtocolParameters
}

// NewVendingMachine wires the orchestrator. bogo may be nil to disable
// bonus units.
func NewVendingMachine(
	repo models.Repository,
	chain models.ChainService,
	signer models.SignerService,
	scanner *scanner.Scanner,
	gate whitelist.Gate,
	pool *assetpool.Pool,
	engine *pricing.Engine,
	bogo *pricing.Bogo,
	builder *txbuilder.Builder,
	recorder metrics.Recorder,
	logger *logger.Logger,
	opts Options,
) *VendingMachine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 2 * opts.PollInterval
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 5 * time.Minute
	}
	if opts.ConfirmPollInterval <= 0 {
		opts.ConfirmPollInterval = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.KeyMode == "" {
		opts.KeyMode = KeyByWallet
	}
	return &VendingMachine{
		logger:  logger,
		metrics: recorder,
		repo:    repo,
		chain:   chain,
		signer:  signer,
		scanner: scanner,
		gate:    gate,
		pool:    pool,
		engine:  engine,
		bogo:    bogo,
		builder: builder,
		opts:    opts,
	}
}

// Run drives the vending loop until ctx is cancelled. Cancellation takes
// effect at the top of the loop; a vend attempt already past reservation
// reaches Submitted or Failed before Run returns.
func (m *VendingMachine) Run(ctx context.Context) {
	if err := m.recoverInFlight(ctx); err != nil {
		m.logger.Error("Failed to recover in-flight vends ", "error ", err)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Vending loop stopped")
			return
		default:
		}

		wait := m.opts.PollInterval
		if err := m.vendOnce(ctx); err != nil {
			m.logger.Error("Poll failed, backing off ", "error ", err)
			wait = m.opts.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			m.logger.Info("Vending loop stopped")
			return
		case <-time.After(wait):
		}
	}
}

// vendOnce performs one poll cycle: discover fresh payments and drive each
// through the vend state machine.
func (m *VendingMachine) vendOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		m.metrics.ObserveLatency(metrics.OpPoll, time.Since(start), nil)
	}()

	if m.params == nil {
		params, err := m.chain.ProtocolParameters(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch protocol parameters: %w", err)
		}
		if err := m.builder.CheckProtocol(params); err != nil {
			return fmt.Errorf("configuration cannot serve payments: %w", err)
		}
		m.params = params
	}

	observations, err := m.scanner.PollNew(ctx)
	if err != nil {
		return err
	}
	for _, obs := range observations {
		m.metrics.IncCounter(metrics.EventObservationSeen, nil)
		m.processPayment(ctx, obs)

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
	return nil
}

// processPayment drives one observation from Discovered to a terminal or
// retryable state. Failures of a single payment never stop the loop.
func (m *VendingMachine) processPayment(ctx context.Context, obs models.PaymentObservation) {
	start := time.Now()
	paymentID := obs.ID()

	retries := 0
	if marker, err := m.repo.GetMarker(paymentID); err != nil {
		m.logger.Error("Failed to read marker ", "payment ", paymentID, "error ", err)
		return
	} else if marker != nil {
		retries = marker.Retries
	}

	quote, err := m.evaluate(obs)
	if err != nil {
		m.abandon(paymentID, retries, err)
		return
	}
	bonus := m.bogo.BonusFor(quote.Units)
	total := quote.Units + bonus

	reservation, err := m.reserveWhitelist(obs, int(total))
	if err != nil {
		m.abandon(paymentID, retries, err)
		return
	}

	records, err := m.pool.Reserve(int(total))
	if err != nil {
		if relErr := m.gate.Release(reservation); relErr != nil {
			m.logger.Error("Failed to release whitelist hold ", "payment ", paymentID, "error ", relErr)
		}
		if isDefinitional(err) {
			m.abandon(paymentID, retries, err)
		} else {
			m.logger.Error("Failed to reserve assets ", "payment ", paymentID, "error ", err)
		}
		return
	}

	req := &models.VendRequest{
		ID:                     uuid.NewString(),
		Payment:                obs,
		Units:                  quote.Units,
		Bonus:                  bonus,
		UnitPrice:              quote.Tier.UnitPrice,
		Records:                records,
		WhitelistKey:           reservation.Key,
		WhitelistReservationID: reservation.ID,
	}

	if err := m.putMarker(req, models.VendReserved, "", retries, ""); err != nil {
		m.logger.Error("Failed to persist reservation marker ", "payment ", paymentID, "error ", err)
		m.releaseReservations(req)
		return
	}

	m.logger.Info("Payment reserved ", "payment ", paymentID, "units ", quote.Units, "bonus ", bonus)

	plan, err := m.builder.Build(req, m.params)
	if err != nil {
		m.releaseReservations(req)
		if errors.Is(err, txbuilder.ErrUnbalancedPlan) {
			// Programming-level fault: surface loudly, stop this payment,
			// keep the loop alive for the others.
			m.logger.Error("INVARIANT VIOLATION: unbalanced plan ", "payment ", paymentID, "error ", err)
		}
		m.abandon(paymentID, retries, err)
		return
	}

	// The submitted marker lands before the signer call so a crash
	// mid-submission is detectable on restart.
	if err := m.putMarker(req, models.VendSubmitted, "", retries, ""); err != nil {
		m.logger.Error("Failed to persist submission marker ", "payment ", paymentID, "error ", err)
		m.releaseReservations(req)
		if err := m.repo.DeleteMarker(paymentID); err != nil {
			m.logger.Error("Failed to delete marker ", "payment ", paymentID, "error ", err)
		}
		return
	}

	txID, err := m.signer.Submit(ctx, plan, m.opts.Material)
	if err != nil {
		m.logger.Error("Submission failed ", "payment ", paymentID, "error ", err)
		m.failAttempt(req, retries, err)
		return
	}
	if err := m.putMarker(req, models.VendSubmitted, txID, retries, ""); err != nil {
		m.logger.Error("Failed to record transaction id ", "payment ", paymentID, "tx ", txID, "error ", err)
	}
	m.logger.Info("Vend submitted ", "payment ", paymentID, "tx ", txID)

	confirmed, interrupted := m.awaitConfirmation(ctx, txID)
	if interrupted {
		// Shutdown mid-confirmation: the submitted marker stays put and
		// restart recovery resolves the outcome against the chain.
		m.logger.Warn("Shutdown while awaiting confirmation ", "payment ", paymentID, "tx ", txID)
		return
	}
	if !confirmed {
		m.failAttempt(req, retries, fmt.Errorf("transaction %s not confirmed within %s", txID, m.opts.ConfirmTimeout))
		return
	}

	if err := m.complete(req, txID); err != nil {
		m.logger.Error("Failed to commit completed vend ", "payment ", paymentID, "tx ", txID, "error ", err)
		return
	}
	m.metrics.IncCounter(metrics.EventVendCompleted, nil)
	m.metrics.ObserveLatency(metrics.OpVend, time.Since(start), nil)
	m.logger.Info("Vend completed ", "payment ", paymentID, "tx ", txID, "delivered ", total)
}

// evaluate matches the payment against the price tiers, trying the native
// currency first and then any accompanying tokens. A token payment always
// carries some native currency for the minimum output, which can match a
// native tier and fail there; every carried asset class gets a chance
// before the payment is judged unservable.
func (m *VendingMachine) evaluate(obs models.PaymentObservation) (*pricing.Quote, error) {
	quote, err := m.engine.Evaluate(obs.Received)
	if err == nil {
		return quote, nil
	}
	for _, token := range obs.Tokens {
		if quote, tokenErr := m.engine.Evaluate(token); tokenErr == nil {
			return quote, nil
		}
	}
	return nil, err
}

// reserveWhitelist takes quota for the payment under the configured key
// mode. In asset mode every asset riding along the payment is tried until
// one has quota.
func (m *VendingMachine) reserveWhitelist(obs models.PaymentObservation, count int) (*whitelist.Reservation, error) {
	keys := []string{obs.Sender}
	if m.opts.KeyMode == KeyByAsset {
		keys = obs.AssetIDs()
		if len(keys) == 0 {
			return nil, fmt.Errorf("payment %s carries no whitelist asset: %w", obs.ID(), whitelist.ErrQuotaExceeded)
		}
	}
	var lastErr error
	for _, key := range keys {
		reservation, err := m.gate.Reserve(key, count)
		if err == nil {
			return reservation, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// awaitConfirmation polls the indexer until the transaction is included,
// the timeout elapses, or shutdown interrupts the wait.
func (m *VendingMachine) awaitConfirmation(ctx context.Context, txID string) (confirmed, interrupted bool) {
	deadline := time.Now().Add(m.opts.ConfirmTimeout)
	for {
		status, err := m.chain.TransactionStatus(ctx, txID)
		if err != nil {
			m.logger.Warn("Confirmation check failed ", "tx ", txID, "error ", err)
		} else if status.Confirmed {
			return true, false
		}
		if time.Now().After(deadline) {
			return false, false
		}
		select {
		case <-ctx.Done():
			return false, true
		case <-time.After(m.opts.ConfirmPollInterval):
		}
	}
}

// complete commits every reservation and appends the payment to the
// processed log. Each step is idempotent so a crash in between is healed
// by recovery.
func (m *VendingMachine) complete(req *models.VendRequest, txID string) error {
	if err := m.gate.Commit(&whitelist.Reservation{
		ID:    req.WhitelistReservationID,
		Key:   req.WhitelistKey,
		Count: int(req.TotalUnits()),
	}); err != nil {
		return fmt.Errorf("failed to commit whitelist reservation: %w", err)
	}
	if err := m.pool.Commit(req.Records); err != nil {
		return fmt.Errorf("failed to commit asset records: %w", err)
	}
	if err := m.repo.MarkProcessed(&models.ProcessedPayment{
		PaymentID:   req.Payment.ID(),
		TxID:        txID,
		Amount:      req.Payment.Received.Amount,
		CompletedAt: time.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("failed to append processed payment: %w", err)
	}
	if err := m.repo.DeleteMarker(req.Payment.ID()); err != nil {
		return fmt.Errorf("failed to clear marker: %w", err)
	}
	return nil
}

// failAttempt releases reservations and either re-arms the payment for a
// later poll or abandons it once retries are exhausted.
func (m *VendingMachine) failAttempt(req *models.VendRequest, retries int, cause error) {
	m.releaseReservations(req)
	m.metrics.IncCounter(metrics.EventVendFailed, nil)

	retries++
	if retries >= m.opts.MaxRetries {
		m.abandon(req.Payment.ID(), retries, fmt.Errorf("retries exhausted: %w", cause))
		return
	}
	if err := m.putMarker(req, models.VendReleased, "", retries, cause.Error()); err != nil {
		m.logger.Error("Failed to persist release marker ", "payment ", req.Payment.ID(), "error ", err)
	}
	m.logger.Warn("Vend attempt failed, will retry ", "payment ", req.Payment.ID(), "attempt ", retries, "error ", cause)
}

func (m *VendingMachine) releaseReservations(req *models.VendRequest) {
	if err := m.gate.Release(&whitelist.Reservation{
		ID:    req.WhitelistReservationID,
		Key:   req.WhitelistKey,
		Count: int(req.TotalUnits()),
	}); err != nil {
		m.logger.Error("Failed to release whitelist hold ", "payment ", req.Payment.ID(), "error ", err)
	}
	if err := m.pool.Release(req.Records); err != nil {
		m.logger.Error("Failed to release asset records ", "payment ", req.Payment.ID(), "error ", err)
	}
}

// abandon marks a payment as requiring operator intervention. Abandoned
// payments are reported but never retried automatically. Any request
// context a prior marker recorded is carried over so the operator still
// sees the computed units and records when arranging a refund.
func (m *VendingMachine) abandon(paymentID string, retries int, reason error) {
	m.metrics.IncCounter(metrics.EventVendAbandoned, nil)
	m.logger.Error("Payment abandoned, operator action required ", "payment ", paymentID, "reason ", reason)
	marker := &models.VendMarker{
		PaymentID: paymentID,
		State:     models.VendAbandoned,
		Retries:   retries,
		Reason:    reason.Error(),
	}
	if prev, err := m.repo.GetMarker(paymentID); err != nil {
		m.logger.Error("Failed to read prior marker ", "payment ", paymentID, "error ", err)
	} else if prev != nil {
		marker.RequestJSON = prev.RequestJSON
		marker.TxID = prev.TxID
	}
	if err := m.repo.PutMarker(marker); err != nil {
		m.logger.Error("Failed to persist abandonment ", "payment ", paymentID, "error ", err)
	}
}

func (m *VendingMachine) putMarker(req *models.VendRequest, state models.VendState, txID string, retries int, reason string) error {
	encoded, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode vend request: %w", err)
	}
	return m.repo.PutMarker(&models.VendMarker{
		PaymentID:   req.Payment.ID(),
		State:       state,
		RequestJSON: string(encoded),
		TxID:        txID,
		Retries:     retries,
		Reason:      reason,
	})
}

// recoverInFlight reconciles markers left by a previous run with external
// reality before the loop starts. The pre-crash intent is never trusted on
// its own: submitted plans are checked against the signer and the chain.
func (m *VendingMachine) recoverInFlight(ctx context.Context) error {
	reserved, err := m.repo.ListMarkersByState(models.VendReserved)
	if err != nil {
		return err
	}
	for _, marker := range reserved {
		req, err := decodeRequest(marker)
		if err != nil {
			m.logger.Error("Corrupt reserved marker ", "payment ", marker.PaymentID, "error ", err)
			continue
		}
		// Nothing was handed to the signer; return the holds and let the
		// payment be rediscovered.
		m.releaseReservations(req)
		if err := m.putMarker(req, models.VendReleased, "", marker.Retries, "recovered reserved marker"); err != nil {
			m.logger.Error("Failed to re-arm recovered payment ", "payment ", marker.PaymentID, "error ", err)
		}
		m.logger.Info("Recovered reserved payment ", "payment ", marker.PaymentID)
	}

	submitted, err := m.repo.ListMarkersByState(models.VendSubmitted)
	if err != nil {
		return err
	}
	for _, marker := range submitted {
		req, err := decodeRequest(marker)
		if err != nil {
			m.logger.Error("Corrupt submitted marker ", "payment ", marker.PaymentID, "error ", err)
			continue
		}

		txID := marker.TxID
		if txID == "" {
			// The crash may have landed before or after the signer call;
			// ask the signer what actually happened.
			txID, err = m.signer.Submitted(ctx, req.ID)
			if err != nil {
				m.logger.Error("Failed to query signer for plan ", "payment ", marker.PaymentID, "error ", err)
				continue
			}
		}
		if txID == "" {
			m.logger.Info("Plan never broadcast, re-arming payment ", "payment ", marker.PaymentID)
			m.failAttempt(req, marker.Retries, errors.New("crash before broadcast"))
			continue
		}

		status, err := m.chain.TransactionStatus(ctx, txID)
		if err != nil {
			m.logger.Error("Failed to check recovered transaction ", "payment ", marker.PaymentID, "tx ", txID, "error ", err)
			continue
		}
		if status.Confirmed {
			if err := m.complete(req, txID); err != nil {
				m.logger.Error("Failed to commit recovered vend ", "payment ", marker.PaymentID, "error ", err)
				continue
			}
			m.metrics.IncCounter(metrics.EventVendCompleted, nil)
			m.logger.Info("Recovered completed vend ", "payment ", marker.PaymentID, "tx ", txID)
			continue
		}

		confirmed, interrupted := m.awaitConfirmation(ctx, txID)
		if interrupted {
			return nil
		}
		if confirmed {
			if err := m.complete(req, txID); err != nil {
				m.logger.Error("Failed to commit recovered vend ", "payment ", marker.PaymentID, "error ", err)
			}
			continue
		}
		m.failAttempt(req, marker.Retries, fmt.Errorf("recovered transaction %s not confirmed", txID))
	}
	return nil
}

func decodeRequest(marker *models.VendMarker) (*models.VendRequest, error) {
	var req models.VendRequest
	if err := json.Unmarshal([]byte(marker.RequestJSON), &req); err != nil {
		return nil, fmt.Errorf("failed to decode vend request: %w", err)
	}
	return &req, nil
}

// isDefinitional reports whether an error cannot resolve by retrying with
// the same inputs.
func isDefinitional(err error) bool {
	return errors.Is(err, pricing.ErrNoMatchingTier) ||
		errors.Is(err, pricing.ErrBelowMinimum) ||
		errors.Is(err, pricing.ErrUnevenPayment) ||
		errors.Is(err, whitelist.ErrQuotaExceeded) ||
		errors.Is(err, assetpool.ErrInsufficientInventory) ||
		errors.Is(err, txbuilder.ErrExceedsSingleVendMax)
}

// Status returns a point-in-time snapshot for the HTTP API.
func (m *VendingMachine) Status() (*models.VendStatus, error) {
	available, err := m.repo.AssetCountByState(models.AssetAvailable)
	if err != nil {
		return nil, err
	}
	reserved, err := m.repo.AssetCountByState(models.AssetReserved)
	if err != nil {
		return nil, err
	}
	delivered, err := m.repo.AssetCountByState(models.AssetDelivered)
	if err != nil {
		return nil, err
	}
	processed, err := m.repo.ProcessedCount()
	if err != nil {
		return nil, err
	}
	revenue, err := m.repo.RevenueTotal()
	if err != nil {
		return nil, err
	}
	return &models.VendStatus{
		PaymentAddress:    m.opts.PaymentAddress,
		AssetsAvailable:   available,
		AssetsReserved:    reserved,
		AssetsDelivered:   delivered,
		PaymentsProcessed: processed,
		RevenueLovelace:   revenue,
	}, nil
}

// Abandoned lists payments waiting for operator intervention.
func (m *VendingMachine) Abandoned() ([]*models.VendMarker, error) {
	return m.repo.ListMarkersByState(models.VendAbandoned)
}

package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openmint/vendere/internal/models"
	"github.com/openmint/vendere/pkg/logger"
)

// State is the subset of durable state the scanner filters against.
type State interface {
	IsProcessed(paymentID string) (bool, error)
	GetMarker(paymentID string) (*models.VendMarker, error)
}

// Scanner discovers new, confirmed, unprocessed payments on the payment
// address. Each poll only returns observations not previously served or
// in flight; the durable processed set and marker store are the
// restart-safe filter.
type Scanner struct {
	logger *logger.Logger

	chain models.ChainService
	state State

	paymentAddr      string
	minConfirmations int64
	maxRetries       uint64
}

// New creates a payment scanner. maxRetries bounds the backoff retries per
// indexer query.
func New(chain models.ChainService, state State, paymentAddr string, minConfirmations int64, maxRetries uint64, logger *logger.Logger) *Scanner {
	return &Scanner{
		logger:           logger,
		chain:            chain,
		state:            state,
		paymentAddr:      paymentAddr,
		minConfirmations: minConfirmations,
		maxRetries:       maxRetries,
	}
}

// PollNew returns the payments that are ready to vend: confirmed deep
// enough, not yet processed, and not bound to an in-flight or abandoned
// marker. Indexer failures are retried with exponential backoff and never
// advance any persisted state.
func (s *Scanner) PollNew(ctx context.Context) ([]models.PaymentObservation, error) {
	var utxos []models.PaymentObservation
	operation := func() error {
		var err error
		utxos, err = s.chain.AddressUTXOs(ctx, s.paymentAddr)
		if err != nil {
			s.logger.Warn("Indexer query failed, retrying ", "error ", err)
			return err
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(newExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("failed to query address activity: %w", err)
	}

	fresh := make([]models.PaymentObservation, 0, len(utxos))
	for _, utxo := range utxos {
		if utxo.Confirmations < s.minConfirmations {
			s.logger.Debug("Withholding shallow payment ", "payment ", utxo.ID(), "confirmations ", utxo.Confirmations)
			continue
		}
		// Outputs the engine sent to its own address are not purchases.
		if utxo.Sender == s.paymentAddr {
			continue
		}
		processed, err := s.state.IsProcessed(utxo.ID())
		if err != nil {
			return nil, fmt.Errorf("failed to check processed set: %w", err)
		}
		if processed {
			continue
		}
		marker, err := s.state.GetMarker(utxo.ID())
		if err != nil {
			return nil, fmt.Errorf("failed to check marker store: %w", err)
		}
		if marker != nil && marker.State != models.VendReleased {
			continue
		}
		fresh = append(fresh, utxo)
	}
	return fresh, nil
}

func newExponentialBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	return bo
}

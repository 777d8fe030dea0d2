package scanner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmint/vendere/internal/models"
	"github.com/openmint/vendere/pkg/logger"
)

type fakeChain struct {
	utxos    []models.PaymentObservation
	failures int
	calls    int
}

func (c *fakeChain) AddressUTXOs(ctx context.Context, address string) ([]models.PaymentObservation, error) {
	c.calls++
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("indexer unavailable")
	}
	return c.utxos, nil
}

func (c *fakeChain) ProtocolParameters(ctx context.Context) (*models.ProtocolParameters, error) {
	return &models.ProtocolParameters{}, nil
}

func (c *fakeChain) TransactionStatus(ctx context.Context, txID string) (*models.TxStatus, error) {
	return &models.TxStatus{}, nil
}

type fakeState struct {
	processed map[string]bool
	markers   map[string]*models.VendMarker
}

func newFakeState() *fakeState {
	return &fakeState{processed: make(map[string]bool), markers: make(map[string]*models.VendMarker)}
}

func (s *fakeState) IsProcessed(id string) (bool, error) {
	return s.processed[id], nil
}

func (s *fakeState) GetMarker(id string) (*models.VendMarker, error) {
	return s.markers[id], nil
}

func obs(hash string, idx uint32, amount, confirmations int64) models.PaymentObservation {
	return models.PaymentObservation{
		TxHash:        hash,
		OutputIndex:   idx,
		Sender:        "addr_test1sender",
		Received:      models.Lovelaces(amount),
		Confirmations: confirmations,
	}
}

func TestPollNewFiltersShallowPayments(t *testing.T) {
	chain := &fakeChain{utxos: []models.PaymentObservation{
		obs("aa", 0, 20_000_000, 5),
		obs("bb", 0, 20_000_000, 1),
	}}
	s := New(chain, newFakeState(), "addr_test1pay", 3, 4, logger.NewNopLogger())

	fresh, err := s.PollNew(context.Background())
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "aa#0", fresh[0].ID())
}

func TestPollNewFiltersProcessedAndInFlight(t *testing.T) {
	chain := &fakeChain{utxos: []models.PaymentObservation{
		obs("aa", 0, 20_000_000, 5),
		obs("bb", 1, 20_000_000, 5),
		obs("cc", 0, 20_000_000, 5),
	}}
	state := newFakeState()
	state.processed["aa#0"] = true
	state.markers["bb#1"] = &models.VendMarker{PaymentID: "bb#1", State: models.VendSubmitted}

	s := New(chain, state, "addr_test1pay", 3, 4, logger.NewNopLogger())
	fresh, err := s.PollNew(context.Background())
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "cc#0", fresh[0].ID())
}

func TestPollNewFiltersSelfPayments(t *testing.T) {
	self := obs("aa", 0, 20_000_000, 5)
	self.Sender = "addr_test1pay"
	chain := &fakeChain{utxos: []models.PaymentObservation{self, obs("bb", 0, 20_000_000, 5)}}

	s := New(chain, newFakeState(), "addr_test1pay", 3, 4, logger.NewNopLogger())
	fresh, err := s.PollNew(context.Background())
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "bb#0", fresh[0].ID())
}

func TestPollNewReleasedIsReoffered(t *testing.T) {
	chain := &fakeChain{utxos: []models.PaymentObservation{obs("aa", 0, 20_000_000, 5)}}
	state := newFakeState()
	state.markers["aa#0"] = &models.VendMarker{PaymentID: "aa#0", State: models.VendReleased, Retries: 1}

	s := New(chain, state, "addr_test1pay", 3, 4, logger.NewNopLogger())
	fresh, err := s.PollNew(context.Background())
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}

func TestPollNewAbandonedNeverRetried(t *testing.T) {
	chain := &fakeChain{utxos: []models.PaymentObservation{obs("aa", 0, 20_000_000, 5)}}
	state := newFakeState()
	state.markers["aa#0"] = &models.VendMarker{PaymentID: "aa#0", State: models.VendAbandoned}

	s := New(chain, state, "addr_test1pay", 3, 4, logger.NewNopLogger())
	fresh, err := s.PollNew(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestPollNewRetriesTransientIndexerFailures(t *testing.T) {
	chain := &fakeChain{
		utxos:    []models.PaymentObservation{obs("aa", 0, 20_000_000, 5)},
		failures: 2,
	}
	s := New(chain, newFakeState(), "addr_test1pay", 3, 4, logger.NewNopLogger())

	fresh, err := s.PollNew(context.Background())
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
	assert.Equal(t, 3, chain.calls)
}

func TestPollNewGivesUpAfterMaxRetries(t *testing.T) {
	chain := &fakeChain{failures: 100}
	s := New(chain, newFakeState(), "addr_test1pay", 3, 1, logger.NewNopLogger())

	_, err := s.PollNew(context.Background())
	assert.Error(t, err)
}

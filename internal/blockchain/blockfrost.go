package blockchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/openmint/vendere/internal/models"
	"github.com/openmint/vendere/pkg/logger"
)

const (
	// requestTimeout bounds every indexer round trip.
	requestTimeout = 10 * time.Second
	// estimatedTxSize is the transaction size the flat fee estimate is
	// computed for. Vend transactions with a handful of mints fit well
	// under this.
	estimatedTxSize = 4096
)

// Blockfrost is a client for a Blockfrost-compatible chain indexer. It is
// the engine's read-only window on the ledger.
type Blockfrost struct {
	logger *logger.Logger

	apiURL    string
	projectID string
	client    *http.Client
}

// NewBlockfrost creates a new indexer client.
func NewBlockfrost(apiURL, projectID string, logger *logger.Logger) *Blockfrost {
	return &Blockfrost{
		logger:    logger,
		apiURL:    apiURL,
		projectID: projectID,
		client:    &http.Client{Timeout: requestTimeout},
	}
}

type amountEntry struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type utxoEntry struct {
	TxHash      string        `json:"tx_hash"`
	OutputIndex uint32        `json:"output_index"`
	Amount      []amountEntry `json:"amount"`
	BlockHeight int64         `json:"block_height"`
}

type blockInfo struct {
	Height int64 `json:"height"`
}

type txUTXOs struct {
	Inputs []struct {
		Address string `json:"address"`
	} `json:"inputs"`
}

type txInfo struct {
	BlockHeight int64 `json:"block_height"`
}

type protocolParams struct {
	MinFeeA string `json:"min_fee_a"`
	MinFeeB string `json:"min_fee_b"`
	MinUTXO string `json:"min_utxo"`
}

// AddressUTXOs returns the unspent outputs on an address as payment
// observations, with confirmation depth computed against the chain tip.
func (b *Blockfrost) AddressUTXOs(ctx context.Context, address string) ([]models.PaymentObservation, error) {
	var tip blockInfo
	if err := b.get(ctx, "/blocks/latest", &tip); err != nil {
		return nil, fmt.Errorf("failed to get chain tip: %w", err)
	}

	var utxos []utxoEntry
	if err := b.get(ctx, "/addresses/"+address+"/utxos", &utxos); err != nil {
		return nil, fmt.Errorf("failed to get address utxos: %w", err)
	}

	observations := make([]models.PaymentObservation, 0, len(utxos))
	for _, utxo := range utxos {
		obs := models.PaymentObservation{
			TxHash:      utxo.TxHash,
			OutputIndex: utxo.OutputIndex,
		}
		for _, amount := range utxo.Amount {
			quantity, err := strconv.ParseInt(amount.Quantity, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse quantity %q of %s: %w", amount.Quantity, utxo.TxHash, err)
			}
			if amount.Unit == models.Lovelace {
				obs.Received = models.Lovelaces(quantity)
			} else {
				obs.Tokens = append(obs.Tokens, models.NewValue(quantity, amount.Unit))
			}
		}
		if utxo.BlockHeight > 0 {
			obs.Confirmations = tip.Height - utxo.BlockHeight + 1
		}

		sender, err := b.senderOf(ctx, utxo.TxHash)
		if err != nil {
			return nil, err
		}
		obs.Sender = sender

		observations = append(observations, obs)
	}
	return observations, nil
}

// senderOf resolves the funding address of a transaction from its first
// input.
func (b *Blockfrost) senderOf(ctx context.Context, txHash string) (string, error) {
	var utxos txUTXOs
	if err := b.get(ctx, "/txs/"+txHash+"/utxos", &utxos); err != nil {
		return "", fmt.Errorf("failed to get inputs of %s: %w", txHash, err)
	}
	if len(utxos.Inputs) == 0 {
		return "", fmt.Errorf("transaction %s has no inputs", txHash)
	}
	return utxos.Inputs[0].Address, nil
}

// ProtocolParameters returns the current fee constants. The per-byte fee is
// folded into a flat estimate for a typical vend transaction.
func (b *Blockfrost) ProtocolParameters(ctx context.Context) (*models.ProtocolParameters, error) {
	var params protocolParams
	if err := b.get(ctx, "/epochs/latest/parameters", &params); err != nil {
		return nil, fmt.Errorf("failed to get protocol parameters: %w", err)
	}

	feeA, err := strconv.ParseInt(params.MinFeeA, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse min_fee_a %q: %w", params.MinFeeA, err)
	}
	feeB, err := strconv.ParseInt(params.MinFeeB, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse min_fee_b %q: %w", params.MinFeeB, err)
	}
	minUTXO, err := strconv.ParseInt(params.MinUTXO, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse min_utxo %q: %w", params.MinUTXO, err)
	}

	return &models.ProtocolParameters{
		MinFee:  feeA*estimatedTxSize + feeB,
		MinUTXO: minUTXO,
	}, nil
}

// TransactionStatus reports inclusion of a broadcast transaction. A
// transaction the indexer does not know yet is simply unconfirmed.
func (b *Blockfrost) TransactionStatus(ctx context.Context, txID string) (*models.TxStatus, error) {
	var tx txInfo
	err := b.get(ctx, "/txs/"+txID, &tx)
	if err != nil {
		if isNotFound(err) {
			return &models.TxStatus{Confirmed: false}, nil
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", txID, err)
	}

	var tip blockInfo
	if err := b.get(ctx, "/blocks/latest", &tip); err != nil {
		return nil, fmt.Errorf("failed to get chain tip: %w", err)
	}
	return &models.TxStatus{
		Confirmed: true,
		Depth:     tip.Height - tx.BlockHeight + 1,
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("indexer returned status %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (b *Blockfrost) get(ctx context.Context, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("project_id", b.projectID)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

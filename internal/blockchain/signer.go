package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openmint/vendere/internal/models"
	"github.com/openmint/vendere/pkg/logger"
)

// submitTimeout bounds a sign-and-broadcast round trip. Signing is local
// to the signer tool but broadcasting waits on its chain connection.
const submitTimeout = 60 * time.Second

// SignerBridge talks to the external signing/broadcast tool over its HTTP
// interface. The engine never inspects the key material; it only forwards
// the opaque file references from configuration.
type SignerBridge struct {
	logger *logger.Logger

	apiURL string
	client *http.Client
}

// NewSignerBridge creates a client for the external signer.
func NewSignerBridge(apiURL string, logger *logger.Logger) *SignerBridge {
	return &SignerBridge{
		logger: logger,
		apiURL: apiURL,
		client: &http.Client{Timeout: submitTimeout},
	}
}

type submitRequest struct {
	Plan     *models.TransactionPlan `json:"plan"`
	Material models.SigningMaterial  `json:"material"`
}

type submitResponse struct {
	TxID string `json:"tx_id"`
}

// Submit hands a transaction plan to the signer for signing and broadcast.
// A non-2xx response is a rejection, wrapped in ErrSubmissionRejected.
func (s *SignerBridge) Submit(ctx context.Context, plan *models.TransactionPlan, material models.SigningMaterial) (string, error) {
	payload, err := json.Marshal(submitRequest{Plan: plan, Material: material})
	if err != nil {
		return "", fmt.Errorf("failed to encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/v1/submissions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach signer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read signer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("signer returned status %d: %s: %w", resp.StatusCode, string(body), models.ErrSubmissionRejected)
	}

	var result submitResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode signer response: %w", err)
	}
	if result.TxID == "" {
		return "", fmt.Errorf("signer accepted the plan but returned no transaction id: %w", models.ErrSubmissionRejected)
	}
	s.logger.Debug("Plan submitted ", "plan ", plan.ID, "tx ", result.TxID)
	return result.TxID, nil
}

// Submitted asks the signer whether it already broadcast a plan. Used on
// restart to reconcile a crash mid-submission with what actually happened.
func (s *SignerBridge) Submitted(ctx context.Context, planID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/v1/submissions/"+planID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build lookup request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach signer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read signer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signer returned status %d: %s", resp.StatusCode, string(body))
	}

	var result submitResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode signer response: %w", err)
	}
	return result.TxID, nil
}

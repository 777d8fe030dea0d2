package http_api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// lovelacePerADA converts on-chain integer amounts to display ADA.
var lovelacePerADA = decimal.NewFromInt(1_000_000)

// StatusResponse reports the engine snapshot with amounts in both raw
// lovelace and display ADA.
type StatusResponse struct {
	PaymentAddress    string `json:"payment_address"`
	AssetsAvailable   int64  `json:"assets_available"`
	AssetsReserved    int64  `json:"assets_reserved"`
	AssetsDelivered   int64  `json:"assets_delivered"`
	PaymentsProcessed int64  `json:"payments_processed"`
	RevenueLovelace   int64  `json:"revenue_lovelace"`
	RevenueADA        string `json:"revenue_ada"`
	SoldOut           bool   `json:"sold_out"`
}

// AbandonedPayment is one payment requiring operator intervention.
type AbandonedPayment struct {
	PaymentID string `json:"payment_id"`
	Retries   int    `json:"retries"`
	Reason    string `json:"reason"`
	UpdatedAt int64  `json:"updated_at"`
}

// AbandonedResponse lists payments that will never be retried
// automatically.
type AbandonedResponse struct {
	Count    int                `json:"count"`
	Payments []AbandonedPayment `json:"payments"`
}

// health is a handler for the /healthz endpoint.
func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// status is a handler for the /api/v1/status endpoint.
// It reports inventory counts and the processed-payments total.
func (s *HTTPServer) status(c *gin.Context) {
	snapshot, err := s.engine.Status()
	if err != nil {
		s.logger.Error("Failed to read engine status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read engine status"})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		PaymentAddress:    snapshot.PaymentAddress,
		AssetsAvailable:   snapshot.AssetsAvailable,
		AssetsReserved:    snapshot.AssetsReserved,
		AssetsDelivered:   snapshot.AssetsDelivered,
		PaymentsProcessed: snapshot.PaymentsProcessed,
		RevenueLovelace:   snapshot.RevenueLovelace,
		RevenueADA:        FormatADA(snapshot.RevenueLovelace),
		SoldOut:           snapshot.AssetsAvailable == 0,
	})
}

// abandoned is a handler for the /api/v1/abandoned endpoint.
// It lists payments waiting for operator action, newest first.
func (s *HTTPServer) abandoned(c *gin.Context) {
	markers, err := s.engine.Abandoned()
	if err != nil {
		s.logger.Error("Failed to list abandoned payments", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list abandoned payments"})
		return
	}

	payments := make([]AbandonedPayment, 0, len(markers))
	for _, m := range markers {
		payments = append(payments, AbandonedPayment{
			PaymentID: m.PaymentID,
			Retries:   m.Retries,
			Reason:    m.Reason,
			UpdatedAt: m.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, AbandonedResponse{
		Count:    len(payments),
		Payments: payments,
	})
}

// config is a handler for the /api/v1/config endpoint.
// It dumps the sanitized effective configuration for operators.
func (s *HTTPServer) config(c *gin.Context) {
	if s.configView == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.configView)
}

// FormatADA renders a lovelace amount as a decimal ADA string.
func FormatADA(lovelace int64) string {
	return decimal.NewFromInt(lovelace).Div(lovelacePerADA).String() + " ADA"
}

package http_api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmint/vendere/internal/models"
	"github.com/openmint/vendere/pkg/logger"
)

type fakeEngine struct {
	status    *models.VendStatus
	abandoned []*models.VendMarker
	err       error
}

func (e *fakeEngine) Status() (*models.VendStatus, error) {
	return e.status, e.err
}

func (e *fakeEngine) Abandoned() ([]*models.VendMarker, error) {
	return e.abandoned, e.err
}

func newTestServer(engine models.VendService) *HTTPServer {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	server := &HTTPServer{
		router: router,
		engine: engine,
		logger: logger.NewNopLogger(),
	}
	server.routes()
	return server
}

func TestStatusEndpoint(t *testing.T) {
	server := newTestServer(&fakeEngine{status: &models.VendStatus{
		PaymentAddress:    "addr_test1pay",
		AssetsAvailable:   5,
		AssetsDelivered:   3,
		PaymentsProcessed: 3,
		RevenueLovelace:   60_000_000,
	}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "addr_test1pay", resp.PaymentAddress)
	assert.Equal(t, int64(5), resp.AssetsAvailable)
	assert.Equal(t, "60 ADA", resp.RevenueADA)
	assert.False(t, resp.SoldOut)
}

func TestStatusEndpointSoldOut(t *testing.T) {
	server := newTestServer(&fakeEngine{status: &models.VendStatus{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.SoldOut)
}

func TestStatusEndpointEngineError(t *testing.T) {
	server := newTestServer(&fakeEngine{err: errors.New("db down")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAbandonedEndpoint(t *testing.T) {
	server := newTestServer(&fakeEngine{abandoned: []*models.VendMarker{
		{PaymentID: "aa#0", State: models.VendAbandoned, Retries: 3, Reason: "retries exhausted"},
	}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/abandoned", nil)
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp AbandonedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Payments, 1)
	assert.Equal(t, "aa#0", resp.Payments[0].PaymentID)
	assert.Equal(t, "retries exhausted", resp.Payments[0].Reason)
}

func TestConfigEndpoint(t *testing.T) {
	server := newTestServer(&fakeEngine{})
	server.configView = map[string]interface{}{"single_vend_max": 5}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(5), resp["single_vend_max"])
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeEngine{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

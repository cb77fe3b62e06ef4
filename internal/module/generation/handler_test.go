package generation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/motionlabs/meterd/internal/adapter/store/memory"
	"github.com/motionlabs/meterd/internal/module/generation"
	"github.com/motionlabs/meterd/internal/module/ledger"
)

const upgradeURL = "https://pay.example.com/upgrade"

func setupRouter(t *testing.T) (*gin.Engine, *ledger.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	service := ledger.NewService(store, nil, nil, upgradeURL, zap.NewNop())
	handler := generation.NewHandler(service, upgradeURL, zap.NewNop())

	router := gin.New()
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)
	return router, service
}

func postGenerate(t *testing.T, router *gin.Engine, payload any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestGenerateConsumesCredit(t *testing.T) {
	router, service := setupRouter(t)

	registered, err := service.Register(context.Background(), "alice@example.com", "", "")
	require.NoError(t, err)

	w, body := postGenerate(t, router, gin.H{
		"account_id": registered.AccountID,
		"prompt":     "a lighthouse at dusk",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accepted", body["status"])
	assert.NotEmpty(t, body["generation_id"])
	assert.Equal(t, float64(9), body["remaining"])
}

func TestGenerateValidation(t *testing.T) {
	router, _ := setupRouter(t)

	w, _ := postGenerate(t, router, gin.H{"prompt": "missing account"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = postGenerate(t, router, gin.H{"account_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateUnregisteredAccount(t *testing.T) {
	router, _ := setupRouter(t)

	w, body := postGenerate(t, router, gin.H{
		"account_id": "deadbeef",
		"prompt":     "anything",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_registered", body["error"])
	assert.Equal(t, upgradeURL, body["register_url"])
}

func TestGenerateExhaustedBalance(t *testing.T) {
	router, service := setupRouter(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, "bob@example.com", "", "")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := service.Consume(ctx, registered.AccountID)
		require.NoError(t, err)
	}

	w, body := postGenerate(t, router, gin.H{
		"account_id": registered.AccountID,
		"prompt":     "one too many",
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "limit_exceeded", body["error"])
	assert.Equal(t, upgradeURL, body["upgrade_url"])
}

func TestGenerateInactiveSubscription(t *testing.T) {
	router, service := setupRouter(t)
	ctx := context.Background()

	_, err := service.ApplyPurchase(ctx, "carol@example.com", "pro")
	require.NoError(t, err)
	require.NoError(t, service.Deactivate(ctx, "carol@example.com"))

	w, body := postGenerate(t, router, gin.H{
		"account_id": ledger.AccountID("carol@example.com"),
		"prompt":     "blocked",
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "subscription_inactive", body["error"])
}

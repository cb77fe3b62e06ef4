package ledger_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/motionlabs/meterd/internal/adapter/dedup"
	"github.com/motionlabs/meterd/internal/adapter/store/memory"
	"github.com/motionlabs/meterd/internal/module/ledger"
)

const testStripeSecret = "whsec_test_secret"

func setupWebhookRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	service := ledger.NewService(store, nil, nil, testUpgradeURL, zap.NewNop())
	handler := ledger.NewWebhookHandler(service, dedup.NewMemory(), testStripeSecret, zap.NewNop())

	router := gin.New()
	webhooks := router.Group("/webhooks")
	handler.RegisterRoutes(webhooks)
	return router, store
}

func postPurchase(t *testing.T, router *gin.Engine, event ledger.PurchaseEvent) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/purchase", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestPurchaseWebhookUpgrades(t *testing.T) {
	router, store := setupWebhookRouter(t)

	w, body := postPurchase(t, router, ledger.PurchaseEvent{
		EventID:     "evt-1",
		Event:       ledger.PurchaseEventPayment,
		Email:       "alice@example.com",
		ProductName: "pro_monthly",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", body["status"])

	account, err := store.Get(context.Background(), ledger.AccountID("alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, ledger.TierPro, account.PlanTier)
	assert.True(t, account.SubscriptionActive)
}

func TestPurchaseWebhookDuplicateEventDropped(t *testing.T) {
	router, store := setupWebhookRouter(t)

	event := ledger.PurchaseEvent{
		EventID:     "evt-dup",
		Event:       ledger.PurchaseEventPayment,
		Email:       "bob@example.com",
		ProductName: "basic",
	}

	w, body := postPurchase(t, router, event)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", body["status"])

	w, body = postPurchase(t, router, event)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_processed", body["status"])

	account, err := store.Get(context.Background(), ledger.AccountID("bob@example.com"))
	require.NoError(t, err)
	assert.Equal(t, ledger.TierBasic, account.PlanTier)
}

// flakyService fails the first n ApplyPurchase calls, then delegates.
type flakyService struct {
	ledger.ServiceInterface
	mu       sync.Mutex
	failures int
}

func (s *flakyService) ApplyPurchase(ctx context.Context, email, productName string) (*ledger.UpgradeResult, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, ledger.ErrStoreUnavailable
	}
	s.mu.Unlock()
	return s.ServiceInterface.ApplyPurchase(ctx, email, productName)
}

func TestPurchaseWebhookRetryAfterTransientFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := memory.New()
	service := ledger.NewService(store, nil, nil, testUpgradeURL, zap.NewNop())
	flaky := &flakyService{ServiceInterface: service, failures: 1}
	handler := ledger.NewWebhookHandler(flaky, dedup.NewMemory(), testStripeSecret, zap.NewNop())

	router := gin.New()
	handler.RegisterRoutes(router.Group("/webhooks"))

	event := ledger.PurchaseEvent{
		EventID:     "evt-flaky",
		Event:       ledger.PurchaseEventPayment,
		Email:       "retry@example.com",
		ProductName: "pro",
	}

	w, _ := postPurchase(t, router, event)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	// The failed attempt released its dedup mark, so the provider's retry
	// is processed rather than swallowed as a duplicate.
	w, body := postPurchase(t, router, event)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", body["status"])

	account, err := store.Get(context.Background(), ledger.AccountID("retry@example.com"))
	require.NoError(t, err)
	assert.Equal(t, ledger.TierPro, account.PlanTier)
}

func TestPurchaseWebhookMissingEventType(t *testing.T) {
	router, store := setupWebhookRouter(t)

	// Providers that do not tag the event type are treated as payments.
	w, body := postPurchase(t, router, ledger.PurchaseEvent{
		EventID: "evt-untyped",
		Email:   "carol@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", body["status"])

	account, err := store.Get(context.Background(), ledger.AccountID("carol@example.com"))
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultPaidTier, account.PlanTier)
}

func TestPurchaseWebhookCancel(t *testing.T) {
	router, store := setupWebhookRouter(t)

	_, _ = postPurchase(t, router, ledger.PurchaseEvent{
		EventID:     "evt-pay",
		Event:       ledger.PurchaseEventPayment,
		Email:       "dave@example.com",
		ProductName: "pro",
	})

	w, body := postPurchase(t, router, ledger.PurchaseEvent{
		EventID: "evt-cancel",
		Event:   ledger.PurchaseEventCancel,
		Email:   "dave@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", body["status"])

	account, err := store.Get(context.Background(), ledger.AccountID("dave@example.com"))
	require.NoError(t, err)
	assert.False(t, account.SubscriptionActive)
	assert.Equal(t, ledger.TierPro, account.PlanTier)
}

func TestPurchaseWebhookCancelUnknownAccount(t *testing.T) {
	router, _ := setupWebhookRouter(t)

	// A cancellation for an email we never saw is acknowledged, not retried.
	w, body := postPurchase(t, router, ledger.PurchaseEvent{
		EventID: "evt-ghost",
		Event:   ledger.PurchaseEventCancel,
		Email:   "ghost@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", body["status"])
}

func TestPurchaseWebhookMalformedPayload(t *testing.T) {
	router, _ := setupWebhookRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/purchase", bytes.NewReader([]byte(`{"email": 42}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// signStripePayload computes the v1 signature scheme Stripe uses for
// webhook delivery.
func signStripePayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func postStripe(t *testing.T, router *gin.Engine, payload []byte, signature string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestStripeWebhookCheckoutCompleted(t *testing.T) {
	router, store := setupWebhookRouter(t)

	payload := []byte(`{
		"id": "evt_stripe_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"customer_email": "eve@example.com",
				"metadata": {"product_name": "business"}
			}
		}
	}`)

	w, body := postStripe(t, router, payload, signStripePayload(payload, testStripeSecret, time.Now()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", body["status"])

	account, err := store.Get(context.Background(), ledger.AccountID("eve@example.com"))
	require.NoError(t, err)
	assert.Equal(t, ledger.TierBusiness, account.PlanTier)
	assert.True(t, account.SubscriptionActive)
}

func TestStripeWebhookSubscriptionDeleted(t *testing.T) {
	router, store := setupWebhookRouter(t)

	_, _ = postPurchase(t, router, ledger.PurchaseEvent{
		EventID:     "evt-seed",
		Event:       ledger.PurchaseEventPayment,
		Email:       "frank@example.com",
		ProductName: "pro",
	})

	payload := []byte(`{
		"id": "evt_stripe_2",
		"type": "customer.subscription.deleted",
		"data": {
			"object": {
				"id": "sub_test_1",
				"metadata": {"email": "frank@example.com"}
			}
		}
	}`)

	w, body := postStripe(t, router, payload, signStripePayload(payload, testStripeSecret, time.Now()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", body["status"])

	account, err := store.Get(context.Background(), ledger.AccountID("frank@example.com"))
	require.NoError(t, err)
	assert.False(t, account.SubscriptionActive)
}

func TestStripeWebhookInvalidSignature(t *testing.T) {
	router, _ := setupWebhookRouter(t)

	payload := []byte(`{"id": "evt_bad", "type": "checkout.session.completed"}`)
	w, body := postStripe(t, router, payload, "t=0,v1=deadbeef")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_signature", body["error"])
}

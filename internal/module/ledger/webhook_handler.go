package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// Purchase event names accepted on the generic webhook.
const (
	PurchaseEventPayment = "payment"
	PurchaseEventCancel  = "cancel"
	PurchaseEventRefund  = "refund"
)

// WebhookHandler handles inbound payment-provider notifications.
type WebhookHandler struct {
	service      ServiceInterface
	dedup        EventDedup
	stripeSecret string
	logger       *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(service ServiceInterface, dedup EventDedup, stripeSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:      service,
		dedup:        dedup,
		stripeSecret: stripeSecret,
		logger:       logger,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/purchase", h.HandlePurchase)
	r.POST("/stripe", h.HandleStripe)
}

// HandlePurchase handles the generic provider notification shape
// {event_id, event, email, product_name}. Providers may retry or duplicate
// deliveries; duplicates are acknowledged without reprocessing.
func (h *WebhookHandler) HandlePurchase(c *gin.Context) {
	var event PurchaseEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.logger.Warn("malformed purchase webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	ctx := c.Request.Context()
	if h.alreadyProcessed(ctx, event.EventID) {
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return
	}

	var err error
	switch event.Event {
	case PurchaseEventCancel, PurchaseEventRefund:
		err = h.deactivate(ctx, event.Email)
	case PurchaseEventPayment, "":
		_, err = h.service.ApplyPurchase(ctx, event.Email, event.ProductName)
	default:
		h.logger.Debug("unhandled purchase event type", zap.String("event", event.Event))
	}
	if err != nil {
		h.handleProcessError(c, event.EventID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// HandleStripe handles incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed_to_read_body"})
		return
	}

	event, err := stripewebhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.stripeSecret)
	if err != nil {
		h.logger.Warn("invalid stripe webhook signature", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}

	ctx := c.Request.Context()
	if h.alreadyProcessed(ctx, event.ID) {
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return
	}

	var processErr error
	switch event.Type {
	case "checkout.session.completed":
		processErr = h.handleCheckoutCompleted(ctx, &event)
	case "customer.subscription.deleted":
		processErr = h.handleSubscriptionDeleted(ctx, &event)
	default:
		h.logger.Debug("unhandled stripe event type", zap.String("type", string(event.Type)))
	}
	if processErr != nil {
		h.handleProcessError(c, event.ID, processErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return err
	}

	email := session.CustomerEmail
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	if email == "" {
		h.logger.Warn("checkout session without customer email", zap.String("session_id", session.ID))
		return nil
	}

	product := session.Metadata["product_name"]
	h.logger.Info("stripe checkout completed",
		zap.String("session_id", session.ID),
		zap.String("product", product),
	)
	_, err := h.service.ApplyPurchase(ctx, email, product)
	return err
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}

	email := sub.Metadata["email"]
	if email == "" {
		h.logger.Warn("subscription deleted without email metadata", zap.String("subscription_id", sub.ID))
		return nil
	}

	h.logger.Info("stripe subscription deleted", zap.String("subscription_id", sub.ID))
	return h.deactivate(ctx, email)
}

// deactivate tolerates cancellations for accounts that never registered;
// failing those would only make the provider retry a no-op forever.
func (h *WebhookHandler) deactivate(ctx context.Context, email string) error {
	err := h.service.Deactivate(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		h.logger.Warn("cancellation for unknown account", zap.String("account_id", AccountID(email)))
		return nil
	}
	return err
}

// alreadyProcessed records the event ID and reports whether it was seen
// before. Dedup failures err on the side of processing: better twice than
// never.
func (h *WebhookHandler) alreadyProcessed(ctx context.Context, eventID string) bool {
	if h.dedup == nil || eventID == "" {
		return false
	}
	seen, err := h.dedup.MarkProcessed(ctx, eventID)
	if err != nil {
		h.logger.Error("event dedup check failed", zap.Error(err), zap.String("event_id", eventID))
		return false
	}
	if seen {
		h.logger.Info("webhook event already processed", zap.String("event_id", eventID))
	}
	return seen
}

// handleProcessError reports the failure and releases the dedup mark so
// the provider's retry is processed instead of acknowledged as a duplicate.
func (h *WebhookHandler) handleProcessError(c *gin.Context, eventID string, err error) {
	h.logger.Error("failed to process webhook event",
		zap.String("event_id", eventID),
		zap.Error(err),
	)
	if h.dedup != nil && eventID != "" {
		if clearErr := h.dedup.Clear(c.Request.Context(), eventID); clearErr != nil {
			h.logger.Error("failed to clear event mark",
				zap.String("event_id", eventID),
				zap.Error(clearErr),
			)
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed"})
}

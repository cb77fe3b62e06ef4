// Package generation stubs the credit-protected image generation action.
// The interesting part is the gate: one credit is consumed per request and
// an exhausted balance turns into an upgrade prompt, not a server error.
package generation

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/motionlabs/meterd/internal/module/ledger"
)

// GenerateRequest asks for one image generation.
type GenerateRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Prompt    string `json:"prompt" binding:"required"`
}

// GenerateResponse is the stubbed generation result.
type GenerateResponse struct {
	GenerationID string          `json:"generation_id"`
	Status       string          `json:"status"`
	Remaining    int             `json:"remaining"`
	PlanTier     ledger.PlanTier `json:"plan_tier"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Handler handles generation requests.
type Handler struct {
	ledger     ledger.ServiceInterface
	upgradeURL string
	logger     *zap.Logger
}

// NewHandler creates a new generation handler.
func NewHandler(ledgerService ledger.ServiceInterface, upgradeURL string, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledgerService, upgradeURL: upgradeURL, logger: logger}
}

// RegisterRoutes registers the generation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/generate", h.Generate)
}

// Generate consumes one credit and returns a stubbed generation payload.
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id and prompt are required"})
		return
	}

	result, err := h.ledger.Consume(c.Request.Context(), req.AccountID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	generationID := uuid.New().String()
	h.logger.Info("generation accepted",
		zap.String("generation_id", generationID),
		zap.String("account_id", req.AccountID),
		zap.Int("remaining", result.Remaining),
	)

	// The actual image generation is out of scope; acknowledge the request.
	c.JSON(http.StatusOK, GenerateResponse{
		GenerationID: generationID,
		Status:       "accepted",
		Remaining:    result.Remaining,
		PlanTier:     result.PlanTier,
		CreatedAt:    time.Now().UTC(),
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":        "not_registered",
			"message":      "You are not registered. Please purchase a subscription.",
			"register_url": h.upgradeURL,
		})
	case errors.Is(err, ledger.ErrSubscriptionInactive):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":       "subscription_inactive",
			"message":     "Your subscription is inactive. Reactivate it to continue.",
			"upgrade_url": h.upgradeURL,
		})
	case errors.Is(err, ledger.ErrLimitExceeded):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":       "limit_exceeded",
			"message":     fmt.Sprintf("Your limit is reached. Upgrade at %s to keep generating.", h.upgradeURL),
			"upgrade_url": h.upgradeURL,
		})
	case errors.Is(err, ledger.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

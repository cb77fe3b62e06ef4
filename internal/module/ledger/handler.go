package ledger

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the ledger.
type Handler struct {
	service    ServiceInterface
	upgradeURL string
}

// NewHandler creates a new ledger handler.
func NewHandler(service ServiceInterface, upgradeURL string) *Handler {
	return &Handler{service: service, upgradeURL: upgradeURL}
}

// RegisterRoutes registers the ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	accounts := r.Group("/accounts")
	{
		accounts.POST("/register", h.Register)
		accounts.POST("/identify", h.Identify)
		accounts.GET("/:id/allowance", h.CheckAllowance)
		accounts.POST("/:id/consume", h.Consume)
		accounts.POST("/:id/upgrade", h.Upgrade)
	}
}

// Register registers an account by email. Idempotent.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email_required"})
		return
	}

	resp, err := h.service.Register(c.Request.Context(), req.Email, c.ClientIP(), req.ExternalID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Identify resolves an account from identifying attributes.
func (h *Handler) Identify(c *gin.Context) {
	var req IdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if req.Email == "" && req.IPAddress == "" && req.ExternalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifying_attribute_required"})
		return
	}

	resp, err := h.service.Identify(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CheckAllowance returns the account's remaining-credits view.
func (h *Handler) CheckAllowance(c *gin.Context) {
	allowance, err := h.service.CheckAllowance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, allowance)
}

// Consume spends one credit.
func (h *Handler) Consume(c *gin.Context) {
	result, err := h.service.Consume(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Upgrade changes the account's plan tier.
func (h *Handler) Upgrade(c *gin.Context) {
	var req UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier_required"})
		return
	}

	result, err := h.service.Upgrade(c.Request.Context(), c.Param("id"), req.Tier)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
	case errors.Is(err, ErrLimitExceeded):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":       "limit_exceeded",
			"message":     "Credit limit reached. Upgrade your plan to continue.",
			"upgrade_url": h.upgradeURL,
		})
	case errors.Is(err, ErrSubscriptionInactive):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":       "subscription_inactive",
			"message":     "Your subscription is inactive. Reactivate it to continue.",
			"upgrade_url": h.upgradeURL,
		})
	case errors.Is(err, ErrInvalidTier):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier"})
	case errors.Is(err, ErrEmailRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "email_required"})
	case errors.Is(err, ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

package ledger

// RegisterRequest registers an account by email. ExternalID optionally
// records the caller's platform identifier as a secondary lookup
// attribute; the originating IP is captured from the connection.
type RegisterRequest struct {
	Email      string `json:"email" binding:"required,email"`
	ExternalID string `json:"external_id"`
}

// RegisterResponse is the registration result.
type RegisterResponse struct {
	AccountID string   `json:"account_id"`
	PlanTier  PlanTier `json:"plan_tier"`
}

// IdentifyRequest resolves an account from any known attribute.
// Email is the primary attribute; the secondary attributes are consulted
// in declaration order only when the primary yields no match.
type IdentifyRequest struct {
	Email      string `json:"email"`
	IPAddress  string `json:"ip_address"`
	ExternalID string `json:"external_id"`
}

// IdentifyResponse is the identification result.
type IdentifyResponse struct {
	AccountID string   `json:"account_id"`
	PlanTier  PlanTier `json:"plan_tier"`
}

// Allowance is the computed remaining-credits view of an account.
type Allowance struct {
	Allowed            bool     `json:"allowed"`
	Remaining          int      `json:"remaining"`
	PlanTier           PlanTier `json:"plan_tier"`
	SubscriptionActive bool     `json:"subscription_active"`
	UpgradeURL         string   `json:"upgrade_url,omitempty"`
}

// ConsumeResult reports the balance after a successful consume.
type ConsumeResult struct {
	Remaining int      `json:"remaining"`
	PlanTier  PlanTier `json:"plan_tier"`
}

// UpgradeRequest changes an account's plan tier.
type UpgradeRequest struct {
	Tier PlanTier `json:"tier" binding:"required"`
}

// UpgradeResult reports the plan after an upgrade.
type UpgradeResult struct {
	PlanTier   PlanTier `json:"plan_tier"`
	MaxCredits int      `json:"max_credits"`
}

// PurchaseEvent is the normalized payment-provider notification payload.
type PurchaseEvent struct {
	EventID     string `json:"event_id"`
	Event       string `json:"event"`
	Email       string `json:"email" binding:"required,email"`
	ProductName string `json:"product_name"`
}

// RegistrationEvent is the fire-and-forget notification emitted when a new
// account is created.
type RegistrationEvent struct {
	AccountID string   `json:"account_id"`
	Email     string   `json:"email"`
	PlanTier  PlanTier `json:"plan_tier"`
}

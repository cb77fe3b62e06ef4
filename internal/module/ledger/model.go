package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// UnlimitedCredits is the sentinel max_credits value for plans without a ceiling.
const UnlimitedCredits = -1

// PlanTier represents a named subscription level.
type PlanTier string

const (
	TierFree       PlanTier = "free"
	TierBasic      PlanTier = "basic"
	TierPro        PlanTier = "pro"
	TierBusiness   PlanTier = "business"
	TierEnterprise PlanTier = "enterprise"
)

// tierLimits maps each tier to its credit ceiling.
var tierLimits = map[PlanTier]int{
	TierFree:       10,
	TierBasic:      50,
	TierPro:        200,
	TierBusiness:   1000,
	TierEnterprise: UnlimitedCredits,
}

// TierLimit returns the credit ceiling for a tier.
// The second return value is false for unknown tiers.
func TierLimit(tier PlanTier) (int, bool) {
	limit, ok := tierLimits[tier]
	return limit, ok
}

// ValidTier reports whether the tier belongs to the closed tier set.
func ValidTier(tier PlanTier) bool {
	_, ok := tierLimits[tier]
	return ok
}

// productTiers maps payment-provider product names to tiers.
// Unknown product names fall back to DefaultPaidTier so a malformed
// product reference never fails webhook processing.
var productTiers = map[string]PlanTier{
	"basic":             TierBasic,
	"basic_monthly":     TierBasic,
	"pro":               TierPro,
	"pro_monthly":       TierPro,
	"pro_yearly":        TierPro,
	"business":          TierBusiness,
	"business_monthly":  TierBusiness,
	"enterprise":        TierEnterprise,
	"enterprise_yearly": TierEnterprise,
}

// DefaultPaidTier is the fallback tier for unrecognized product names.
const DefaultPaidTier = TierBasic

// TierForProduct maps a product name to a tier, falling back to DefaultPaidTier.
func TierForProduct(product string) PlanTier {
	if tier, ok := productTiers[strings.ToLower(strings.TrimSpace(product))]; ok {
		return tier
	}
	return DefaultPaidTier
}

// AttributeKind identifies a secondary lookup attribute.
type AttributeKind string

const (
	AttributeIPAddress  AttributeKind = "ip_address"
	AttributeExternalID AttributeKind = "external_id"
)

// Account tracks one end-user's credit usage and plan.
// The ID is a one-way hash of the registering email, so the same email
// always resolves to the same account without the email appearing in the ID.
type Account struct {
	ID                 string   `json:"account_id" gorm:"primaryKey;size:64"`
	IPAddress          string   `json:"-" gorm:"index;size:64"`
	ExternalID         string   `json:"-" gorm:"index;size:128"`
	UsedCredits        int      `json:"used_credits" gorm:"not null;default:0"`
	MaxCredits         int      `json:"max_credits" gorm:"not null;default:10"`
	PlanTier           PlanTier `json:"plan_tier" gorm:"not null;default:free;size:32"`
	SubscriptionActive bool     `json:"subscription_active" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Account) TableName() string {
	return "accounts"
}

// Remaining returns the credits left, or UnlimitedCredits for unlimited plans.
func (a *Account) Remaining() int {
	if a.MaxCredits == UnlimitedCredits {
		return UnlimitedCredits
	}
	remaining := a.MaxCredits - a.UsedCredits
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Unlimited reports whether the account's plan has no credit ceiling.
func (a *Account) Unlimited() bool {
	return a.MaxCredits == UnlimitedCredits
}

// Allowed reports whether the account may consume another credit.
// Paid tiers with a deactivated subscription are not allowed regardless
// of remaining balance.
func (a *Account) Allowed() bool {
	if a.PlanTier != TierFree && !a.SubscriptionActive {
		return false
	}
	return a.Unlimited() || a.UsedCredits < a.MaxCredits
}

// NewAccount creates an account on the default free tier with zero usage.
func NewAccount(email string) *Account {
	return &Account{
		ID:          AccountID(email),
		UsedCredits: 0,
		MaxCredits:  tierLimits[TierFree],
		PlanTier:    TierFree,
	}
}

// AccountID derives the stable account identifier from an email address.
func AccountID(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

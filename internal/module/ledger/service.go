package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/motionlabs/meterd/internal/utils/metrics"
)

// Notifier publishes registration events to the tracking sink.
// Implementations must not block registration: delivery is best-effort.
type Notifier interface {
	RegistrationCreated(ctx context.Context, event RegistrationEvent)
}

// ServiceInterface defines the ledger operations.
type ServiceInterface interface {
	Register(ctx context.Context, email, ipAddress, externalID string) (*RegisterResponse, error)
	Identify(ctx context.Context, req *IdentifyRequest) (*IdentifyResponse, error)
	CheckAllowance(ctx context.Context, accountID string) (*Allowance, error)
	Consume(ctx context.Context, accountID string) (*ConsumeResult, error)
	Upgrade(ctx context.Context, accountID string, tier PlanTier) (*UpgradeResult, error)
	ApplyPurchase(ctx context.Context, email, productName string) (*UpgradeResult, error)
	Deactivate(ctx context.Context, email string) error
}

// Service implements the credit-ledger state machine.
type Service struct {
	store      Store
	notifier   Notifier
	metrics    *metrics.Metrics
	upgradeURL string
	logger     *zap.Logger
}

// NewService creates a new ledger service. notifier and m may be nil.
func NewService(store Store, notifier Notifier, m *metrics.Metrics, upgradeURL string, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		notifier:   notifier,
		metrics:    m,
		upgradeURL: upgradeURL,
		logger:     logger,
	}
}

var _ ServiceInterface = (*Service)(nil)

// Register resolves or creates the account for an email. Calling it twice
// with the same email returns the same account without creating a duplicate.
// ipAddress and externalID are stored as secondary lookup attributes on a
// newly created account so Identify can later resolve it without the email.
func (s *Service) Register(ctx context.Context, email, ipAddress, externalID string) (*RegisterResponse, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	account, created, err := s.resolveOrCreate(ctx, email, ipAddress, externalID)
	if err != nil {
		return nil, err
	}

	if created {
		if s.metrics != nil {
			s.metrics.RegistrationsTotal.Inc()
		}
		s.logger.Info("account registered",
			zap.String("account_id", account.ID),
			zap.String("plan_tier", string(account.PlanTier)),
		)
		if s.notifier != nil {
			s.notifier.RegistrationCreated(ctx, RegistrationEvent{
				AccountID: account.ID,
				Email:     email,
				PlanTier:  account.PlanTier,
			})
		}
	}

	return &RegisterResponse{AccountID: account.ID, PlanTier: account.PlanTier}, nil
}

// resolveOrCreate returns the account for the email, creating it when absent.
// A concurrent duplicate create loses to the first writer and re-reads.
func (s *Service) resolveOrCreate(ctx context.Context, email, ipAddress, externalID string) (*Account, bool, error) {
	id := AccountID(email)

	account, err := s.store.Get(ctx, id)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}

	account = NewAccount(email)
	account.IPAddress = strings.TrimSpace(ipAddress)
	account.ExternalID = strings.TrimSpace(externalID)
	if err := s.store.Create(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			existing, getErr := s.store.Get(ctx, id)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create account: %w", err)
	}
	return account, true, nil
}

// Identify resolves an account from any known attribute. The email is
// checked first; secondary attributes only when the email yields no match.
func (s *Service) Identify(ctx context.Context, req *IdentifyRequest) (*IdentifyResponse, error) {
	account, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return &IdentifyResponse{AccountID: account.ID, PlanTier: account.PlanTier}, nil
}

func (s *Service) resolve(ctx context.Context, req *IdentifyRequest) (*Account, error) {
	if email := strings.TrimSpace(req.Email); email != "" {
		account, err := s.store.Get(ctx, AccountID(email))
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
	}

	secondary := []struct {
		kind  AttributeKind
		value string
	}{
		{AttributeIPAddress, strings.TrimSpace(req.IPAddress)},
		{AttributeExternalID, strings.TrimSpace(req.ExternalID)},
	}
	for _, attr := range secondary {
		if attr.value == "" {
			continue
		}
		account, err := s.store.FindByAttribute(ctx, attr.kind, attr.value)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
	}

	return nil, ErrAccountNotFound
}

// CheckAllowance computes the remaining-credits view. Pure read.
func (s *Service) CheckAllowance(ctx context.Context, accountID string) (*Allowance, error) {
	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	allowance := &Allowance{
		Allowed:            account.Allowed(),
		Remaining:          account.Remaining(),
		PlanTier:           account.PlanTier,
		SubscriptionActive: account.SubscriptionActive,
	}
	if !allowance.Allowed {
		allowance.UpgradeURL = s.upgradeURL
	}
	return allowance, nil
}

// Consume spends one credit. The check and increment run as a single
// serialized unit per account, so usage can never pass the ceiling even
// under concurrent calls.
func (s *Service) Consume(ctx context.Context, accountID string) (*ConsumeResult, error) {
	account, err := s.store.Apply(ctx, accountID, func(a *Account) error {
		if a.PlanTier != TierFree && !a.SubscriptionActive {
			return ErrSubscriptionInactive
		}
		if !a.Unlimited() && a.UsedCredits >= a.MaxCredits {
			return ErrLimitExceeded
		}
		a.UsedCredits++
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLimitExceeded) && s.metrics != nil {
			s.metrics.LimitExceededTotal.Inc()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ConsumesTotal.Inc()
	}
	return &ConsumeResult{Remaining: account.Remaining(), PlanTier: account.PlanTier}, nil
}

// Upgrade moves the account to a new tier. The tier triple changes
// atomically and usage resets to zero.
func (s *Service) Upgrade(ctx context.Context, accountID string, tier PlanTier) (*UpgradeResult, error) {
	limit, ok := TierLimit(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	account, err := s.store.Apply(ctx, accountID, func(a *Account) error {
		a.PlanTier = tier
		a.MaxCredits = limit
		a.UsedCredits = 0
		// subscription_active holds only while a paid tier is in effect
		a.SubscriptionActive = tier != TierFree
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.UpgradesTotal.WithLabelValues(string(tier)).Inc()
	}
	s.logger.Info("account upgraded",
		zap.String("account_id", account.ID),
		zap.String("plan_tier", string(tier)),
		zap.Int("max_credits", limit),
	)
	return &UpgradeResult{PlanTier: account.PlanTier, MaxCredits: account.MaxCredits}, nil
}

// ApplyPurchase handles an upstream payment notification. Unknown emails
// are registered first, then upgraded; unknown product names map to the
// minimal paid tier. Reapplying the same event converges on the same state.
func (s *Service) ApplyPurchase(ctx context.Context, email, productName string) (*UpgradeResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	account, _, err := s.resolveOrCreate(ctx, email, "", "")
	if err != nil {
		return nil, err
	}

	tier := TierForProduct(productName)
	s.logger.Info("applying purchase event",
		zap.String("account_id", account.ID),
		zap.String("product", productName),
		zap.String("plan_tier", string(tier)),
	)
	return s.Upgrade(ctx, account.ID, tier)
}

// Deactivate marks the account's subscription inactive, keeping tier and
// usage untouched. Used for cancellation and refund events.
func (s *Service) Deactivate(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}

	account, err := s.store.Apply(ctx, AccountID(email), func(a *Account) error {
		a.SubscriptionActive = false
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("subscription deactivated",
		zap.String("account_id", account.ID),
		zap.String("plan_tier", string(account.PlanTier)),
	)
	return nil
}

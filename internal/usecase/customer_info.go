package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-bridge/internal/domain"
	"support-bridge/internal/observability"
)

const customerInfoSource = "existing_user_support_ticket"

// CustomerInfoService answers the helpdesk's enrichment callback. Blank,
// unknown and failed lookups share one response shape so the endpoint cannot
// be used to enumerate accounts.
type CustomerInfoService struct {
	accounts AccountFinder
	now      func() time.Time
}

// NewCustomerInfoService creates a CustomerInfoService backed by accounts.
func NewCustomerInfoService(accounts AccountFinder) (*CustomerInfoService, error) {
	if accounts == nil {
		return nil, errors.New("usecase: account finder must not be nil")
	}
	return &CustomerInfoService{accounts: accounts, now: time.Now}, nil
}

func (s *CustomerInfoService) Lookup(ctx context.Context, email string) domain.CustomerInfo {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.EmptyCustomerInfo()
	}

	acct, found, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		observability.Logger(ctx).WarnContext(ctx, "customer info lookup failed", "err", err)
		return domain.EmptyCustomerInfo()
	}
	if !found {
		return domain.EmptyCustomerInfo()
	}

	info := domain.CustomerInfo{Metadata: map[string]any{
		"source":       customerInfoSource,
		"submitted_at": s.now().UTC().Format(time.RFC3339),
		"user_id":      acct.ID,
	}}
	if !acct.CreatedAt.IsZero() {
		info.Metadata["registered_at"] = acct.CreatedAt.UTC().Format(time.RFC3339)
	}
	if name := strings.TrimSpace(acct.Name); name != "" {
		info.Name = &name
	}
	return info
}

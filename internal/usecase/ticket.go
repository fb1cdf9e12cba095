package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"support-bridge/internal/domain"
	"support-bridge/internal/observability"
)

var emailPattern = regexp.MustCompile(`(?i)^[\w+\-.]+@[a-z\d\-]+(\.[a-z\d\-]+)*\.[a-z]+$`)

type AccountFinder interface {
	FindByEmail(ctx context.Context, email string) (domain.Account, bool, error)
}

type ConversationBridge interface {
	CreateConversationForUnauthenticatedUser(ctx context.Context, email, subject, message string) (domain.BridgeResult, error)
}

// TicketService opens helpdesk conversations for known accounts only.
type TicketService struct {
	accounts AccountFinder
	bridge   ConversationBridge
}

type TicketInput struct {
	Email   string
	Subject string
	Message string
}

// NewTicketService creates a TicketService with the given account finder and
// conversation bridge.
func NewTicketService(accounts AccountFinder, bridge ConversationBridge) (*TicketService, error) {
	if accounts == nil {
		return nil, errors.New("usecase: account finder must not be nil")
	}
	if bridge == nil {
		return nil, errors.New("usecase: conversation bridge must not be nil")
	}
	return &TicketService{accounts: accounts, bridge: bridge}, nil
}

// Create validates in, checks that the email belongs to an account and opens
// the conversation. It never panics and never returns upstream detail to the
// caller.
func (s *TicketService) Create(ctx context.Context, in TicketInput) (out domain.TicketOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = s.fail(ctx, newError(ErrorUnavailable, "panic", fmt.Errorf("recovered: %v", r)))
		}
	}()

	email := strings.TrimSpace(in.Email)
	subject := strings.TrimSpace(in.Subject)
	message := strings.TrimSpace(in.Message)
	if email == "" || subject == "" || message == "" {
		return s.fail(ctx, newError(ErrorInvalidInput, "missing_fields", nil))
	}
	if !emailPattern.MatchString(email) {
		return s.fail(ctx, newError(ErrorInvalidInput, "invalid_email", nil))
	}

	_, found, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return s.fail(ctx, newError(ErrorUnavailable, "account_lookup_error", err))
	}
	if !found {
		return s.fail(ctx, newError(ErrorUnknownAccount, "unknown_account", nil))
	}

	res, err := s.bridge.CreateConversationForUnauthenticatedUser(ctx, email, subject, message)
	if err != nil {
		return s.fail(ctx, newError(ErrorUnavailable, "bridge_error", err))
	}

	switch {
	case res.Succeeded() && res.Conversation.ConversationID != "":
		slug := res.Conversation.ConversationID
		observability.Logger(ctx).InfoContext(ctx, "support ticket created", "ticket_id", slug)
		return domain.TicketOutcome{Success: true, TicketID: slug, ConversationSlug: slug}
	case res.Partial():
		observability.Logger(ctx).ErrorContext(ctx, "support ticket partially created",
			"conversation_id", res.Conversation.ConversationID,
			"partial", true,
			"error", res.Err(),
		)
		return s.fail(ctx, newError(ErrorUpstream, "partial_failure", errors.New(res.Err())))
	default:
		return s.fail(ctx, newError(ErrorUpstream, "conversation_failed", errors.New(res.Err())))
	}
}

func (s *TicketService) fail(ctx context.Context, e *Error) domain.TicketOutcome {
	level := slog.LevelWarn
	if e.Code == ErrorUpstream || e.Code == ErrorUnavailable {
		level = slog.LevelError
	}
	attrs := []any{"code", string(e.Code), "reason", e.Reason}
	if e.Err != nil {
		attrs = append(attrs, "err", e.Err)
	}
	if status, ok := upstreamStatusCode(e.Err); ok {
		attrs = append(attrs, "upstream_status", status)
	}
	observability.Logger(ctx).Log(ctx, level, "support ticket rejected", attrs...)
	return domain.TicketOutcome{Success: false, Error: userMessage(e), Code: string(e.Code)}
}

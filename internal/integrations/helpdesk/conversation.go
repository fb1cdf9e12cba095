package helpdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"support-bridge/internal/domain"
	"support-bridge/internal/observability"
	"support-bridge/internal/signing"
)

const (
	errCreateSession      = "Failed to create widget session"
	errCreateConversation = "Failed to create conversation"
	errCreateMessage      = "Failed to create message"
)

type createConversationRequest struct {
	Subject         string  `json:"subject"`
	IsPrompt        bool    `json:"isPrompt"`
	CustomerInfoURL *string `json:"customerInfoUrl"`
}

type createConversationResponse struct {
	ConversationSlug string `json:"conversationSlug"`
}

type createMessageRequest struct {
	Content               string         `json:"content"`
	Attachments           []any          `json:"attachments"`
	Tools                 map[string]any `json:"tools"`
	CustomerSpecificTools bool           `json:"customerSpecificTools"`
	CustomerInfoURL       *string        `json:"customerInfoUrl"`
}

type createMessageResponse struct {
	MessageID flexibleID `json:"messageId"`
}

// flexibleID accepts identifiers encoded as JSON strings or numbers.
type flexibleID string

func (id *flexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("helpdesk: identifier is neither string nor number: %s", b)
	}
	*id = flexibleID(n.String())
	return nil
}

func (c *Client) widgetURL(path string) string {
	return c.cfg.WidgetHost + path
}

// CreateConversationForUnauthenticatedUser opens a conversation as an
// anonymous widget session for email and posts message into it. Both calls
// authenticate as the same session. The steps are not atomic: when the
// message call fails the conversation stays upstream and the result has
// StatusConversationOnly. A non-nil error means credentials could not be
// built; upstream failures are reported through the result only.
func (c *Client) CreateConversationForUnauthenticatedUser(ctx context.Context, email, subject, message string) (domain.BridgeResult, error) {
	ctx, span := tracer().Start(ctx, "helpdesk.CreateConversationForUnauthenticatedUser")
	defer span.End()

	session, err := c.sessions.NewSession(email)
	if err != nil {
		c.reporter.Report(ctx, observability.Failure{Stage: observability.StageSession, Message: subject, Err: err})
		return domain.BridgeResult{
			Status:       domain.StatusFailed,
			Conversation: domain.ConversationResult{Error: errCreateSession},
		}, fmt.Errorf("helpdesk: create widget session: %w", err)
	}

	token, err := c.sessions.Issue(session)
	if err != nil {
		c.reporter.Report(ctx, observability.Failure{Stage: observability.StageSession, Message: subject, Err: err})
		return domain.BridgeResult{
			Status:       domain.StatusFailed,
			Conversation: domain.ConversationResult{Error: errCreateSession},
		}, fmt.Errorf("helpdesk: issue session token: %w", err)
	}

	conv := c.createConversation(ctx, token, session.Email, subject)
	if !conv.Success {
		return domain.BridgeResult{Status: domain.StatusFailed, Conversation: conv}, nil
	}
	span.SetAttributes(attribute.String("helpdesk.conversation_id", conv.ConversationID))

	token, err = c.sessions.Issue(session)
	if err != nil {
		c.reporter.Report(ctx, observability.Failure{
			Stage:          observability.StageCreateMessage,
			ConversationID: conv.ConversationID,
			Message:        message,
			Partial:        true,
			Err:            err,
		})
		return domain.BridgeResult{
			Status:       domain.StatusConversationOnly,
			Conversation: conv,
			Message:      domain.MessageResult{Error: errCreateMessage},
		}, fmt.Errorf("helpdesk: issue session token: %w", err)
	}

	msg := c.createMessage(ctx, token, session.Email, conv.ConversationID, message)
	if !msg.Success {
		return domain.BridgeResult{Status: domain.StatusConversationOnly, Conversation: conv, Message: msg}, nil
	}
	return domain.BridgeResult{Status: domain.StatusComplete, Conversation: conv, Message: msg}, nil
}

func (c *Client) createConversation(ctx context.Context, token signing.SessionToken, email, subject string) domain.ConversationResult {
	ctx, span := tracer().Start(ctx, "helpdesk.create_conversation")
	defer span.End()

	if subject == "" {
		subject = defaultSubject
	}
	failure := observability.Failure{Stage: observability.StageCreateConversation, Message: subject}

	body, err := json.Marshal(createConversationRequest{
		Subject:         subject,
		IsPrompt:        false,
		CustomerInfoURL: c.customerInfoURL(email),
	})
	if err != nil {
		failure.Err = fmt.Errorf("helpdesk: marshal conversation request: %w", err)
		c.reporter.Report(ctx, failure)
		return domain.ConversationResult{Error: errCreateConversation}
	}

	raw, err := c.doJSONRequest(ctx, http.MethodPost, c.widgetURL("/api/chat/conversation"), token.AuthorizationHeader(), body)
	if err != nil {
		c.reporter.Report(ctx, annotate(failure, err))
		return domain.ConversationResult{Error: errCreateConversation}
	}

	var payload createConversationResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		failure.Err = fmt.Errorf("helpdesk: decode conversation response: %w", err)
		failure.Detail = string(raw)
		c.reporter.Report(ctx, failure)
		return domain.ConversationResult{Error: errCreateConversation}
	}
	if payload.ConversationSlug == "" {
		failure.Err = fmt.Errorf("helpdesk: conversation response has no conversationSlug")
		failure.Detail = string(raw)
		c.reporter.Report(ctx, failure)
		return domain.ConversationResult{Error: errCreateConversation}
	}
	return domain.ConversationResult{Success: true, ConversationID: payload.ConversationSlug}
}

func (c *Client) createMessage(ctx context.Context, token signing.SessionToken, email, conversationSlug, message string) domain.MessageResult {
	ctx, span := tracer().Start(ctx, "helpdesk.create_message")
	defer span.End()

	failure := observability.Failure{
		Stage:          observability.StageCreateMessage,
		ConversationID: conversationSlug,
		Message:        message,
		Partial:        true,
	}

	body, err := json.Marshal(createMessageRequest{
		Content:               message,
		Attachments:           []any{},
		Tools:                 map[string]any{},
		CustomerSpecificTools: false,
		CustomerInfoURL:       c.customerInfoURL(email),
	})
	if err != nil {
		failure.Err = fmt.Errorf("helpdesk: marshal message request: %w", err)
		c.reporter.Report(ctx, failure)
		return domain.MessageResult{Error: errCreateMessage}
	}

	endpoint := c.widgetURL("/api/chat/conversation/" + url.PathEscape(conversationSlug) + "/message")
	raw, err := c.doJSONRequest(ctx, http.MethodPost, endpoint, token.AuthorizationHeader(), body)
	if err != nil {
		c.reporter.Report(ctx, annotate(failure, err))
		return domain.MessageResult{Error: errCreateMessage}
	}

	// The message is stored once the helpdesk answers 2xx; an unreadable
	// body only costs us the message id.
	var payload createMessageResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		observability.Logger(ctx).WarnContext(ctx, "helpdesk: unreadable message response",
			"conversation_id", conversationSlug, "err", err)
	}
	return domain.MessageResult{Success: true, MessageID: string(payload.MessageID)}
}

package helpdesk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"support-bridge/internal/observability"
	"support-bridge/internal/signing"
)

type noteRequest struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type replyRequest struct {
	Message    string  `json:"message"`
	ResponseTo *string `json:"response_to"`
	Draft      bool    `json:"draft"`
	Timestamp  int64   `json:"timestamp"`
}

type statusRequest struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// conversationURL returns the mailbox API URL of a conversation, optionally
// followed by a sub-resource. The API expects trailing slashes.
func (c *Client) conversationURL(conversationID, resource string) string {
	u := c.cfg.APIBaseURL + "/api/v1/mailboxes/" + url.PathEscape(c.cfg.MailboxSlug) +
		"/conversations/" + url.PathEscape(conversationID) + "/"
	if resource != "" {
		u += resource + "/"
	}
	return u
}

// AddNote attaches an internal note visible only to the support team.
func (c *Client) AddNote(ctx context.Context, conversationID, message string) bool {
	return c.adminCall(ctx, http.MethodPost, c.conversationURL(conversationID, "notes"),
		noteRequest{Message: message, Timestamp: c.now().Unix()},
		observability.Failure{Stage: observability.StageAddNote, ConversationID: conversationID, Message: message})
}

// SendReply emails message to the customer, or saves it as a draft. An empty
// responseTo sends null.
func (c *Client) SendReply(ctx context.Context, conversationID, message string, draft bool, responseTo string) bool {
	var inReplyTo *string
	if responseTo != "" {
		inReplyTo = &responseTo
	}
	return c.adminCall(ctx, http.MethodPost, c.conversationURL(conversationID, "emails"),
		replyRequest{Message: message, ResponseTo: inReplyTo, Draft: draft, Timestamp: c.now().Unix()},
		observability.Failure{Stage: observability.StageSendReply, ConversationID: conversationID, Message: message})
}

// CloseConversation marks the conversation closed in the mailbox.
func (c *Client) CloseConversation(ctx context.Context, conversationID string) bool {
	return c.adminCall(ctx, http.MethodPatch, c.conversationURL(conversationID, ""),
		statusRequest{Status: "closed", Timestamp: c.now().Unix()},
		observability.Failure{Stage: observability.StageCloseConversation, ConversationID: conversationID})
}

// adminCall signs doc with the admin secret and sends the signed bytes
// verbatim. Failures are reported, never returned.
func (c *Client) adminCall(ctx context.Context, method, endpoint string, doc any, failure observability.Failure) bool {
	ctx, span := tracer().Start(ctx, "helpdesk."+failure.Stage,
		trace.WithAttributes(attribute.String("helpdesk.conversation_id", failure.ConversationID)))
	defer span.End()

	if strings.TrimSpace(failure.ConversationID) == "" {
		failure.Err = errors.New("helpdesk: conversation id is required")
		c.reporter.Report(ctx, failure)
		return false
	}

	signed, err := c.admin.Sign(signing.Payload{Document: doc})
	if err != nil {
		failure.Err = err
		c.reporter.Report(ctx, failure)
		return false
	}

	if _, err := c.doJSONRequest(ctx, method, endpoint, signed.AuthorizationHeader(), signed.Body); err != nil {
		c.reporter.Report(ctx, annotate(failure, err))
		return false
	}
	return true
}

package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"support-bridge/internal/domain"
	"support-bridge/internal/observability"
	"support-bridge/internal/usecase"
)

const (
	correlationHeader  = "X-Correlation-Id"
	ticketsPath        = "/support/tickets"
	newTicketPath      = "/support/tickets/new"
	customerInfoPath   = "/support/customer_info"
	confirmationSuffix = "/confirmation"
	msgInvalidBody     = "Invalid request body."
	confirmationFormat = "/support/tickets/%s/confirmation"

	newTicketTitle       = "Contact Support"
	confirmationTitle    = "Support Ticket Submitted"
	expectedResponseTime = "24 hours"
)

type route int

const (
	routeNone route = iota
	routeTickets
	routeNewTicket
	routeConfirmation
	routeCustomerInfo
)

type TicketCreator interface {
	Create(ctx context.Context, in usecase.TicketInput) domain.TicketOutcome
}

type CustomerInfoLookup interface {
	Lookup(ctx context.Context, email string) domain.CustomerInfo
}

// CaptchaVerifier checks the human-interaction challenge submitted with a
// ticket.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

type Handler struct {
	tickets   TicketCreator
	customers CustomerInfoLookup
	captcha   CaptchaVerifier
	siteKey   string
	enabled   bool
}

type Option func(*Handler)

// WithCaptcha gates ticket creation on v. Without it the gate is open.
func WithCaptcha(v CaptchaVerifier) Option {
	return func(h *Handler) {
		h.captcha = v
	}
}

// WithCaptchaSiteKey sets the public site key the ticket form renders the
// challenge with.
func WithCaptchaSiteKey(key string) Option {
	return func(h *Handler) {
		h.siteKey = key
	}
}

// WithPublicTickets toggles all support routes; disabled routes answer 404.
func WithPublicTickets(enabled bool) Option {
	return func(h *Handler) {
		h.enabled = enabled
	}
}

type ticketRequest struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	Captcha string `json:"g-recaptcha-response"`
}

type ticketResponse struct {
	Success      bool   `json:"success"`
	TicketID     string `json:"ticket_id,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type newTicketResponse struct {
	Title            string `json:"title"`
	CaptchaEnabled   bool   `json:"captcha_enabled"`
	RecaptchaSiteKey string `json:"recaptcha_site_key,omitempty"`
}

type confirmationResponse struct {
	TicketID             string `json:"ticket_id"`
	Title                string `json:"title"`
	ExpectedResponseTime string `json:"expected_response_time"`
}

type errorResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewHandler creates a Handler with public tickets enabled and no CAPTCHA
// gate unless opts say otherwise.
func NewHandler(tickets TicketCreator, customers CustomerInfoLookup, opts ...Option) (*Handler, error) {
	if tickets == nil {
		return nil, errors.New("handler: ticket creator must not be nil")
	}
	if customers == nil {
		return nil, errors.New("handler: customer info lookup must not be nil")
	}
	h := &Handler{tickets: tickets, customers: customers, enabled: true}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)
	log := observability.Logger(ctx)

	path := strings.TrimRight(req.Path, "/")
	var resp events.APIGatewayProxyResponse
	rt, ticketID := matchRoute(path)
	switch {
	case rt == routeNone, !h.enabled:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	case rt == routeTickets && req.HTTPMethod == http.MethodPost:
		resp = h.createTicket(ctx, req)
	case rt == routeNewTicket && req.HTTPMethod == http.MethodGet:
		resp = jsonResponse(http.StatusOK, newTicketResponse{
			Title:            newTicketTitle,
			CaptchaEnabled:   h.captcha != nil,
			RecaptchaSiteKey: h.siteKey,
		})
	case rt == routeConfirmation && req.HTTPMethod == http.MethodGet:
		resp = jsonResponse(http.StatusOK, confirmationResponse{
			TicketID:             ticketID,
			Title:                confirmationTitle,
			ExpectedResponseTime: expectedResponseTime,
		})
	case rt == routeCustomerInfo && req.HTTPMethod == http.MethodGet:
		resp = h.customerInfo(ctx, req)
	default:
		resp = jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	}

	resp.Headers[correlationHeader] = correlationID
	log.InfoContext(ctx, "request handled",
		slog.String("method", req.HTTPMethod),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)
	return resp, nil
}

func (h *Handler) createTicket(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	in, err := parseTicketRequest(req)
	if err != nil {
		observability.Logger(ctx).WarnContext(ctx, "invalid ticket request body", "err", err)
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), ErrorMessage: msgInvalidBody})
	}

	if h.captcha != nil {
		ok, err := h.captcha.Verify(ctx, in.Captcha, req.RequestContext.Identity.SourceIP)
		if err != nil {
			observability.Logger(ctx).ErrorContext(ctx, "captcha verification failed", "err", err)
		}
		if !ok {
			return jsonResponse(http.StatusOK, ticketResponse{ErrorMessage: usecase.MsgCaptchaFailed})
		}
	}

	out := h.tickets.Create(ctx, usecase.TicketInput{Email: in.Email, Subject: in.Subject, Message: in.Message})
	if !out.Success {
		return jsonResponse(http.StatusOK, ticketResponse{ErrorMessage: out.Error})
	}
	return jsonResponse(http.StatusOK, ticketResponse{
		Success:     true,
		TicketID:    out.TicketID,
		RedirectURL: fmt.Sprintf(confirmationFormat, url.PathEscape(out.TicketID)),
	})
}

func (h *Handler) customerInfo(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	email := req.QueryStringParameters["email"]
	if email == "" {
		if vals := req.MultiValueQueryStringParameters["email"]; len(vals) > 0 {
			email = vals[0]
		}
	}
	return jsonResponse(http.StatusOK, h.customers.Lookup(ctx, email))
}

// matchRoute resolves a trimmed path. The confirmation route also returns
// the ticket id segment.
func matchRoute(path string) (route, string) {
	switch path {
	case ticketsPath:
		return routeTickets, ""
	case newTicketPath:
		return routeNewTicket, ""
	case customerInfoPath:
		return routeCustomerInfo, ""
	}
	id, ok := strings.CutPrefix(path, ticketsPath+"/")
	if !ok {
		return routeNone, ""
	}
	id, ok = strings.CutSuffix(id, confirmationSuffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return routeNone, ""
	}
	return routeConfirmation, id
}

// parseTicketRequest accepts JSON and form-encoded bodies.
func parseTicketRequest(req events.APIGatewayProxyRequest) (ticketRequest, error) {
	body := req.Body
	if req.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return ticketRequest{}, err
		}
		body = string(raw)
	}

	mediaType, _, _ := mime.ParseMediaType(header(req.Headers, "Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(body)
		if err != nil {
			return ticketRequest{}, err
		}
		return ticketRequest{
			Email:   form.Get("email"),
			Subject: form.Get("subject"),
			Message: form.Get("message"),
			Captcha: form.Get("g-recaptcha-response"),
		}, nil
	}

	var in ticketRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return ticketRequest{}, err
	}
	return in, nil
}

func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"success":false,"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(buf),
	}
}

var newUUID = func() string {
	return uuid.NewString()
}

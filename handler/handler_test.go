package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"support-bridge/internal/domain"
	"support-bridge/internal/usecase"
)

type stubTickets struct {
	out   domain.TicketOutcome
	in    usecase.TicketInput
	calls int
}

func (s *stubTickets) Create(_ context.Context, in usecase.TicketInput) domain.TicketOutcome {
	s.in = in
	s.calls++
	return s.out
}

type stubCustomers struct {
	info  domain.CustomerInfo
	email string
}

func (s *stubCustomers) Lookup(_ context.Context, email string) domain.CustomerInfo {
	s.email = email
	return s.info
}

type stubCaptcha struct {
	ok       bool
	err      error
	token    string
	remoteIP string
}

func (s *stubCaptcha) Verify(_ context.Context, token, remoteIP string) (bool, error) {
	s.token = token
	s.remoteIP = remoteIP
	return s.ok, s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func mustHandler(t *testing.T, tickets *stubTickets, customers *stubCustomers, opts ...Option) *Handler {
	t.Helper()
	h, err := NewHandler(tickets, customers, opts...)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubCustomers{})
	require.Error(t, err)
	_, err = NewHandler(&stubTickets{}, nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// POST /support/tickets
// ---------------------------------------------------------------------------

func TestHandle_CreateTicket_HappyPath(t *testing.T) {
	tickets := &stubTickets{out: domain.TicketOutcome{Success: true, TicketID: "abc123", ConversationSlug: "abc123"}}
	h := mustHandler(t, tickets, &stubCustomers{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/support/tickets",
		`{"email":"known@x.com","subject":"Help","message":"I can't log in"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.TicketInput{Email: "known@x.com", Subject: "Help", Message: "I can't log in"}, tickets.in)

	out := parseBody[ticketResponse](t, resp.Body)
	require.Equal(t, ticketResponse{Success: true, TicketID: "abc123", RedirectURL: "/support/tickets/abc123/confirmation"}, out)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_CreateTicket_FormEncoded(t *testing.T) {
	tickets := &stubTickets{out: domain.TicketOutcome{Success: true, TicketID: "abc123"}}
	h := mustHandler(t, tickets, &stubCustomers{})

	event := makeEvent(http.MethodPost, "/support/tickets/",
		"email=known%40x.com&subject=Help&message=I+can%27t+log+in")
	event.Headers = map[string]string{"content-type": "application/x-www-form-urlencoded; charset=utf-8"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.TicketInput{Email: "known@x.com", Subject: "Help", Message: "I can't log in"}, tickets.in)
}

func TestHandle_CreateTicket_Base64Body(t *testing.T) {
	tickets := &stubTickets{out: domain.TicketOutcome{Success: true, TicketID: "abc123"}}
	h := mustHandler(t, tickets, &stubCustomers{})

	event := makeEvent(http.MethodPost, "/support/tickets",
		base64.StdEncoding.EncodeToString([]byte(`{"email":"known@x.com","subject":"Help","message":"msg"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "known@x.com", tickets.in.Email)
}

func TestHandle_CreateTicket_FailureMessage(t *testing.T) {
	tickets := &stubTickets{out: domain.TicketOutcome{Error: usecase.MsgUnknownAccount, Code: string(usecase.ErrorUnknownAccount)}}
	h := mustHandler(t, tickets, &stubCustomers{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/support/tickets",
		`{"email":"unknown@x.com","subject":"Help","message":"msg"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"success":false,"error_message":"Please check your email address and try again."}`, resp.Body)
}

func TestHandle_CreateTicket_InvalidBody(t *testing.T) {
	tickets := &stubTickets{}
	h := mustHandler(t, tickets, &stubCustomers{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/support/tickets", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, tickets.calls)

	out := parseBody[errorResponse](t, resp.Body)
	require.False(t, out.Success)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.NotEmpty(t, out.ErrorMessage)
}

// ---------------------------------------------------------------------------
// CAPTCHA gate
// ---------------------------------------------------------------------------

func TestHandle_CaptchaRejected(t *testing.T) {
	cases := map[string]*stubCaptcha{
		"rejected": {ok: false},
		"error":    {err: errors.New("timeout")},
	}
	for name, captcha := range cases {
		t.Run(name, func(t *testing.T) {
			tickets := &stubTickets{}
			h := mustHandler(t, tickets, &stubCustomers{}, WithCaptcha(captcha))

			event := makeEvent(http.MethodPost, "/support/tickets",
				`{"email":"known@x.com","subject":"Help","message":"msg","g-recaptcha-response":"tok"}`)
			event.RequestContext.Identity.SourceIP = "203.0.113.7"
			resp, err := h.Handle(context.Background(), event)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Zero(t, tickets.calls)
			require.Equal(t, "tok", captcha.token)
			require.Equal(t, "203.0.113.7", captcha.remoteIP)

			out := parseBody[ticketResponse](t, resp.Body)
			require.Equal(t, usecase.MsgCaptchaFailed, out.ErrorMessage)
		})
	}
}

func TestHandle_CaptchaPassed(t *testing.T) {
	tickets := &stubTickets{out: domain.TicketOutcome{Success: true, TicketID: "abc123"}}
	h := mustHandler(t, tickets, &stubCustomers{}, WithCaptcha(&stubCaptcha{ok: true}))

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/support/tickets",
		`{"email":"known@x.com","subject":"Help","message":"msg","g-recaptcha-response":"tok"}`))
	require.NoError(t, err)
	require.Equal(t, 1, tickets.calls)
	require.True(t, parseBody[ticketResponse](t, resp.Body).Success)
}

// ---------------------------------------------------------------------------
// GET /support/customer_info
// ---------------------------------------------------------------------------

func TestHandle_CustomerInfo(t *testing.T) {
	name := "Known User"
	customers := &stubCustomers{info: domain.CustomerInfo{Name: &name, Metadata: map[string]any{"source": "existing_user_support_ticket"}}}
	h := mustHandler(t, &stubTickets{}, customers)

	event := makeEvent(http.MethodGet, "/support/customer_info", "")
	event.QueryStringParameters = map[string]string{"email": "known@x.com"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "known@x.com", customers.email)
	require.JSONEq(t, `{"name":"Known User","metadata":{"source":"existing_user_support_ticket"}}`, resp.Body)
}

func TestHandle_CustomerInfo_MissingEmailIsUniform(t *testing.T) {
	customers := &stubCustomers{info: domain.EmptyCustomerInfo()}
	h := mustHandler(t, &stubTickets{}, customers)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/support/customer_info", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"name":null,"metadata":{}}`, resp.Body)
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestHandle_Routing(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		path    string
		enabled bool
		status  int
	}{
		{name: "unknown path", method: http.MethodGet, path: "/ask", enabled: true, status: http.StatusNotFound},
		{name: "wrong method tickets", method: http.MethodGet, path: "/support/tickets", enabled: true, status: http.StatusMethodNotAllowed},
		{name: "wrong method customer info", method: http.MethodPost, path: "/support/customer_info", enabled: true, status: http.StatusMethodNotAllowed},
		{name: "disabled tickets", method: http.MethodPost, path: "/support/tickets", enabled: false, status: http.StatusNotFound},
		{name: "disabled customer info", method: http.MethodGet, path: "/support/customer_info", enabled: false, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tickets := &stubTickets{}
			h := mustHandler(t, tickets, &stubCustomers{}, WithPublicTickets(tc.enabled))

			resp, err := h.Handle(context.Background(), makeEvent(tc.method, tc.path, `{}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Zero(t, tickets.calls)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := mustHandler(t, &stubTickets{}, &stubCustomers{info: domain.EmptyCustomerInfo()})

	event := makeEvent(http.MethodGet, "/support/customer_info", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_GeneratesCorrelationID(t *testing.T) {
	prev := newUUID
	newUUID = func() string { return "generated-id" }
	t.Cleanup(func() { newUUID = prev })

	h := mustHandler(t, &stubTickets{}, &stubCustomers{info: domain.EmptyCustomerInfo()})
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/support/customer_info", ""))
	require.NoError(t, err)
	require.Equal(t, "generated-id", resp.Headers["X-Correlation-Id"])
}

// ---------------------------------------------------------------------------
// GET /support/tickets/new and /support/tickets/{id}/confirmation
// ---------------------------------------------------------------------------

func TestHandle_NewTicketForm(t *testing.T) {
	h := mustHandler(t, &stubTickets{}, &stubCustomers{},
		WithCaptcha(&stubCaptcha{ok: true}), WithCaptchaSiteKey("site-key-1"))

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/support/tickets/new", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"title":"Contact Support","captcha_enabled":true,"recaptcha_site_key":"site-key-1"}`, resp.Body)
}

func TestHandle_NewTicketForm_WithoutCaptcha(t *testing.T) {
	h := mustHandler(t, &stubTickets{}, &stubCustomers{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/support/tickets/new", ""))
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"Contact Support","captcha_enabled":false}`, resp.Body)
}

func TestHandle_RedirectURLResolvesToConfirmation(t *testing.T) {
	tickets := &stubTickets{out: domain.TicketOutcome{Success: true, TicketID: "abc123", ConversationSlug: "abc123"}}
	h := mustHandler(t, tickets, &stubCustomers{})

	created, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/support/tickets",
		`{"email":"known@x.com","subject":"Help","message":"msg"}`))
	require.NoError(t, err)
	redirect := parseBody[ticketResponse](t, created.Body).RedirectURL
	require.Equal(t, "/support/tickets/abc123/confirmation", redirect)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, redirect, ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ticket_id":"abc123","title":"Support Ticket Submitted","expected_response_time":"24 hours"}`, resp.Body)
}

func TestHandle_ConfirmationRouting(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		path    string
		enabled bool
		status  int
	}{
		{name: "trailing slash", method: http.MethodGet, path: "/support/tickets/abc123/confirmation/", enabled: true, status: http.StatusOK},
		{name: "empty id", method: http.MethodGet, path: "/support/tickets//confirmation", enabled: true, status: http.StatusNotFound},
		{name: "nested id", method: http.MethodGet, path: "/support/tickets/a/b/confirmation", enabled: true, status: http.StatusNotFound},
		{name: "no suffix", method: http.MethodGet, path: "/support/tickets/abc123", enabled: true, status: http.StatusNotFound},
		{name: "wrong method", method: http.MethodPost, path: "/support/tickets/abc123/confirmation", enabled: true, status: http.StatusMethodNotAllowed},
		{name: "wrong method new", method: http.MethodPost, path: "/support/tickets/new", enabled: true, status: http.StatusMethodNotAllowed},
		{name: "disabled confirmation", method: http.MethodGet, path: "/support/tickets/abc123/confirmation", enabled: false, status: http.StatusNotFound},
		{name: "disabled new", method: http.MethodGet, path: "/support/tickets/new", enabled: false, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := mustHandler(t, &stubTickets{}, &stubCustomers{}, WithPublicTickets(tc.enabled))
			resp, err := h.Handle(context.Background(), makeEvent(tc.method, tc.path, ""))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

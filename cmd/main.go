package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"support-bridge/handler"
	appconfig "support-bridge/internal/config"
	"support-bridge/internal/integrations/helpdesk"
	"support-bridge/internal/integrations/paramstore"
	"support-bridge/internal/integrations/recaptcha"
	"support-bridge/internal/observability"
	"support-bridge/internal/repository"
	"support-bridge/internal/signing"
	"support-bridge/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// ---- Configuration (read only here) ----
	accountsTable := mustEnv("ACCOUNTS_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	helpdeskCfg := helpdesk.Config{
		APIBaseURL:      os.Getenv("HELPDESK_API_BASE_URL"),
		WidgetHost:      mustEnv("HELPDESK_WIDGET_HOST"),
		MailboxSlug:     mustEnv("HELPDESK_MAILBOX_SLUG"),
		CustomerInfoURL: mustEnv("CUSTOMER_INFO_URL"),
	}
	sessionTitle := os.Getenv("SUPPORT_SESSION_TITLE")
	publicTickets := envBool("PUBLIC_SUPPORT_TICKETS_ENABLED", false)
	httpTimeout := time.Duration(envInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second
	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	recaptchaSiteKey := os.Getenv("RECAPTCHA_SITE_KEY")

	// ---- Telemetry ----
	// Must be installed before the reporter below reads the global meter provider.
	flush := func(context.Context) {}
	if otlpEndpoint != "" {
		tp, err := observability.NewTracerProvider(ctx, "support-bridge", otlpEndpoint)
		if err != nil {
			slog.Error("failed to create tracer provider", "err", err)
			os.Exit(1)
		}
		mp, err := observability.NewMeterProvider(ctx, "support-bridge", otlpEndpoint)
		if err != nil {
			slog.Error("failed to create meter provider", "err", err)
			os.Exit(1)
		}
		flush = func(ctx context.Context) {
			if err := tp.ForceFlush(ctx); err != nil {
				slog.Warn("failed to flush spans", "err", err)
			}
			if err := mp.ForceFlush(ctx); err != nil {
				slog.Warn("failed to flush metrics", "err", err)
			}
		}
	} else {
		slog.Warn("OTEL_EXPORTER_OTLP_ENDPOINT not set; spans and failure metrics are not exported")
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Secrets ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	secrets, err := appconfig.LoadSecrets(ctx, ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to load secrets", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	accounts, err := repository.New(awsdynamodb.NewFromConfig(cfg), accountsTable)
	if err != nil {
		slog.Error("failed to create accounts client", "err", err)
		os.Exit(1)
	}

	adminSigner, err := signing.NewAdminSigner([]byte(secrets.AdminSecret))
	if err != nil {
		slog.Error("failed to create admin signer", "err", err)
		os.Exit(1)
	}
	sessions, err := signing.NewSessionIssuer([]byte(secrets.WidgetSecret), signing.WithSessionTitle(sessionTitle))
	if err != nil {
		slog.Error("failed to create session issuer", "err", err)
		os.Exit(1)
	}

	reporter, err := observability.NewReporter(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create failure reporter", "err", err)
		os.Exit(1)
	}

	bridge, err := helpdesk.NewClient(helpdeskCfg, adminSigner, sessions, reporter,
		helpdesk.WithHTTPClient(&http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	)
	if err != nil {
		slog.Error("failed to create helpdesk client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	ticketService, err := usecase.NewTicketService(accounts, bridge)
	if err != nil {
		slog.Error("failed to create ticket service", "err", err)
		os.Exit(1)
	}
	customerInfoService, err := usecase.NewCustomerInfoService(accounts)
	if err != nil {
		slog.Error("failed to create customer info service", "err", err)
		os.Exit(1)
	}

	opts := []handler.Option{
		handler.WithPublicTickets(publicTickets),
		handler.WithCaptchaSiteKey(recaptchaSiteKey),
	}
	if secrets.RecaptchaSecret != "" {
		verifier, err := recaptcha.New(secrets.RecaptchaSecret)
		if err != nil {
			slog.Error("failed to create recaptcha client", "err", err)
			os.Exit(1)
		}
		opts = append(opts, handler.WithCaptcha(verifier))
	} else {
		slog.Warn("recaptcha secret not configured; captcha gate disabled")
	}

	h, err := handler.NewHandler(ticketService, customerInfoService, opts...)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		defer flush(ctx)
		return h.Handle(ctx, req)
	})
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	adminSecretParam     = "/helpdesk/admin_secret"
	widgetSecretParam    = "/helpdesk/widget_secret"
	recaptchaSecretParam = "/recaptcha/secret"
)

// ParamsGetter is satisfied by *paramstore.Client.
type ParamsGetter interface {
	GetParameters(ctx context.Context, names []string) (map[string]string, error)
}

// Secrets holds the credentials injected into the signers and the CAPTCHA
// verifier. AdminSecret signs privileged calls; WidgetSecret signs end-user
// session tokens. They must differ so that neither can forge the other's
// requests. An empty RecaptchaSecret disables the CAPTCHA gate.
type Secrets struct {
	AdminSecret     string
	WidgetSecret    string
	RecaptchaSecret string
}

func (s Secrets) Validate() error {
	if s.AdminSecret == "" {
		return errors.New("config: admin secret is empty")
	}
	if s.WidgetSecret == "" {
		return errors.New("config: widget secret is empty")
	}
	if s.AdminSecret == s.WidgetSecret {
		return errors.New("config: admin and widget secrets must differ")
	}
	return nil
}

// LoadSecrets reads the secrets under prefix from the parameter store.
func LoadSecrets(ctx context.Context, params ParamsGetter, prefix string) (Secrets, error) {
	if params == nil {
		return Secrets{}, errors.New("config: params getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return Secrets{}, errors.New("config: parameter prefix must not be empty")
	}

	adminName := prefix + adminSecretParam
	widgetName := prefix + widgetSecretParam
	recaptchaName := prefix + recaptchaSecretParam

	vals, err := params.GetParameters(ctx, []string{adminName, widgetName, recaptchaName})
	if err != nil {
		return Secrets{}, fmt.Errorf("config: load secrets: %w", err)
	}
	s := Secrets{
		AdminSecret:     strings.TrimSpace(vals[adminName]),
		WidgetSecret:    strings.TrimSpace(vals[widgetName]),
		RecaptchaSecret: strings.TrimSpace(vals[recaptchaName]),
	}
	if err := s.Validate(); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

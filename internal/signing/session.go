package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"support-bridge/internal/domain"
)

const (
	defaultSessionTitle = "Support"
	redacted            = "[REDACTED]"
)

// SessionToken is a bearer credential scoped to a single widget session.
// It never prints its value; use AuthorizationHeader to transmit it.
type SessionToken struct {
	raw string
}

func (t SessionToken) AuthorizationHeader() string {
	return "Bearer " + t.raw
}

func (t SessionToken) IsZero() bool {
	return t.raw == ""
}

func (t SessionToken) String() string {
	return redacted
}

func (t SessionToken) GoString() string {
	return redacted
}

func (t SessionToken) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// WidgetClaims is the fixed claim set of a widget session token. It carries
// no exp claim; freshness is checked by the receiver against the session
// timestamp.
type WidgetClaims struct {
	Email              string `json:"email"`
	ShowWidget         bool   `json:"showWidget"`
	IsWhitelabel       bool   `json:"isWhitelabel"`
	Title              string `json:"title"`
	IsAnonymous        bool   `json:"isAnonymous"`
	AnonymousSessionID string `json:"anonymousSessionId"`
	jwt.RegisteredClaims
}

// SessionIssuer builds widget sessions and signs HS256 tokens for them with
// the widget secret.
type SessionIssuer struct {
	secret []byte
	title  string
	now    func() time.Time
	newID  func() (uuid.UUID, error)
}

type SessionOption func(*SessionIssuer)

func WithSessionTitle(title string) SessionOption {
	return func(i *SessionIssuer) {
		if title != "" {
			i.title = title
		}
	}
}

func WithClock(now func() time.Time) SessionOption {
	return func(i *SessionIssuer) {
		i.now = now
	}
}

func WithSessionIDSource(newID func() (uuid.UUID, error)) SessionOption {
	return func(i *SessionIssuer) {
		i.newID = newID
	}
}

// NewSessionIssuer creates a SessionIssuer keyed with a copy of the widget
// secret. The secret must differ from the administrative one.
func NewSessionIssuer(secret []byte, opts ...SessionOption) (*SessionIssuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session issuer: %w", ErrMissingSecret)
	}
	i := &SessionIssuer{
		secret: append([]byte(nil), secret...),
		title:  defaultSessionTitle,
		now:    time.Now,
		newID:  uuid.NewRandom,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// NewSession returns an anonymous session for email with a fresh session id
// and the current timestamp.
func (i *SessionIssuer) NewSession(email string) (domain.WidgetSession, error) {
	id, err := i.newID()
	if err != nil {
		return domain.WidgetSession{}, fmt.Errorf("signing: generate anonymous session id: %w", err)
	}
	ts := i.now().UnixMilli()
	return domain.WidgetSession{
		Email:              email,
		EmailHash:          i.EmailHash(email, ts),
		TimestampMillis:    ts,
		AnonymousSessionID: id.String(),
		IsAnonymous:        true,
		ShowWidget:         true,
		IsWhitelabel:       false,
		Title:              i.title,
	}, nil
}

// EmailHash authenticates "this email at this instant" as
// hex(HMAC-SHA256(widget secret, email + ":" + timestampMillis)).
func (i *SessionIssuer) EmailHash(email string, timestampMillis int64) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(email + ":" + strconv.FormatInt(timestampMillis, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue signs the fixed claim set of session as an HS256 token. Issuing the
// same session twice yields the same token.
func (i *SessionIssuer) Issue(session domain.WidgetSession) (SessionToken, error) {
	if session.AnonymousSessionID == "" {
		return SessionToken{}, fmt.Errorf("signing: session has no anonymous session id")
	}
	claims := WidgetClaims{
		Email:              session.Email,
		ShowWidget:         session.ShowWidget,
		IsWhitelabel:       session.IsWhitelabel,
		Title:              session.Title,
		IsAnonymous:        session.IsAnonymous,
		AnonymousSessionID: session.AnonymousSessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return SessionToken{}, fmt.Errorf("signing: sign session token: %w", err)
	}
	return SessionToken{raw: signed}, nil
}

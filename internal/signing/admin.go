package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
)

var (
	// ErrAmbiguousPayload is returned when a payload carries both query
	// parameters and a JSON document, or neither.
	ErrAmbiguousPayload = errors.New("signing: exactly one of params or document must be provided")
	ErrMissingSecret    = errors.New("signing: secret must not be empty")
)

// Payload is the body of an administrative call. Exactly one of Params
// (query-string form) or Document (JSON form) must be set.
type Payload struct {
	Params   url.Values
	Document any
}

// SignedPayload pairs the exact bytes to transmit with their HMAC digest.
// Body must be sent verbatim; re-serializing it invalidates Digest.
type SignedPayload struct {
	Body   []byte
	Digest []byte
}

// AuthorizationHeader returns the header value carrying the digest.
func (s SignedPayload) AuthorizationHeader() string {
	return "Bearer " + base64.StdEncoding.EncodeToString(s.Digest)
}

// AdminSigner computes HMAC-SHA256 credentials for privileged
// server-to-server calls.
type AdminSigner struct {
	secret []byte
}

// NewAdminSigner creates an AdminSigner keyed with a copy of secret.
func NewAdminSigner(secret []byte) (*AdminSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("admin signer: %w", ErrMissingSecret)
	}
	return &AdminSigner{secret: append([]byte(nil), secret...)}, nil
}

// Sign canonicalizes p and returns the serialized body with its digest.
func (s *AdminSigner) Sign(p Payload) (SignedPayload, error) {
	body, err := canonicalize(p)
	if err != nil {
		return SignedPayload{}, err
	}
	return SignedPayload{Body: body, Digest: s.digest(body)}, nil
}

func (s *AdminSigner) digest(body []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// canonicalize serializes params with sorted keys (url.Values.Encode) and
// documents as compact JSON. Struct fields keep declaration order and map
// keys are sorted, so equal payloads always yield equal bytes.
func canonicalize(p Payload) ([]byte, error) {
	hasParams := len(p.Params) > 0
	hasDocument := !isNil(p.Document)
	if hasParams == hasDocument {
		return nil, ErrAmbiguousPayload
	}
	if hasParams {
		return []byte(p.Params.Encode()), nil
	}
	body, err := json.Marshal(p.Document)
	if err != nil {
		return nil, fmt.Errorf("signing: marshal document: %w", err)
	}
	return body, nil
}

// isNil reports whether v is nil or a nil pointer, map, slice or interface,
// all of which would marshal to the literal null.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

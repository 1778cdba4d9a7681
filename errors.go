package social

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the provider agnostic error taxonomy.
type ErrorKind string

const (
	KindConfig              ErrorKind = "config_error"
	KindAuthFailed          ErrorKind = "auth_failed"
	KindNoBusinessAccount   ErrorKind = "no_business_account"
	KindNotConnected        ErrorKind = "not_connected"
	KindTokenExpired        ErrorKind = "token_expired"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindValidation          ErrorKind = "validation_error"
	KindPublishRejected     ErrorKind = "publish_rejected"
)

// Retryable reports whether callers may retry without user action.
func (k ErrorKind) Retryable() bool {
	return k == KindProviderUnavailable
}

// RequiresAuth reports whether the user must reconnect the provider.
func (k ErrorKind) RequiresAuth() bool {
	return k == KindNotConnected || k == KindTokenExpired
}

// ErrConfig is returned when app credentials are missing or rejected.
var ErrConfig = goerrors.New("social provider is not available", goerrors.CategoryInternal).
	WithTextCode(string(KindConfig)).
	WithCode(goerrors.CodeInternal)

// ErrAuthFailed is returned when the OAuth handshake fails.
var ErrAuthFailed = goerrors.New("social authorization failed", goerrors.CategoryAuth).
	WithTextCode(string(KindAuthFailed)).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoBusinessAccount is returned when no Instagram business account is linked.
var ErrNoBusinessAccount = goerrors.New("no instagram business account linked", goerrors.CategoryValidation).
	WithTextCode(string(KindNoBusinessAccount)).
	WithCode(goerrors.CodeBadRequest)

// ErrNotConnected is returned when publishing without a stored connection.
var ErrNotConnected = goerrors.New("social account not connected", goerrors.CategoryNotFound).
	WithTextCode(string(KindNotConnected)).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when the stored credentials are no longer valid.
var ErrTokenExpired = goerrors.New("social account token expired", goerrors.CategoryAuth).
	WithTextCode(string(KindTokenExpired)).
	WithCode(goerrors.CodeUnauthorized)

// ErrProviderUnavailable is returned on provider timeouts and 5xx responses.
var ErrProviderUnavailable = goerrors.New("social provider unavailable", goerrors.CategoryOperation).
	WithTextCode(string(KindProviderUnavailable)).
	WithCode(http.StatusServiceUnavailable)

// ErrValidation is returned for malformed publish requests.
var ErrValidation = goerrors.New("invalid publish request", goerrors.CategoryValidation).
	WithTextCode(string(KindValidation)).
	WithCode(goerrors.CodeBadRequest)

// ErrPublishRejected is returned when the provider refuses a specific post.
var ErrPublishRejected = goerrors.New("post rejected by provider", goerrors.CategoryBadInput).
	WithTextCode(string(KindPublishRejected)).
	WithCode(http.StatusUnprocessableEntity)

var sentinels = map[ErrorKind]*goerrors.Error{
	KindConfig:              ErrConfig,
	KindAuthFailed:          ErrAuthFailed,
	KindNoBusinessAccount:   ErrNoBusinessAccount,
	KindNotConnected:        ErrNotConnected,
	KindTokenExpired:        ErrTokenExpired,
	KindProviderUnavailable: ErrProviderUnavailable,
	KindValidation:          ErrValidation,
	KindPublishRejected:     ErrPublishRejected,
}

// PublishError is the structured error every adapter and service returns.
// The original provider failure is kept in Err and ProviderCode.
type PublishError struct {
	Kind         ErrorKind `json:"kind"`
	Provider     Provider  `json:"provider,omitempty"`
	ProviderCode string    `json:"provider_code,omitempty"`
	Message      string    `json:"message"`
	Retryable    bool      `json:"retryable"`
	Err          error     `json:"-"`
}

// NewPublishError builds a PublishError with the kind's default retry policy.
func NewPublishError(kind ErrorKind, provider Provider, message string) *PublishError {
	return &PublishError{
		Kind:      kind,
		Provider:  provider,
		Message:   message,
		Retryable: kind.Retryable(),
	}
}

func (e *PublishError) Error() string {
	if e == nil {
		return "publish error"
	}
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = fmt.Sprintf("%s %s", e.Provider, e.Kind)
	}
	if e.Message == "" {
		return prefix
	}
	return prefix + ": " + e.Message
}

func (e *PublishError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match a PublishError against the kind sentinels.
func (e *PublishError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*PublishError); ok {
		return t.Kind == e.Kind
	}
	if s, ok := sentinels[e.Kind]; ok {
		return target == error(s)
	}
	return false
}

// WithCause attaches the underlying error.
func (e *PublishError) WithCause(err error) *PublishError {
	e.Err = err
	return e
}

// WithProviderCode records the provider's own error code.
func (e *PublishError) WithProviderCode(code string) *PublishError {
	e.ProviderCode = code
	return e
}

// RichError converts the error into the go-errors representation used by
// the HTTP layer.
func (e *PublishError) RichError() *goerrors.Error {
	base, ok := sentinels[e.Kind]
	if !ok {
		base = ErrConfig
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if e.Message != "" {
		clone.Message = e.Message
	}
	if e.Err != nil {
		clone.Source = e.Err
	}

	meta := map[string]any{
		"kind":      string(e.Kind),
		"retryable": e.Retryable,
	}
	if e.Provider != "" {
		meta["provider"] = string(e.Provider)
	}
	if e.ProviderCode != "" {
		meta["provider_code"] = e.ProviderCode
	}
	var perr *ProviderError
	if errors.As(e.Err, &perr) {
		for k, v := range perr.Metadata() {
			if _, exists := meta[k]; !exists {
				meta[k] = v
			}
		}
	}
	return clone.WithMetadata(meta)
}

// AsPublishError extracts a PublishError from err, classifying anything
// else as a provider failure.
func AsPublishError(err error) *PublishError {
	if err == nil {
		return nil
	}
	var perr *PublishError
	if errors.As(err, &perr) {
		return perr
	}
	var prov *ProviderError
	if errors.As(err, &prov) {
		return ClassifyProviderError(Provider(prov.Provider), PhasePublish, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewPublishError(KindProviderUnavailable, "", "provider request timed out").WithCause(err)
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		for kind, sentinel := range sentinels {
			if rich.TextCode == sentinel.TextCode {
				return NewPublishError(kind, "", rich.Message).WithCause(err)
			}
		}
	}
	return NewPublishError(KindProviderUnavailable, "", err.Error()).WithCause(err)
}

// KindOf returns the taxonomy kind of err, or empty for nil.
func KindOf(err error) ErrorKind {
	if perr := AsPublishError(err); perr != nil {
		return perr.Kind
	}
	return ""
}

// IsKind reports whether err belongs to kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

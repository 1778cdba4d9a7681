package social

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
)

// ProviderError captures normalized provider response details.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	// TokenInvalid is set by adapters that recognize the provider's own
	// "token revoked or invalid" signal independent of the HTTP status.
	TokenInvalid bool
	// RateLimited is set when the provider signals throttling in the body.
	RateLimited bool
	Err         error
	Raw         map[string]any
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	} else if e.Operation != "" {
		scope = e.Operation
	}

	if e.Description != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}

	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	if len(e.Raw) > 0 {
		meta["raw"] = e.Raw
	}

	return meta
}

// Phase tells the classifier which side of the lifecycle failed; a 4xx
// during auth is an auth failure while during publish it is a rejection.
type Phase string

const (
	PhaseAuth    Phase = "auth"
	PhasePublish Phase = "publish"
	PhaseRefresh Phase = "refresh"
	PhaseProfile Phase = "profile"
)

// ClassifyProviderError maps a raw adapter failure into the taxonomy,
// preserving the original error for diagnostics.
func ClassifyProviderError(provider Provider, phase Phase, err error) *PublishError {
	if err == nil {
		return nil
	}

	var existing *PublishError
	if errors.As(err, &existing) {
		return existing
	}

	if isTimeout(err) {
		return NewPublishError(KindProviderUnavailable, provider, "provider request timed out").WithCause(err)
	}

	var perr *ProviderError
	if !errors.As(err, &perr) || perr == nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return NewPublishError(KindProviderUnavailable, provider, err.Error()).WithCause(err)
		}
		kind := KindProviderUnavailable
		if phase == PhaseAuth {
			kind = KindAuthFailed
		}
		return NewPublishError(kind, provider, err.Error()).WithCause(err)
	}

	code := perr.Code
	if code == "" && perr.Status != 0 {
		code = strconv.Itoa(perr.Status)
	}
	message := perr.Description
	if message == "" {
		message = perr.Error()
	}

	var kind ErrorKind
	switch {
	case perr.Status == http.StatusUnauthorized || perr.TokenInvalid:
		if phase == PhaseAuth {
			kind = KindAuthFailed
		} else {
			kind = KindTokenExpired
		}
	case perr.Status == http.StatusTooManyRequests || perr.RateLimited:
		kind = KindProviderUnavailable
	case perr.Status >= 500:
		kind = KindProviderUnavailable
	case perr.Status == 0 && perr.Err != nil:
		kind = KindProviderUnavailable
	case phase == PhaseAuth:
		kind = KindAuthFailed
	case phase == PhaseRefresh:
		kind = KindTokenExpired
	default:
		kind = KindPublishRejected
	}

	return NewPublishError(kind, provider, message).
		WithProviderCode(code).
		WithCause(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

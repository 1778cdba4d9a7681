package linkedin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	social "github.com/goliatone/go-social"
)

// LinkedIn service error codes with a meaning of their own.
const (
	serviceCodeInvalidToken = 65600
	serviceCodeRevoked      = 65601
	serviceCodeThrottled    = 65603
)

type apiError struct {
	Status           int    `json:"status"`
	ServiceErrorCode int    `json:"serviceErrorCode"`
	Code             string `json:"code"`
	Message          string `json:"message"`
}

func decodeError(operation string, status int, body []byte) *social.ProviderError {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return providerError(operation, status, "", msg, nil)
	}

	description := apiErr.Message
	if description == "" {
		description = http.StatusText(status)
	}
	code := apiErr.Code
	if apiErr.ServiceErrorCode != 0 {
		code = strconv.Itoa(apiErr.ServiceErrorCode)
	}

	perr := providerError(operation, status, code, description, nil)
	perr.Raw = map[string]any{"serviceErrorCode": apiErr.ServiceErrorCode, "code": apiErr.Code}

	switch apiErr.ServiceErrorCode {
	case serviceCodeInvalidToken, serviceCodeRevoked:
		perr.TokenInvalid = true
	case serviceCodeThrottled:
		perr.RateLimited = true
	}
	return perr
}

func providerError(operation string, status int, code, description string, err error) *social.ProviderError {
	return &social.ProviderError{
		Provider:    string(social.ProviderLinkedIn),
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}

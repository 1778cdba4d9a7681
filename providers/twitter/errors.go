package twitter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	social "github.com/goliatone/go-social"
)

// Twitter error codes with a meaning of their own.
const (
	codeCouldNotAuthenticate = 32
	codeRateLimited          = 88
	codeInvalidToken         = 89
	codeDuplicateStatus      = 187
)

type apiError struct {
	// v2 problem details
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
	// v1.1 and v2 error lists
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
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

	code := 0
	description := apiErr.Detail
	if len(apiErr.Errors) > 0 {
		code = apiErr.Errors[0].Code
		if description == "" {
			description = apiErr.Errors[0].Message
		}
	}
	if description == "" {
		description = apiErr.Title
	}
	if code == 0 && strings.Contains(strings.ToLower(description), "duplicate") {
		code = codeDuplicateStatus
	}

	perr := providerError(operation, status, "", description, nil)
	if code != 0 {
		perr.Code = strconv.Itoa(code)
	}
	perr.Raw = map[string]any{"title": apiErr.Title, "type": apiErr.Type}

	switch code {
	case codeCouldNotAuthenticate, codeInvalidToken:
		perr.TokenInvalid = true
	case codeRateLimited:
		perr.RateLimited = true
	}
	return perr
}

func providerError(operation string, status int, code, description string, err error) *social.ProviderError {
	return &social.ProviderError{
		Provider:    string(social.ProviderTwitter),
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}

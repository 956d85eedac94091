package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Code is the error parameter of the WWW-Authenticate challenge on 401s,
	// e.g. "token_expired" or "invalid_token".
	Code string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("auth api: HTTP %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of err if it is an *APIError, else 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsTokenExpired reports whether err says the access token has expired and
// a refresh may help.
func IsTokenExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && apiErr.Code == "token_expired"
}

var challengeError = regexp.MustCompile(`error="([^"]*)"`)

// parseErrorResponse builds an *APIError from a failed response.
func parseErrorResponse(resp *http.Response, body []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var msg messageResponse
	if err := json.Unmarshal(body, &msg); err == nil && msg.Message != "" {
		apiErr.Message = msg.Message
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	if m := challengeError.FindStringSubmatch(resp.Header.Get("WWW-Authenticate")); m != nil {
		apiErr.Code = m[1]
	}
	return apiErr
}

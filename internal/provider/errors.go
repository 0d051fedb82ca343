package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2"
)

// ConfigError reports a missing or invalid setting. It is returned by the
// constructors, before any network call.
type ConfigError struct {
	Backend string
	Key     string
	Reason  string
}

func (e *ConfigError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	return fmt.Sprintf("%s provider: %s %s", e.Backend, e.Key, reason)
}

// APIError is a uniform upstream failure carrying the HTTP status and body.
type APIError struct {
	Backend string
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Backend, msg)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Backend, e.Status, msg)
}

// mapError converts vendor error envelopes into *APIError. Other errors,
// such as context cancellation, are wrapped unchanged.
func mapError(backend string, err error) error {
	if err == nil {
		return nil
	}

	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return &APIError{Backend: backend, Status: oaiAPI.HTTPStatusCode, Message: oaiAPI.Message}
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		msg := ""
		if oaiReq.Err != nil {
			msg = oaiReq.Err.Error()
		}
		return &APIError{Backend: backend, Status: oaiReq.HTTPStatusCode, Message: msg}
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return &APIError{Backend: backend, Status: antErr.StatusCode, Message: antErr.Error()}
	}
	var tokErr *oauth2.RetrieveError
	if errors.As(err, &tokErr) {
		status := 0
		if tokErr.Response != nil {
			status = tokErr.Response.StatusCode
		}
		return &APIError{Backend: backend, Status: status, Message: "token exchange failed", Body: string(tokErr.Body)}
	}
	return fmt.Errorf("%s: %w", backend, err)
}

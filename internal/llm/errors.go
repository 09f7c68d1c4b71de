package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	KindRateLimited        ErrorKind = "rate_limited"
	KindInsufficientCredit ErrorKind = "insufficient_credit"
	KindInvalidKey         ErrorKind = "invalid_key"
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindBadRequest         ErrorKind = "bad_request"
	KindServer             ErrorKind = "server_error"
	KindTimeout            ErrorKind = "timeout"
	KindTransport          ErrorKind = "transport"
	KindMalformed          ErrorKind = "malformed_response"
)

// ProviderError is a failed call to the vision model. Body keeps the raw
// provider payload for audit.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.describe())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) describe() string {
	switch e.Kind {
	case KindRateLimited:
		return "rate limit exceeded"
	case KindInsufficientCredit:
		return "insufficient credits"
	case KindInvalidKey:
		return "invalid API key"
	case KindPermissionDenied:
		return "permission denied"
	case KindBadRequest:
		return "bad request"
	case KindServer:
		return "provider server error"
	case KindTimeout:
		return "request timed out"
	case KindTransport:
		return "transport error"
	case KindMalformed:
		return "malformed provider response"
	default:
		return "provider error"
	}
}

// Retryable reports whether re-sending the same request may succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindTimeout, KindTransport:
		return true
	}
	return false
}

// AsProviderError unwraps err into a ProviderError if it holds one.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// errorEnvelope is the provider's error payload, e.g. {"error":{"message":"...","code":402}}.
type errorEnvelope struct {
	Error *struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
		Type    string          `json:"type"`
	} `json:"error"`
}

// classifyStatus maps a non-200 response to a ProviderError, using the error
// message when the status code alone is ambiguous.
func classifyStatus(status int, body []byte) *ProviderError {
	pe := &ProviderError{StatusCode: status, Body: strings.TrimSpace(string(body))}

	msg := ""
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		msg = strings.ToLower(env.Error.Message + " " + env.Error.Type)
	}

	switch {
	case status == http.StatusTooManyRequests || strings.Contains(msg, "rate limit"):
		pe.Kind = KindRateLimited
	case status == http.StatusPaymentRequired || strings.Contains(msg, "credit") || strings.Contains(msg, "quota"):
		pe.Kind = KindInsufficientCredit
	case status == http.StatusUnauthorized || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "no auth"):
		pe.Kind = KindInvalidKey
	case status == http.StatusForbidden || strings.Contains(msg, "permission"):
		pe.Kind = KindPermissionDenied
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		pe.Kind = KindTimeout
	case status >= 500:
		pe.Kind = KindServer
	default:
		pe.Kind = KindBadRequest
	}
	return pe
}

// classifyTransport maps an http.Client error to a ProviderError.
func classifyTransport(err error) *ProviderError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &ProviderError{Kind: KindTimeout, Err: err}
	}
	return &ProviderError{Kind: KindTransport, Err: err}
}

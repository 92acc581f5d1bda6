package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an upstream gateway failure
type Kind string

const (
	KindRateLimit       Kind = "rate_limit"
	KindPaymentRequired Kind = "payment_required"
	KindAuth            Kind = "auth_error"
	KindNetwork         Kind = "network_error"
	KindUnknown         Kind = "unknown"
)

var userMessages = map[Kind]string{
	KindRateLimit:       "The AI service is busy right now. Please wait a moment and try again.",
	KindPaymentRequired: "AI credits are exhausted. Please add credits to continue generating content.",
	KindAuth:            "The AI service rejected our credentials. Please contact support.",
	KindNetwork:         "Could not reach the AI service. Check your connection and try again.",
	KindUnknown:         "Something went wrong while generating content. Please try again.",
}

// UserMessage returns the user-facing text for a kind
func UserMessage(kind Kind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[KindUnknown]
}

// Error is a classified upstream failure
type Error struct {
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("llm %s (http %d): %s", e.Kind, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("llm %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed
func (e *Error) Retryable() bool {
	return e.Kind != KindAuth && e.Kind != KindPaymentRequired
}

// KindForStatus maps an HTTP status code to a kind
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusPaymentRequired:
		return KindPaymentRequired
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	default:
		return KindUnknown
	}
}

// Classify returns the kind of err, or KindUnknown when err is not an *Error
func Classify(err error) Kind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return KindUnknown
}

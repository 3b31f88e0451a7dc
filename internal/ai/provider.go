package ai

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one role-tagged turn passed to a provider as history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation call.
type Request struct {
	System      string
	History     []Message
	Input       string
	Temperature float32
}

// Provider completes one request against one credential.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrorKind tells the resilient client what to do with a failed call.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindQuota
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindUnavailable:
		return "unavailable"
	default:
		return "other"
	}
}

// ProviderError is returned by providers for every failed call.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf reports the classified kind of err. Unclassified errors are KindOther.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// kindForStatus maps an HTTP-style status code to an ErrorKind.
func kindForStatus(code int) ErrorKind {
	switch {
	case code == 429:
		return KindQuota
	case code == 500, code == 502, code == 503, code == 504:
		return KindUnavailable
	default:
		return KindOther
	}
}

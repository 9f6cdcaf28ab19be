package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCircuitOpen = errors.New("circuit open")
	ErrOverflow    = errors.New("mantissa overflow")
)

// Kind is the error taxonomy used by every callsite to classify failures.
// Callers annotate errors with a kind via Classify; the DLQ writer and the
// retry policies dispatch on it instead of inspecting error types or
// messages.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDeserialization
	KindDownstreamTransient
	KindDownstreamPermanent
	KindTimeout
	KindCircuitOpen
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindDeserialization:
		return "DESERIALIZATION"
	case KindDownstreamTransient:
		return "DOWNSTREAM_TRANSIENT"
	case KindDownstreamPermanent:
		return "DOWNSTREAM_PERMANENT"
	case KindTimeout:
		return "TIMEOUT"
	case KindCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "INTERNAL"
	}
}

// Classified wraps an error with its taxonomy kind.
type Classified struct {
	Kind Kind
	Err  error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Kind, c.Err)
}

func (c *Classified) Unwrap() error {
	return c.Err
}

// Classify annotates err with kind. A nil err returns nil.
func Classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Err: err}
}

// Classifyf annotates a formatted error with kind.
func Classifyf(kind Kind, format string, args ...any) error {
	return &Classified{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the taxonomy kind from err. Unannotated errors fall back
// to context- and sentinel-based classification: cancellation and deadline
// errors are timeouts, ErrCircuitOpen is CIRCUIT_OPEN, everything else is
// INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}
	return KindInternal
}

// Transient reports whether err should be retried in place.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindDownstreamTransient, KindTimeout:
		return true
	}
	return false
}

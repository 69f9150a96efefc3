package agent

import (
	"errors"
	"fmt"

	"github.com/martydill/aixplosion/internal/llm"
)

// Kind classifies errors that can escape the agent loop. Tool, policy, and
// protocol failures never escape; they are expressed back to the model as
// error tool results.
type Kind int

const (
	KindGeneric Kind = iota
	KindConfig
	KindAuth
	KindTransport
	KindStore
	KindCapacity
)

// Error is a classified agent error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// wrapErr classifies an error for propagation out of the loop.
func wrapErr(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Classify returns the Kind of an error, defaulting to generic.
func Classify(err error) Kind {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Kind
	}
	if errors.Is(err, llm.ErrAuthentication) {
		return KindAuth
	}
	return KindGeneric
}

// classifyLLM maps an LLM client error onto the taxonomy: authentication
// errors are terminal with guidance; everything else that escapes the
// client's retry loop is transport.
func classifyLLM(err error) error {
	if errors.Is(err, llm.ErrAuthentication) {
		return wrapErr(KindAuth, err)
	}
	return wrapErr(KindTransport, fmt.Errorf("LLM request failed: %w", err))
}

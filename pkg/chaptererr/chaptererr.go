// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chaptererr defines the error taxonomy shared across the
// chapter generation pipeline. Every package that can fail wraps its
// failures in an *Error carrying a Kind, so the orchestrator's retry
// loop and the HTTP layer can both dispatch on error class without
// depending on any one package's concrete error type.
package chaptererr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and translation purposes.
type Kind string

const (
	// InvalidInput is a caller error: malformed request, validation
	// failure. Never retried.
	InvalidInput Kind = "invalid_input"

	// ProviderTransient is a retryable provider failure: timeout, 5xx,
	// connection reset.
	ProviderTransient Kind = "provider_transient"

	// ProviderAuth is a provider credential failure. Never retried;
	// stops the provider's fallback chain entirely.
	ProviderAuth Kind = "provider_auth"

	// ProviderSchemaViolation means the provider returned a response
	// that does not conform to the requested schema. Triggers an
	// immediate fallback to the next provider, not a retry of the
	// same one.
	ProviderSchemaViolation Kind = "provider_schema_violation"

	// ProviderUnavailable means every provider in a fallback chain was
	// exhausted (all open breakers, or all failed).
	ProviderUnavailable Kind = "provider_unavailable"

	// StoreError is a persistence failure (Postgres, Redis, Qdrant).
	StoreError Kind = "store_error"

	// Cancelled means the caller's context was cancelled or a user
	// explicitly cancelled the chapter.
	Cancelled Kind = "cancelled"

	// IntegrityViolation means invariants the orchestrator depends on
	// were violated (e.g. a stage ran out of order, a checkpoint
	// referenced a section index past the end of the chapter).
	IntegrityViolation Kind = "integrity_violation"
)

// Error is the concrete error type produced by this system's domain
// packages. It always wraps a Kind and, usually, a cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error wrapping cause. If cause is already an *Error
// of the same kind, it is not double-wrapped; its message is kept.
func Wrap(kind Kind, message string, cause error) *Error {
	if existing, ok := cause.(*Error); ok && existing.Kind == kind {
		return existing
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a chaptererr.Error (at any depth) whose
// Kind equals kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of err if it is a chaptererr.Error, or ""
// otherwise.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// Retryable reports whether a failure of this kind should be retried
// by the orchestrator's stage loop (transient provider failures only —
// schema violations fall back to a different provider instead of
// retrying the same one, and every other kind is a hard stop).
func Retryable(err error) bool {
	return KindOf(err) == ProviderTransient
}

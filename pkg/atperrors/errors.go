// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package atperrors collects the error kinds shared across the transport,
// protocol, verification and executor layers. Each kind wraps an optional
// cause so callers can still unwrap down to the root error.
package atperrors

import (
	"errors"
	"fmt"
)

// Kind discriminates the conceptual error categories from SPEC_FULL.md §5/§7.
type Kind string

const (
	// Transport (host connection / pool) kinds.
	KindConnectionFailed Kind = "connection_failed"
	KindTimeout          Kind = "timeout"
	KindDisconnected     Kind = "disconnected"
	KindHostNotFound     Kind = "host_not_found"
	KindPoolExhausted    Kind = "pool_exhausted"
	KindConfigError      Kind = "config_error"

	// Protocol (SPICE / virtio-serial / QGA) kinds.
	KindSendFailed    Kind = "send_failed"
	KindReceiveFailed Kind = "receive_failed"
	KindParseError    Kind = "parse_error"
	KindCommandFailed Kind = "command_failed"
	KindUnsupported   Kind = "unsupported"

	// Verification kinds.
	KindClientNotFound Kind = "client_not_found"
	KindSerde          Kind = "serde"

	// Executor kinds.
	KindScenarioLoadFailed  Kind = "scenario_load_failed"
	KindStepExecutionFailed Kind = "step_execution_failed"
	KindDatabaseError       Kind = "database_error"
)

// Error is the common error type returned by every layer of the platform.
// It is comparable by Kind via errors.Is against a Sentinel of the same
// Kind, and unwraps to the underlying cause via errors.As/errors.Unwrap.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Msg == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, which lets
// callers write errors.Is(err, atperrors.Sentinel(KindTimeout)).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Cause == nil
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error carrying cause as its Unwrap target.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Sentinel returns a zero-message, zero-cause *Error usable with errors.Is
// to test only the Kind, e.g. errors.Is(err, atperrors.Sentinel(KindTimeout)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// OfKind reports whether err is an *Error of the given kind anywhere in its
// chain.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

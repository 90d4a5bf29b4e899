// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package verification matches expected input events (registered ahead of
// an injection) against the raw events a guest agent reports actually
// happened, producing pass/fail verdicts for the scenario executor.
package verification

import "time"

// EventType discriminates the two input kinds an ExpectedInputEvent can
// describe, matching spec.md §3's `{keyboard, mouse}`.
type EventType string

const (
	EventKeyboard EventType = "keyboard"
	EventMouse    EventType = "mouse"
)

// ExpectedInputEvent is one registration waiting for a matching
// RawInputEvent. ExpectedName is stored upper-cased so matching is
// case-insensitive without re-normalizing on every compare.
type ExpectedInputEvent struct {
	EventID       string
	VMID          string
	EventType     EventType
	ExpectedName  string
	ExpectedValue *int32
	ResultSink    chan VerifyResult
	CreatedAt     time.Time
	Timeout       time.Duration
}

// RawInputEvent is what a guest agent reports after observing an actual
// input. Value is 1 for a press/down, 0 for a release/up.
type RawInputEvent struct {
	EventType string `json:"event_type"`
	Name      string `json:"name"`
	Code      int32  `json:"code"`
	Value     int32  `json:"value"`
}

// VerifyResult is the outcome delivered to an ExpectInput caller.
type VerifyResult struct {
	EventID   string         `json:"event_id"`
	Verified  bool           `json:"verified"`
	Timestamp int64          `json:"timestamp"`
	LatencyMs int64          `json:"latency_ms"`
	Details   map[string]any `json:"details,omitempty"`
}

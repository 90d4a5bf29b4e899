// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/wooveep/atp-runner/internal/metrics"
	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// Config tunes a Service's timeouts, grounded on service.rs's ServiceConfig.
type Config struct {
	DefaultTimeout  time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig matches service.rs's Default impl (30s / 60s).
func DefaultConfig() Config {
	return Config{DefaultTimeout: 30 * time.Second, CleanupInterval: 60 * time.Second}
}

// Service tracks, per VM, a FIFO list of expectations waiting for a
// matching RawInputEvent. Ported from
// atp-core/verification-server/src/service.rs's "new architecture" path
// (expected_events + spawn_raw_input_processor); the old
// pending_events/spawn_result_processor compatibility path that source
// file also carries has no callers reachable from spec.md's operations
// and is not ported (see DESIGN.md).
type Service struct {
	log logr.Logger
	cfg Config

	mu       sync.Mutex
	expected map[string][]*ExpectedInputEvent

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewService starts a Service and its background cleanup task.
func NewService(cfg Config, log logr.Logger) *Service {
	s := &Service{
		log:      log.WithName("verification"),
		cfg:      cfg,
		expected: make(map[string][]*ExpectedInputEvent),
		stopCh:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Stop terminates the cleanup task. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ExpectInput registers an expectation and blocks until a matching
// RawInputEvent arrives via FeedRawInputEvent, the timeout elapses, the
// background cleanup task drops it for the same reason, or ctx is
// cancelled. A zero timeout uses cfg.DefaultTimeout.
func (s *Service) ExpectInput(ctx context.Context, vmID string, eventType EventType, expectedName string, expectedValue *int32, timeout time.Duration) (VerifyResult, error) {
	expected := s.RegisterExpectation(vmID, eventType, expectedName, expectedValue, timeout)
	return s.AwaitExpectation(ctx, expected)
}

// RegisterExpectation records an expectation synchronously and returns
// it for a subsequent AwaitExpectation call. Splitting registration from
// the wait lets a caller guarantee the expectation exists in the FIFO
// before it injects the input that is meant to satisfy it — spec.md
// §4.9/§5 require registration strictly before injection.
func (s *Service) RegisterExpectation(vmID string, eventType EventType, expectedName string, expectedValue *int32, timeout time.Duration) *ExpectedInputEvent {
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	expected := &ExpectedInputEvent{
		EventID:       uuid.NewString(),
		VMID:          vmID,
		EventType:     eventType,
		ExpectedName:  strings.ToUpper(expectedName),
		ExpectedValue: expectedValue,
		ResultSink:    make(chan VerifyResult, 1),
		CreatedAt:     time.Now(),
		Timeout:       timeout,
	}

	s.mu.Lock()
	s.expected[vmID] = append(s.expected[vmID], expected)
	pending := len(s.expected[vmID])
	s.mu.Unlock()
	metrics.VerificationPendingExpectations.WithLabelValues(vmID).Set(float64(pending))

	s.log.V(1).Info("registered expectation", "vmID", vmID, "eventID", expected.EventID, "name", expected.ExpectedName)

	return expected
}

// AwaitExpectation blocks on an expectation already registered via
// RegisterExpectation until it is matched, times out, is dropped by the
// cleanup task, or ctx is cancelled.
func (s *Service) AwaitExpectation(ctx context.Context, expected *ExpectedInputEvent) (VerifyResult, error) {
	vmID := expected.VMID

	timer := time.NewTimer(expected.Timeout)
	defer timer.Stop()

	select {
	case result, ok := <-expected.ResultSink:
		if !ok {
			metrics.VerificationOutcomesTotal.WithLabelValues(vmID, "cancelled").Inc()
			return VerifyResult{}, atperrors.New(atperrors.KindTimeout, "expectation dropped by cleanup task")
		}
		metrics.VerificationOutcomesTotal.WithLabelValues(vmID, "matched").Inc()
		return result, nil
	case <-timer.C:
		s.removeExpected(vmID, expected.EventID)
		metrics.VerificationOutcomesTotal.WithLabelValues(vmID, "timeout").Inc()
		return VerifyResult{}, atperrors.New(atperrors.KindTimeout, "expect_input timed out")
	case <-ctx.Done():
		s.removeExpected(vmID, expected.EventID)
		metrics.VerificationOutcomesTotal.WithLabelValues(vmID, "cancelled").Inc()
		return VerifyResult{}, atperrors.Wrap(atperrors.KindTimeout, "expect_input cancelled", ctx.Err())
	}
}

// FeedRawInputEvent delivers one raw event reported for vmID. It matches
// against the first (FIFO) compatible expectation, per spec.md §4.8's
// matching algorithm: equal event type, case-insensitive name equality,
// and (if set) equal expected value.
func (s *Service) FeedRawInputEvent(vmID string, raw RawInputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.expected[vmID]
	for i, exp := range list {
		if !matches(exp, raw) {
			continue
		}

		now := time.Now()
		result := VerifyResult{
			EventID:   exp.EventID,
			Verified:  true,
			Timestamp: now.UnixMilli(),
			LatencyMs: now.Sub(exp.CreatedAt).Milliseconds(),
			Details: map[string]any{
				"matched_name":  raw.Name,
				"matched_value": raw.Value,
				"matched_code":  raw.Code,
			},
		}
		exp.ResultSink <- result

		s.expected[vmID] = append(list[:i:i], list[i+1:]...)
		pending := len(s.expected[vmID])
		if pending == 0 {
			delete(s.expected, vmID)
		}
		metrics.VerificationPendingExpectations.WithLabelValues(vmID).Set(float64(pending))
		return
	}

	s.log.V(1).Info("unmatched raw input event", "vmID", vmID, "name", raw.Name, "eventType", raw.EventType)
}

func matches(exp *ExpectedInputEvent, raw RawInputEvent) bool {
	if string(exp.EventType) != raw.EventType {
		return false
	}
	if exp.ExpectedName != strings.ToUpper(raw.Name) {
		return false
	}
	if exp.ExpectedValue != nil && *exp.ExpectedValue != raw.Value {
		return false
	}
	return true
}

func (s *Service) removeExpected(vmID, eventID string) {
	s.mu.Lock()
	list := s.expected[vmID]
	for i, exp := range list {
		if exp.EventID == eventID {
			s.expected[vmID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	pending := len(s.expected[vmID])
	if pending == 0 {
		delete(s.expected, vmID)
	}
	s.mu.Unlock()
	metrics.VerificationPendingExpectations.WithLabelValues(vmID).Set(float64(pending))
}

// PendingCount returns the total number of outstanding expectations
// across all VMs.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, list := range s.expected {
		total += len(list)
	}
	return total
}

// CancelEvent drops one expectation by id, closing its sink so any
// blocked ExpectInput wakes with Timeout. Reports whether it was found.
func (s *Service) CancelEvent(vmID, eventID string) bool {
	s.mu.Lock()
	list := s.expected[vmID]
	var found bool
	for i, exp := range list {
		if exp.EventID == eventID {
			close(exp.ResultSink)
			s.expected[vmID] = append(list[:i:i], list[i+1:]...)
			found = true
			break
		}
	}
	pending := len(s.expected[vmID])
	if pending == 0 {
		delete(s.expected, vmID)
	}
	s.mu.Unlock()
	if found {
		metrics.VerificationPendingExpectations.WithLabelValues(vmID).Set(float64(pending))
		metrics.VerificationOutcomesTotal.WithLabelValues(vmID, "cancelled").Inc()
	}
	return found
}

// CancelVMEvents drops every expectation for vmID, closing their sinks.
// Returns the number cancelled.
func (s *Service) CancelVMEvents(vmID string) int {
	s.mu.Lock()
	list := s.expected[vmID]
	for _, exp := range list {
		close(exp.ResultSink)
	}
	delete(s.expected, vmID)
	s.mu.Unlock()
	metrics.VerificationPendingExpectations.WithLabelValues(vmID).Set(0)
	if len(list) > 0 {
		metrics.VerificationOutcomesTotal.WithLabelValues(vmID, "cancelled").Add(float64(len(list)))
	}
	return len(list)
}

// cleanupLoop drops expectations whose age exceeds their own timeout,
// per spec.md §4.8: "drops expectations whose now - created_at > timeout
// ... dropping the result sink causes the waiter to wake with Timeout."
func (s *Service) cleanupLoop() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Service) sweepExpired() {
	s.mu.Lock()
	expiredPerVM := make(map[string]int)
	now := time.Now()
	for vmID, list := range s.expected {
		kept := list[:0]
		for _, exp := range list {
			if now.Sub(exp.CreatedAt) > exp.Timeout {
				close(exp.ResultSink)
				s.log.V(1).Info("cleaned up expired expectation", "vmID", vmID, "eventID", exp.EventID)
				expiredPerVM[vmID]++
				continue
			}
			kept = append(kept, exp)
		}
		if len(kept) == 0 {
			delete(s.expected, vmID)
		} else {
			s.expected[vmID] = kept
		}
	}
	pendingPerVM := make(map[string]int, len(expiredPerVM))
	for vmID := range expiredPerVM {
		pendingPerVM[vmID] = len(s.expected[vmID])
	}
	s.mu.Unlock()

	for vmID, n := range expiredPerVM {
		metrics.VerificationPendingExpectations.WithLabelValues(vmID).Set(float64(pendingPerVM[vmID]))
		metrics.VerificationOutcomesTotal.WithLabelValues(vmID, "timeout").Add(float64(n))
	}
}

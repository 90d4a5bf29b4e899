// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"sync"

	"github.com/wooveep/atp-runner/internal/executor"
)

// reportStore is a bounded, in-memory ring buffer of completed scenario
// runs keyed by run id. spec.md's Non-goals exclude report persistence,
// so there is nothing to ground this on beyond "keep the last N in
// memory"; no ecosystem library in the pack offers a bounded
// map-with-eviction primitive, so this is a small stdlib-only type
// (documented exception in DESIGN.md).
type reportStore struct {
	mu       sync.Mutex
	capacity int
	order    []string
	reports  map[string]*executor.MultiTargetReport
}

func newReportStore(capacity int) *reportStore {
	return &reportStore{
		capacity: capacity,
		reports:  make(map[string]*executor.MultiTargetReport, capacity),
	}
}

func (s *reportStore) put(id string, report *executor.MultiTargetReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[id] = report
	s.order = append(s.order, id)
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.reports, oldest)
	}
}

func (s *reportStore) get(id string) (*executor.MultiTargetReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	return r, ok
}

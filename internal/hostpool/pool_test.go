// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package hostpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wooveep/atp-runner/internal/hostconn"
)

type fakeSession struct{ alive atomic.Bool }

func newFakeSession() *fakeSession {
	s := &fakeSession{}
	s.alive.Store(true)
	return s
}
func (f *fakeSession) IsConnected() bool   { return f.alive.Load() }
func (f *fakeSession) ConnectClose() error { f.alive.Store(false); return nil }

func alwaysDial(context.Context, hostconn.HostInfo) (hostconn.Session, error) {
	return newFakeSession(), nil
}

func testTransportConfig() hostconn.TransportConfig {
	cfg := hostconn.DefaultTransportConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour // disable heartbeat noise during these tests
	return cfg
}

func TestAddHostRejectsDuplicate(t *testing.T) {
	p := New(DefaultConfig(), testTransportConfig(), alwaysDial, logr.Discard())
	defer p.Close()

	require.NoError(t, p.AddHost(context.Background(), hostconn.HostInfo{ID: "h1"}))
	err := p.AddHost(context.Background(), hostconn.HostInfo{ID: "h1"})
	assert.Error(t, err)
}

func TestGetRoundRobinCyclesConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConnectionsPerHost = 3
	cfg.ManagementInterval = time.Hour
	p := New(cfg, testTransportConfig(), alwaysDial, logr.Discard())
	defer p.Close()

	require.NoError(t, p.AddHost(context.Background(), hostconn.HostInfo{ID: "h1"}))

	require.Eventually(t, func() bool {
		n, _ := p.ActiveConnectionCount("h1")
		return n == 3
	}, time.Second, 5*time.Millisecond)

	seen := map[*hostconn.Connection]int{}
	for i := 0; i < 6; i++ {
		c, err := p.Get("h1")
		require.NoError(t, err)
		seen[c]++
	}
	assert.Len(t, seen, 3)
	for _, count := range seen {
		assert.Equal(t, 2, count)
	}
}

func TestGetUnknownHostReturnsNotFound(t *testing.T) {
	p := New(DefaultConfig(), testTransportConfig(), alwaysDial, logr.Discard())
	defer p.Close()

	_, err := p.Get("missing")
	assert.Error(t, err)
}

func TestRemoveHostDisconnectsAndForgets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ManagementInterval = time.Hour
	p := New(cfg, testTransportConfig(), alwaysDial, logr.Discard())
	defer p.Close()

	require.NoError(t, p.AddHost(context.Background(), hostconn.HostInfo{ID: "h1"}))
	require.Eventually(t, func() bool {
		n, _ := p.ConnectionCount("h1")
		return n == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.RemoveHost("h1"))
	_, err := p.Get("h1")
	assert.Error(t, err)

	err = p.RemoveHost("h1")
	assert.Error(t, err, "removing an already-removed host is an error")
}

func TestLeastConnectionsPrefersLowestActiveUse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConnectionsPerHost = 2
	cfg.SelectionStrategy = LeastConnections
	cfg.ManagementInterval = time.Hour
	p := New(cfg, testTransportConfig(), alwaysDial, logr.Discard())
	defer p.Close()

	require.NoError(t, p.AddHost(context.Background(), hostconn.HostInfo{ID: "h1"}))
	require.Eventually(t, func() bool {
		n, _ := p.ActiveConnectionCount("h1")
		return n == 2
	}, time.Second, 5*time.Millisecond)

	entry := p.hosts["h1"]
	entry.connections[0].Acquire()
	entry.connections[0].Acquire()

	c, err := p.Get("h1")
	require.NoError(t, err)
	assert.Same(t, entry.connections[1], c)
}

func TestParseSelectionStrategy(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want SelectionStrategy
	}{
		{"round-robin", RoundRobin},
		{"round_robin", RoundRobin},
		{"least-connections", LeastConnections},
		{"random", Random},
	} {
		got, err := ParseSelectionStrategy(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseSelectionStrategy("bogus")
	assert.Error(t, err)
}

// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package hostconn

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	connected atomic.Bool
	closed    atomic.Bool
}

func newFakeSession() *fakeSession {
	s := &fakeSession{}
	s.connected.Store(true)
	return s
}

func (f *fakeSession) IsConnected() bool { return f.connected.Load() }
func (f *fakeSession) ConnectClose() error {
	f.closed.Store(true)
	f.connected.Store(false)
	return nil
}

func testConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:    100 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		Reconnect: ReconnectConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
		AutoReconnect: true,
	}
}

func TestConnectSuccessTransitionsToConnected(t *testing.T) {
	sess := newFakeSession()
	dial := func(ctx context.Context, info HostInfo) (Session, error) { return sess, nil }

	c := New(HostInfo{ID: "h1", URI: "qemu:///system"}, testConfig(), dial, logr.Discard())
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())

	got, err := c.GetSession()
	require.NoError(t, err)
	assert.Same(t, sess, got)

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, sess.closed.Load())
}

func TestConnectFailureTransitionsToFailed(t *testing.T) {
	dial := func(ctx context.Context, info HostInfo) (Session, error) {
		return nil, assert.AnError
	}
	c := New(HostInfo{ID: "h1"}, testConfig(), dial, logr.Discard())
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())

	_, err = c.GetSession()
	assert.Error(t, err, "disconnected session must not be exposed")
}

func TestGetSessionOnlyWhenConnected(t *testing.T) {
	c := New(HostInfo{ID: "h1"}, testConfig(), func(context.Context, HostInfo) (Session, error) {
		return newFakeSession(), nil
	}, logr.Discard())

	_, err := c.GetSession()
	assert.Error(t, err)
}

func TestReconnectWithBackoffExhaustsMaxAttempts(t *testing.T) {
	calls := atomic.Int32{}
	dial := func(ctx context.Context, info HostInfo) (Session, error) {
		calls.Add(1)
		return nil, assert.AnError
	}
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 3
	c := New(HostInfo{ID: "h1"}, cfg, dial, logr.Discard())

	err := c.ReconnectWithBackoff(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "超过最大重连次数")
	assert.EqualValues(t, 3, calls.Load())
}

func TestReconnectWithBackoffRetriesForeverUntilSuccess(t *testing.T) {
	calls := atomic.Int32{}
	sess := newFakeSession()
	dial := func(ctx context.Context, info HostInfo) (Session, error) {
		n := calls.Add(1)
		if n < 10 {
			return nil, assert.AnError
		}
		return sess, nil
	}
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 0 // infinite
	c := New(HostInfo{ID: "h1"}, cfg, dial, logr.Discard())

	err := c.ReconnectWithBackoff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())
	assert.GreaterOrEqual(t, calls.Load(), int32(10))
}

func TestHeartbeatDetectsDeathAndTriggersReconnect(t *testing.T) {
	sess := newFakeSession()
	var dialCount atomic.Int32
	dial := func(ctx context.Context, info HostInfo) (Session, error) {
		dialCount.Add(1)
		return sess, nil
	}
	cfg := testConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	c := New(HostInfo{ID: "h1"}, cfg, dial, logr.Discard())
	require.NoError(t, c.Connect(context.Background()))

	sess.connected.Store(false)

	require.Eventually(t, func() bool {
		return dialCount.Load() >= 2
	}, time.Second, 5*time.Millisecond, "heartbeat should notice death and reconnect")
}

func TestAcquireReleaseTracksActiveUse(t *testing.T) {
	c := New(HostInfo{ID: "h1"}, testConfig(), func(context.Context, HostInfo) (Session, error) {
		return newFakeSession(), nil
	}, logr.Discard())

	c.Acquire()
	c.Acquire()
	assert.EqualValues(t, 2, c.ActiveUseCount())
	c.Release()
	assert.EqualValues(t, 1, c.ActiveUseCount())
}

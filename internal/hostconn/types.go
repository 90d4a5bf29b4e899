// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package hostconn implements a single self-healing libvirt session to one
// hypervisor host (C1 in SPEC_FULL.md). It is grounded on
// atp-core/transport/src/connection.rs from original_source/ and reuses
// the dialer/connect helpers from internal/libvirt/utils exactly as the
// teacher's cmd/libvirt-provider/app.Run does for its single global
// connection.
package hostconn

import "time"

// HostInfo identifies one hypervisor host. Immutable after creation.
type HostInfo struct {
	ID       string
	Host     string
	URI      string
	Tags     []string
	Metadata map[string]string
}

// State is the HostConnection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReconnectConfig controls reconnect_with_backoff.
type ReconnectConfig struct {
	// MaxAttempts is the number of reconnect attempts before giving up;
	// 0 means retry forever.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// TransportConfig mirrors spec.md §3 TransportConfig.
type TransportConfig struct {
	ConnectTimeout   time.Duration
	HeartbeatInterval time.Duration
	Reconnect        ReconnectConfig
	AutoReconnect    bool
}

// DefaultTransportConfig matches the original's Default impl (30s connect
// timeout, 10s heartbeat, infinite reconnect attempts starting at 1s,
// doubling up to 30s).
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:    30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		Reconnect: ReconnectConfig{
			MaxAttempts:  0,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
		},
		AutoReconnect: true,
	}
}

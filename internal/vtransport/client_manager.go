// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package vtransport exposes the WebSocket and length-prefixed TCP
// listeners an in-guest verifier agent connects back into, routing raw
// input events into an internal/verification.Service by VM id. Grounded
// on atp-core/verification-server/src/server.rs's accept/framing shape,
// with ClientManager modeling the Rust ClientManager referenced (but not
// included) in that source tree.
package vtransport

import (
	"sync"
	"time"
)

// ClientInfo describes one connected verification-agent client.
type ClientInfo struct {
	VMID        string
	ConnectedAt time.Time
	RemoteAddr  string
}

// ClientManager tracks which VM ids currently have a connected
// verification-transport client. Disconnect unregisters a client but
// never cancels that VM's pending expectations — per spec.md §6, they
// simply time out.
type ClientManager struct {
	mu      sync.RWMutex
	clients map[string]ClientInfo
}

// NewClientManager constructs an empty ClientManager.
func NewClientManager() *ClientManager {
	return &ClientManager{clients: make(map[string]ClientInfo)}
}

// RegisterClient records a newly connected client, replacing any prior
// registration for the same VM id (a reconnect).
func (m *ClientManager) RegisterClient(info ClientInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[info.VMID] = info
}

// UnregisterClient drops the registration for vmID, if any.
func (m *ClientManager) UnregisterClient(vmID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, vmID)
}

// Get returns the registration for vmID, if connected.
func (m *ClientManager) Get(vmID string) (ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.clients[vmID]
	return info, ok
}

// ConnectedCount returns the number of currently registered clients.
func (m *ClientManager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// List returns a snapshot of all currently connected clients.
func (m *ClientManager) List() []ClientInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ClientInfo, 0, len(m.clients))
	for _, info := range m.clients {
		out = append(out, info)
	}
	return out
}

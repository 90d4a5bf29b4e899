// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package hostpool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/wooveep/atp-runner/internal/hostconn"
	"github.com/wooveep/atp-runner/internal/metrics"
	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// hostEntry is one host's pooled connections plus round-robin cursor.
type hostEntry struct {
	mu          sync.Mutex
	info        hostconn.HostInfo
	connections []*hostconn.Connection
	rrIndex     int
}

// Pool is a set of self-healing connections per host, grown and shrunk by
// a background management loop. Ported from
// atp-core/transport/src/pool.rs.
type Pool struct {
	cfg          Config
	transportCfg hostconn.TransportConfig
	dial         hostconn.Dialer
	log          logr.Logger

	mu    sync.RWMutex
	hosts map[string]*hostEntry

	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a Pool and starts its management loop. Callers must call
// Close when done to stop the loop and disconnect every host.
func New(cfg Config, transportCfg hostconn.TransportConfig, dial hostconn.Dialer, log logr.Logger) *Pool {
	p := &Pool{
		cfg:          cfg,
		transportCfg: transportCfg,
		dial:         dial,
		log:          log.WithName("hostpool"),
		hosts:        make(map[string]*hostEntry),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	go p.manage()
	return p
}

// AddHost registers host and opens MinConnectionsPerHost connections to it
// in the background. Returns ConfigError if the host is already present.
func (p *Pool) AddHost(ctx context.Context, info hostconn.HostInfo) error {
	p.log.Info("adding host to pool", "host", info.ID)

	p.mu.Lock()
	if _, exists := p.hosts[info.ID]; exists {
		p.mu.Unlock()
		return atperrors.New(atperrors.KindConfigError, fmt.Sprintf("host %s already exists", info.ID))
	}

	entry := &hostEntry{info: info}
	for i := 0; i < p.cfg.MinConnectionsPerHost; i++ {
		entry.connections = append(entry.connections, hostconn.New(info, p.transportCfg, p.dial, p.log))
	}
	p.hosts[info.ID] = entry
	p.mu.Unlock()

	conns := append([]*hostconn.Connection(nil), entry.connections...)
	go func() {
		for _, c := range conns {
			if err := c.Connect(ctx); err != nil {
				p.log.V(1).Info("initial connection failed", "host", info.ID, "error", err)
				metrics.PoolConnectionErrors.WithLabelValues(info.ID).Inc()
			}
		}
	}()

	return nil
}

// RemoveHost disconnects and forgets every connection for host.
func (p *Pool) RemoveHost(host string) error {
	p.log.Info("removing host from pool", "host", host)

	p.mu.Lock()
	entry, ok := p.hosts[host]
	if ok {
		delete(p.hosts, host)
	}
	p.mu.Unlock()

	if !ok {
		return atperrors.New(atperrors.KindHostNotFound, host)
	}

	entry.mu.Lock()
	conns := entry.connections
	entry.mu.Unlock()
	for _, c := range conns {
		c.Disconnect()
	}
	return nil
}

// Get returns a connection for host according to the pool's configured
// SelectionStrategy.
func (p *Pool) Get(host string) (*hostconn.Connection, error) {
	switch p.cfg.SelectionStrategy {
	case LeastConnections:
		return p.getLeastConnections(host)
	case Random:
		return p.getRandom(host)
	default:
		return p.getRoundRobin(host)
	}
}

func (p *Pool) entry(host string) (*hostEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.hosts[host]
	if !ok {
		return nil, atperrors.New(atperrors.KindHostNotFound, host)
	}
	return entry, nil
}

func (p *Pool) getRoundRobin(host string) (*hostconn.Connection, error) {
	entry, err := p.entry(host)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if len(entry.connections) == 0 {
		return nil, atperrors.New(atperrors.KindPoolExhausted, host)
	}
	idx := entry.rrIndex % len(entry.connections)
	entry.rrIndex = (entry.rrIndex + 1) % len(entry.connections)
	return entry.connections[idx], nil
}

func (p *Pool) getLeastConnections(host string) (*hostconn.Connection, error) {
	entry, err := p.entry(host)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	conns := append([]*hostconn.Connection(nil), entry.connections...)
	entry.mu.Unlock()
	if len(conns) == 0 {
		return nil, atperrors.New(atperrors.KindPoolExhausted, host)
	}

	var best *hostconn.Connection
	bestUse := int64(-1)
	for _, c := range conns {
		if !c.IsAlive() {
			continue
		}
		use := c.ActiveUseCount()
		if best == nil || use < bestUse {
			best, bestUse = c, use
		}
	}
	if best != nil {
		return best, nil
	}
	return conns[0], nil
}

func (p *Pool) getRandom(host string) (*hostconn.Connection, error) {
	entry, err := p.entry(host)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if len(entry.connections) == 0 {
		return nil, atperrors.New(atperrors.KindPoolExhausted, host)
	}
	return entry.connections[rand.Intn(len(entry.connections))], nil
}

// ListHosts returns every registered host ID.
func (p *Pool) ListHosts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.hosts))
	for id := range p.hosts {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionCount returns the number of pooled connections (alive or not)
// for host.
func (p *Pool) ConnectionCount(host string) (int, error) {
	entry, err := p.entry(host)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.connections), nil
}

// ActiveConnectionCount returns the number of currently-alive connections
// for host.
func (p *Pool) ActiveConnectionCount(host string) (int, error) {
	entry, err := p.entry(host)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	conns := append([]*hostconn.Connection(nil), entry.connections...)
	entry.mu.Unlock()

	count := 0
	for _, c := range conns {
		if c.IsAlive() {
			count++
		}
	}
	return count, nil
}

// Stats returns a per-host snapshot for the metrics/health surfaces.
func (p *Pool) Stats() map[string]Stats {
	p.mu.RLock()
	entries := make(map[string]*hostEntry, len(p.hosts))
	for id, e := range p.hosts {
		entries[id] = e
	}
	p.mu.RUnlock()

	out := make(map[string]Stats, len(entries))
	for id, entry := range entries {
		entry.mu.Lock()
		conns := append([]*hostconn.Connection(nil), entry.connections...)
		entry.mu.Unlock()

		s := Stats{TotalConnections: len(conns), SelectionStrategy: p.cfg.SelectionStrategy}
		for _, c := range conns {
			snap := c.Snapshot()
			if snap.State == hostconn.StateConnected {
				s.ActiveConnections++
			}
			s.TotalRequests += snap.TotalRequests
			s.TotalErrors += snap.TotalErrors
			s.TotalActiveUses += snap.ActiveUse
		}
		out[id] = s
	}
	return out
}

// Close stops the management loop and disconnects every pooled
// connection across every host.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.shutdown)
		<-p.done
	})

	p.mu.Lock()
	entries := p.hosts
	p.hosts = make(map[string]*hostEntry)
	p.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		conns := entry.connections
		entry.mu.Unlock()
		for _, c := range conns {
			c.Disconnect()
		}
	}
}

func (p *Pool) manage() {
	defer close(p.done)
	interval := p.cfg.ManagementInterval
	if interval <= 0 {
		interval = DefaultConfig().ManagementInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			p.log.V(1).Info("pool management task stopped")
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.RLock()
	entries := make(map[string]*hostEntry, len(p.hosts))
	for id, e := range p.hosts {
		entries[id] = e
	}
	p.mu.RUnlock()

	hostLoadHigh := p.hostLoadHigh()

	for id, entry := range entries {
		p.cleanupIdle(id, entry)
		p.scaleUpIfNeeded(id, entry, hostLoadHigh)

		entry.mu.Lock()
		total := len(entry.connections)
		active := 0
		for _, c := range entry.connections {
			if c.IsAlive() {
				active++
			}
		}
		entry.mu.Unlock()
		metrics.PoolConnectionsTotal.WithLabelValues(id).Set(float64(total))
		metrics.PoolConnectionsActive.WithLabelValues(id).Set(float64(active))
	}
}

func (p *Pool) cleanupIdle(host string, entry *hostEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	kept := entry.connections[:0:0]
	removed := 0
	for _, c := range entry.connections {
		keepFloor := len(entry.connections) - removed <= p.cfg.MinConnectionsPerHost
		if !keepFloor && time.Since(c.LastActive()) > p.cfg.IdleTimeout && c.ActiveUseCount() == 0 {
			c.Disconnect()
			removed++
			continue
		}
		kept = append(kept, c)
	}
	entry.connections = kept
	if removed > 0 {
		p.log.V(1).Info("reaped idle connections", "host", host, "removed", removed, "remaining", len(kept))
	}
}

// scaleUpIfNeeded adds one connection when >HighLoadRatio of a host's
// connections are above HighLoadActiveUses, matching the original's
// 80%-of-connections-busy heuristic. hostLoadHigh is a supplementary
// signal: when the local machine itself is already CPU-saturated, adding
// more libvirt sessions would not help, so scale-up is skipped even if
// the per-connection ratio says otherwise.
func (p *Pool) scaleUpIfNeeded(host string, entry *hostEntry, hostLoadHigh bool) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if len(entry.connections) >= p.cfg.MaxConnectionsPerHost || len(entry.connections) == 0 {
		return
	}
	if hostLoadHigh {
		return
	}

	highLoad := 0
	for _, c := range entry.connections {
		if c.ActiveUseCount() > p.cfg.HighLoadActiveUses {
			highLoad++
		}
	}
	ratio := float64(highLoad) / float64(len(entry.connections))
	if ratio <= p.cfg.HighLoadRatio {
		return
	}

	info := entry.connections[0].Info()
	newConn := hostconn.New(info, p.transportCfg, p.dial, p.log)
	entry.connections = append(entry.connections, newConn)

	go func() {
		if err := newConn.Connect(context.Background()); err != nil {
			p.log.V(1).Info("scale-up connection failed", "host", host, "error", err)
		}
	}()

	p.log.Info("scaled up host connections", "host", host, "total", len(entry.connections), "high_load_ratio", ratio)
}

// hostLoadHigh samples this process's host CPU utilization as a
// supplementary scale-up signal (spec §4.2, gopsutil). Errors and zero
// samples are treated as "not high" so the primary connection-count
// heuristic always still applies.
func (p *Pool) hostLoadHigh() bool {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return false
	}
	const highCPUPercent = 90.0
	return percents[0] >= highCPUPercent
}

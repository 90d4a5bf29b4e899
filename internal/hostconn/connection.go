// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package hostconn

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	libvirtutils "github.com/wooveep/atp-runner/internal/libvirt/utils"
	"github.com/wooveep/atp-runner/internal/metrics"
	"github.com/wooveep/atp-runner/pkg/atperrors"

	"github.com/digitalocean/go-libvirt"
)

// Session is the subset of *libvirt.Libvirt a Connection depends on. It is
// an interface so tests can substitute a fake without a real libvirtd.
type Session interface {
	IsConnected() bool
	ConnectClose() error
}

// Dialer opens a new Session for the given host. The default, Dial, wraps
// internal/libvirt/utils.GetLibvirt exactly as the teacher's
// cmd/libvirt-provider/app.Run does for its single global connection;
// here the Pool (internal/hostpool) calls it once per pooled Connection.
type Dialer func(ctx context.Context, info HostInfo) (Session, error)

// Dial is the default Dialer, grounded on internal/libvirt/utils.GetLibvirt.
func Dial(_ context.Context, info HostInfo) (Session, error) {
	lv, err := libvirtutils.GetLibvirt("", "", info.URI)
	if err != nil {
		return nil, err
	}
	return lv, nil
}

// Connection is one live (or reconnecting) libvirt session to one
// hypervisor host. Ported from atp-core/transport/src/connection.rs.
type Connection struct {
	info   HostInfo
	cfg    TransportConfig
	dial   Dialer
	log    logr.Logger

	mu      sync.RWMutex
	state   State
	session Session

	lastActive        atomic.Int64 // unix nanos
	reconnectAttempts atomic.Int32

	activeUse    atomic.Int64
	totalRequest atomic.Int64
	totalErrors  atomic.Int64

	heartbeatShutdown chan struct{}
	heartbeatDone     chan struct{}

	closeOnce sync.Once
	reconnect singleflight.Group
}

// New builds a Connection in the Disconnected state. Call Connect to bring
// it up; the Pool does this asynchronously per spec §4.2.
func New(info HostInfo, cfg TransportConfig, dial Dialer, log logr.Logger) *Connection {
	if dial == nil {
		dial = Dial
	}
	c := &Connection{
		info:  info,
		cfg:   cfg,
		dial:  dial,
		log:   log.WithName("hostconn").WithValues("host", info.ID),
		state: StateDisconnected,
	}
	c.lastActive.Store(time.Now().UnixNano())
	return c
}

func (c *Connection) Info() HostInfo { return c.info }

func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// LastActive returns the timestamp of the most recent successful liveness
// probe or acquisition.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// ActiveUseCount is the number of callers currently holding this connection
// (incremented by Acquire, decremented by Release). Used by the Pool's
// LeastConnections strategy and the adaptive scale-up heuristic.
func (c *Connection) ActiveUseCount() int64 { return c.activeUse.Load() }

// Acquire marks the connection as in-use by one more caller and touches
// last-active, per spec §4.2 "every returned connection touches
// last-active on acquisition".
func (c *Connection) Acquire() {
	c.activeUse.Add(1)
	c.totalRequest.Add(1)
	c.touch()
}

// Release returns the connection to the idle pool from the caller's point
// of view.
func (c *Connection) Release() {
	c.activeUse.Add(-1)
}

// Connect applies the configured connect timeout and transitions
// Disconnected/Failed -> Connecting -> Connected|Failed. On success it
// starts the heartbeat loop.
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	type result struct {
		sess Session
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		sess, err := c.dial(dialCtx, c.info)
		resCh <- result{sess, err}
	}()

	select {
	case <-dialCtx.Done():
		c.setState(StateFailed)
		return atperrors.New(atperrors.KindTimeout, fmt.Sprintf("connect to host %s timed out", c.info.ID))
	case res := <-resCh:
		if res.err != nil {
			c.setState(StateFailed)
			return atperrors.Wrap(atperrors.KindConnectionFailed, fmt.Sprintf("connect to host %s", c.info.ID), res.err)
		}
		c.mu.Lock()
		c.session = res.sess
		c.state = StateConnected
		c.mu.Unlock()
		c.reconnectAttempts.Store(0)
		c.touch()
		c.startHeartbeat()
		return nil
	}
}

// Disconnect stops the heartbeat and closes the underlying session.
func (c *Connection) Disconnect() {
	c.closeOnce.Do(func() {
		c.stopHeartbeat()
		c.mu.Lock()
		sess := c.session
		c.session = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		if sess != nil {
			if err := sess.ConnectClose(); err != nil {
				c.log.V(1).Info("error closing libvirt session", "error", err)
			}
		}
	})
}

// IsAlive probes the current session; it never returns an error for a
// heartbeat failure, only a bool, matching spec §4.1's "heartbeat failures
// do not propagate; they drive the state machine only".
func (c *Connection) IsAlive() bool {
	c.mu.RLock()
	sess := c.session
	state := c.state
	c.mu.RUnlock()
	if state != StateConnected || sess == nil {
		return false
	}
	return sess.IsConnected()
}

// GetSession returns the live session iff state == Connected, matching the
// invariant "only state=Connected exposes the underlying session".
func (c *Connection) GetSession() (Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected || c.session == nil {
		return nil, atperrors.New(atperrors.KindDisconnected, fmt.Sprintf("host %s is not connected", c.info.ID))
	}
	return c.session, nil
}

func (c *Connection) startHeartbeat() {
	c.heartbeatShutdown = make(chan struct{})
	c.heartbeatDone = make(chan struct{})
	shutdown := c.heartbeatShutdown
	done := c.heartbeatDone

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-shutdown:
				return
			case <-ticker.C:
				if c.State() != StateConnected {
					continue
				}
				if c.IsAlive() {
					c.touch()
					continue
				}
				c.setState(StateDisconnected)
				if c.cfg.AutoReconnect {
					go func() {
						_ = c.ReconnectWithBackoff(context.Background())
					}()
				}
				return
			}
		}
	}()
}

func (c *Connection) stopHeartbeat() {
	if c.heartbeatShutdown == nil {
		return
	}
	select {
	case <-c.heartbeatShutdown:
	default:
		close(c.heartbeatShutdown)
	}
	if c.heartbeatDone != nil {
		<-c.heartbeatDone
	}
}

// ReconnectWithBackoff retries Connect with delay =
// min(max_delay, initial_delay * multiplier^attempt). MaxAttempts == 0
// means retry forever; otherwise returns ConnectionFailed("超过最大重连次数")
// once exhausted, matching spec §4.1 literally. Concurrent callers for the
// same host (a heartbeat failure racing a manual reconnect request)
// collapse into a single in-flight attempt via singleflight.
func (c *Connection) ReconnectWithBackoff(ctx context.Context) error {
	_, err, _ := c.reconnect.Do(c.info.ID, func() (any, error) {
		return nil, c.reconnectLoop(ctx)
	})
	return err
}

func (c *Connection) reconnectLoop(ctx context.Context) error {
	attempt := 0
	for {
		if c.cfg.Reconnect.MaxAttempts > 0 && attempt >= c.cfg.Reconnect.MaxAttempts {
			c.totalErrors.Add(1)
			return atperrors.New(atperrors.KindConnectionFailed, "超过最大重连次数")
		}

		delay := time.Duration(float64(c.cfg.Reconnect.InitialDelay) * math.Pow(c.cfg.Reconnect.Multiplier, float64(attempt)))
		if delay > c.cfg.Reconnect.MaxDelay {
			delay = c.cfg.Reconnect.MaxDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		c.reconnectAttempts.Store(int32(attempt + 1))
		if err := c.Connect(ctx); err == nil {
			metrics.PoolReconnects.WithLabelValues(c.info.ID).Inc()
			return nil
		}
		c.totalErrors.Add(1)
		attempt++
	}
}

// Stats is a point-in-time snapshot for ConnectionPool.Stats / metrics.
type Stats struct {
	HostID            string
	State             State
	ActiveUse         int64
	TotalRequests     int64
	TotalErrors       int64
	ReconnectAttempts int32
	LastActive        time.Time
}

func (c *Connection) Snapshot() Stats {
	return Stats{
		HostID:            c.info.ID,
		State:             c.State(),
		ActiveUse:         c.activeUse.Load(),
		TotalRequests:     c.totalRequest.Load(),
		TotalErrors:       c.totalErrors.Load(),
		ReconnectAttempts: c.reconnectAttempts.Load(),
		LastActive:        c.LastActive(),
	}
}

var _ Session = (*libvirt.Libvirt)(nil)

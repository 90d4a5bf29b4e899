// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"time"

	"github.com/wooveep/atp-runner/internal/hostconn"
	"github.com/wooveep/atp-runner/internal/scenario"
)

// ExecResult is the outcome of a guest command run via QGA.
type ExecResult struct {
	ExitCode int64
	Stdout   []byte
	Stderr   []byte
}

// DomainSession is the per-VM protocol handle a scenario job drives
// through: keyboard/mouse injection (SPICE Inputs, per spec.md §4.9 —
// QMP input injection is excluded by spec.md's Non-goals, which limit
// QMP to guest-exec/set_password/expire_password) and guest command
// execution (QGA). SessionFactory is the executor's only dependency on
// how a session is actually opened (dialing SPICE, looking up the
// libvirt domain, etc.), the same interface-narrowing idiom
// hostconn.Dialer and guestcontrol.MonitorSession use elsewhere in this
// repo so the scheduling logic here can be tested without a live
// hypervisor.
type DomainSession interface {
	SendKeyDown(scancode uint32) error
	SendKeyUp(scancode uint32) error
	SendText(text string) error
	MouseClick(x, y int, button string) error
	ExecCommand(ctx context.Context, command string, args []string, pollInterval time.Duration) (ExecResult, error)
	Close() error
}

// SessionFactory opens a DomainSession for one domain on one host
// connection, configured per the scenario's InputChannelConfig.
type SessionFactory func(ctx context.Context, conn *hostconn.Connection, domainName string, channelCfg scenario.InputChannelConfig) (DomainSession, error)

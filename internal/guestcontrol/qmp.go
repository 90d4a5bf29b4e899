// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package guestcontrol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/digitalocean/go-libvirt"

	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// MonitorSession is the subset of *libvirt.Libvirt QMPClient depends on,
// narrowed to an interface so tests can substitute a fake (mirrors
// internal/hostconn.Session's approach to the same library).
type MonitorSession interface {
	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainQemuMonitorCommand(Dom libvirt.Domain, Cmd string, Flags libvirt.DomainQemuMonitorCommandFlags) (result string, err error)
}

var _ MonitorSession = (*libvirt.Libvirt)(nil)

// ExpirePolicy is the "time" argument to QMP's expire_password, one of
// now/never/+<seconds>/<unix-timestamp> per spec.md §4.9.
type ExpirePolicy string

const (
	ExpireNow   ExpirePolicy = "now"
	ExpireNever ExpirePolicy = "never"
)

// ExpireAfter builds a "+<seconds>" policy: the password expires that
// many seconds from now.
func ExpireAfter(seconds int) ExpirePolicy {
	return ExpirePolicy(fmt.Sprintf("+%d", seconds))
}

// ExpireAtUnix builds a "<unix-ts>" policy: the password expires at that
// absolute Unix timestamp.
func ExpireAtUnix(unixTS int64) ExpirePolicy {
	return ExpirePolicy(strconv.FormatInt(unixTS, 10))
}

type qmpRequest struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

type qmpError struct {
	Desc string `json:"desc"`
}

type qmpEnvelope struct {
	Return json.RawMessage `json:"return"`
	Error  *qmpError       `json:"error"`
}

// QMPClient drives the SPICE password lifecycle over libvirt's QMP
// monitor passthrough (DomainQemuMonitorCommand), independent of
// whatever libvirt session manages the domain's lifecycle elsewhere.
type QMPClient struct {
	session MonitorSession
}

// NewQMPClient wraps an already-connected libvirt session.
func NewQMPClient(session MonitorSession) *QMPClient {
	return &QMPClient{session: session}
}

// SetPassword issues QMP's set_password for the SPICE protocol.
func (c *QMPClient) SetPassword(domainName, password string) error {
	return c.execute(domainName, qmpRequest{
		Execute:   "set_password",
		Arguments: map[string]any{"protocol": "spice", "password": password},
	})
}

// ExpirePassword issues QMP's expire_password for the SPICE protocol.
func (c *QMPClient) ExpirePassword(domainName string, policy ExpirePolicy) error {
	return c.execute(domainName, qmpRequest{
		Execute:   "expire_password",
		Arguments: map[string]any{"protocol": "spice", "time": string(policy)},
	})
}

func (c *QMPClient) execute(domainName string, req qmpRequest) error {
	dom, err := c.session.DomainLookupByName(domainName)
	if err != nil {
		return atperrors.Wrap(atperrors.KindConnectionFailed, "lookup domain "+domainName, err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return atperrors.Wrap(atperrors.KindParseError, "encode qmp request", err)
	}

	result, err := c.session.DomainQemuMonitorCommand(dom, string(payload), 0)
	if err != nil {
		return atperrors.Wrap(atperrors.KindCommandFailed, "qmp "+req.Execute, err)
	}

	var envelope qmpEnvelope
	if err := json.Unmarshal([]byte(result), &envelope); err != nil {
		return atperrors.Wrap(atperrors.KindParseError, "decode qmp response", err)
	}
	if envelope.Error != nil {
		return atperrors.New(atperrors.KindCommandFailed, "qmp "+req.Execute+": "+envelope.Error.Desc)
	}
	return nil
}

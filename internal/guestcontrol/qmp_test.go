// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package guestcontrol

import (
	"encoding/json"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMonitorSession struct {
	domains   map[string]libvirt.Domain
	lookupErr error

	lastCmd string
	resp    string
	respErr error
}

func (f *fakeMonitorSession) DomainLookupByName(name string) (libvirt.Domain, error) {
	if f.lookupErr != nil {
		return libvirt.Domain{}, f.lookupErr
	}
	dom, ok := f.domains[name]
	if !ok {
		return libvirt.Domain{}, assert.AnError
	}
	return dom, nil
}

func (f *fakeMonitorSession) DomainQemuMonitorCommand(_ libvirt.Domain, cmd string, _ libvirt.DomainQemuMonitorCommandFlags) (string, error) {
	f.lastCmd = cmd
	if f.respErr != nil {
		return "", f.respErr
	}
	return f.resp, nil
}

func newFakeSession(domainName string) *fakeMonitorSession {
	return &fakeMonitorSession{
		domains: map[string]libvirt.Domain{domainName: {Name: domainName}},
		resp:    `{"return": {}}`,
	}
}

func TestSetPasswordSendsCorrectQMPCommand(t *testing.T) {
	sess := newFakeSession("vm-1")
	client := NewQMPClient(sess)

	require.NoError(t, client.SetPassword("vm-1", "s3cr3t"))

	var req qmpRequest
	require.NoError(t, json.Unmarshal([]byte(sess.lastCmd), &req))
	assert.Equal(t, "set_password", req.Execute)
	args := req.Arguments.(map[string]any)
	assert.Equal(t, "spice", args["protocol"])
	assert.Equal(t, "s3cr3t", args["password"])
}

func TestExpirePasswordPolicies(t *testing.T) {
	sess := newFakeSession("vm-1")
	client := NewQMPClient(sess)

	require.NoError(t, client.ExpirePassword("vm-1", ExpireNow))
	var req qmpRequest
	require.NoError(t, json.Unmarshal([]byte(sess.lastCmd), &req))
	assert.Equal(t, "now", req.Arguments.(map[string]any)["time"])

	require.NoError(t, client.ExpirePassword("vm-1", ExpireAfter(30)))
	require.NoError(t, json.Unmarshal([]byte(sess.lastCmd), &req))
	assert.Equal(t, "+30", req.Arguments.(map[string]any)["time"])

	require.NoError(t, client.ExpirePassword("vm-1", ExpireAtUnix(1700000000)))
	require.NoError(t, json.Unmarshal([]byte(sess.lastCmd), &req))
	assert.Equal(t, "1700000000", req.Arguments.(map[string]any)["time"])
}

func TestQMPErrorEnvelopeSurfacesAsError(t *testing.T) {
	sess := newFakeSession("vm-1")
	sess.resp = `{"error": {"desc": "domain not running"}}`
	client := NewQMPClient(sess)

	err := client.SetPassword("vm-1", "x")
	assert.Error(t, err)
}

func TestSetPasswordUnknownDomainErrors(t *testing.T) {
	sess := newFakeSession("vm-1")
	client := NewQMPClient(sess)

	err := client.SetPassword("does-not-exist", "x")
	assert.Error(t, err)
}

// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wooveep/atp-runner/internal/hostconn"
	"github.com/wooveep/atp-runner/internal/hostpool"
	"github.com/wooveep/atp-runner/internal/inventory"
	"github.com/wooveep/atp-runner/internal/scenario"
	"github.com/wooveep/atp-runner/internal/verification"
)

type fakeLibvirtSession struct{ alive atomic.Bool }

func (f *fakeLibvirtSession) IsConnected() bool   { return f.alive.Load() }
func (f *fakeLibvirtSession) ConnectClose() error { f.alive.Store(false); return nil }

func alwaysDial(context.Context, hostconn.HostInfo) (hostconn.Session, error) {
	s := &fakeLibvirtSession{}
	s.alive.Store(true)
	return s, nil
}

func testPool(t *testing.T) *hostpool.Pool {
	t.Helper()
	cfg := hostpool.DefaultConfig()
	cfg.ManagementInterval = time.Hour
	tcfg := hostconn.DefaultTransportConfig()
	tcfg.HeartbeatInterval = time.Hour
	p := hostpool.New(cfg, tcfg, alwaysDial, logr.Discard())
	t.Cleanup(p.Close)
	return p
}

type fakeInventory struct {
	hosts   []inventory.HostRecord
	domains []inventory.DomainRecord

	startedCalls []string
}

func (f *fakeInventory) ListHosts(context.Context) ([]inventory.HostRecord, error)     { return f.hosts, nil }
func (f *fakeInventory) ListDomains(context.Context) ([]inventory.DomainRecord, error) { return f.domains, nil }
func (f *fakeInventory) ListDeskPools(context.Context) ([]inventory.DeskPoolRecord, error) {
	return nil, nil
}
func (f *fakeInventory) DomainStatus(_ context.Context, domainID string) (inventory.DomainStatus, error) {
	return inventory.DomainStatusRunning, nil
}
func (f *fakeInventory) StartDomain(_ context.Context, domainID string) error {
	f.startedCalls = append(f.startedCalls, domainID)
	return nil
}
func (f *fakeInventory) ShutdownDomain(context.Context, string) error { return nil }
func (f *fakeInventory) RebootDomain(context.Context, string) error  { return nil }
func (f *fakeInventory) DeleteDomain(context.Context, string) error  { return nil }
func (f *fakeInventory) BindUser(context.Context, string, string) error { return nil }
func (f *fakeInventory) CreateDeskPool(context.Context, string) (inventory.DeskPoolRecord, error) {
	return inventory.DeskPoolRecord{}, nil
}
func (f *fakeInventory) EnableDeskPool(context.Context, string) error  { return nil }
func (f *fakeInventory) DisableDeskPool(context.Context, string) error { return nil }
func (f *fakeInventory) DeleteDeskPool(context.Context, string) error  { return nil }
func (f *fakeInventory) GetDeskPoolDomains(context.Context, string) ([]inventory.DomainRecord, error) {
	return nil, nil
}

type fakeSession struct {
	keysDown  []uint32
	texts     []string
	clicks    [][2]int
	execErr   error
	execResult ExecResult
}

func (s *fakeSession) SendKeyDown(code uint32) error { s.keysDown = append(s.keysDown, code); return nil }
func (s *fakeSession) SendKeyUp(code uint32) error   { return nil }
func (s *fakeSession) SendText(text string) error    { s.texts = append(s.texts, text); return nil }
func (s *fakeSession) MouseClick(x, y int, button string) error {
	s.clicks = append(s.clicks, [2]int{x, y})
	return nil
}
func (s *fakeSession) ExecCommand(context.Context, string, []string, time.Duration) (ExecResult, error) {
	return s.execResult, s.execErr
}
func (s *fakeSession) Close() error { return nil }

func singleDomainScenario(name string) *scenario.Scenario {
	return &scenario.Scenario{
		Name:         "test-scenario",
		TargetDomain: name,
		Steps: []scenario.ScenarioStep{
			{Name: "wait a bit", Action: scenario.Action{Type: scenario.ActionWait, DurationMs: 1}},
		},
	}
}

func TestResolveFailsWithNoTargetSelector(t *testing.T) {
	inv := &fakeInventory{}
	ex := New(DefaultConfig(), testPool(t), inv, nil, verification.NewService(verification.DefaultConfig(), logr.Discard()), nil, logr.Discard())

	sc := &scenario.Scenario{Name: "no-target"}
	_, err := ex.resolve(context.Background(), sc)
	assert.Error(t, err)
}

func TestRunScenarioSingleTargetWaitStepSucceeds(t *testing.T) {
	inv := &fakeInventory{
		domains: []inventory.DomainRecord{{ID: "d1", Name: "vm-1", HostID: "h1"}},
	}
	pool := testPool(t)
	require.NoError(t, pool.AddHost(context.Background(), hostconn.HostInfo{ID: "h1"}))

	factory := func(context.Context, *hostconn.Connection, string, scenario.InputChannelConfig) (DomainSession, error) {
		return &fakeSession{}, nil
	}

	ex := New(DefaultConfig(), pool, inv, nil, verification.NewService(verification.DefaultConfig(), logr.Discard()), factory, logr.Discard())

	report, err := ex.RunScenario(context.Background(), singleDomainScenario("vm-1"))
	require.NoError(t, err)

	single, ok := report.Single()
	require.True(t, ok)
	assert.Equal(t, "vm-1", single.Target)
	assert.Equal(t, 1, single.PassedCount)
	assert.Equal(t, 0, single.FailedCount)
}

func TestRunScenarioStepFailureSkipsRemainingSteps(t *testing.T) {
	inv := &fakeInventory{
		domains: []inventory.DomainRecord{{ID: "d1", Name: "vm-1", HostID: "h1"}},
	}
	pool := testPool(t)
	require.NoError(t, pool.AddHost(context.Background(), hostconn.HostInfo{ID: "h1"}))

	factory := func(context.Context, *hostconn.Connection, string, scenario.InputChannelConfig) (DomainSession, error) {
		return &fakeSession{execErr: assertError{}}, nil
	}

	ex := New(DefaultConfig(), pool, inv, nil, verification.NewService(verification.DefaultConfig(), logr.Discard()), factory, logr.Discard())

	sc := &scenario.Scenario{
		Name:         "fail-then-skip",
		TargetDomain: "vm-1",
		Steps: []scenario.ScenarioStep{
			{Name: "exec", Action: scenario.Action{Type: scenario.ActionExecCommand, Command: "false"}},
			{Name: "never runs", Action: scenario.Action{Type: scenario.ActionWait, DurationMs: 1}},
		},
	}

	report, err := ex.RunScenario(context.Background(), sc)
	require.NoError(t, err)
	single, ok := report.Single()
	require.True(t, ok)

	require.Len(t, single.Steps, 2)
	assert.Equal(t, StepFailed, single.Steps[0].Status)
	assert.Equal(t, StepSkipped, single.Steps[1].Status)
	assert.Equal(t, 1, single.FailedCount)
}

func TestRunScenarioMultiTargetVdiStartDomainCallsInventory(t *testing.T) {
	inv := &fakeInventory{
		domains: []inventory.DomainRecord{
			{ID: "d1", Name: "vm-1", HostID: "h1"},
			{ID: "d2", Name: "vm-2", HostID: "h1"},
		},
	}
	pool := testPool(t)
	require.NoError(t, pool.AddHost(context.Background(), hostconn.HostInfo{ID: "h1"}))

	factory := func(context.Context, *hostconn.Connection, string, scenario.InputChannelConfig) (DomainSession, error) {
		return &fakeSession{}, nil
	}

	ex := New(DefaultConfig(), pool, inv, nil, verification.NewService(verification.DefaultConfig(), logr.Discard()), factory, logr.Discard())

	sc := &scenario.Scenario{
		Name:          "multi",
		TargetDomains: scenario.NewAdvancedTarget(scenario.TargetSelectorConfig{Mode: scenario.TargetModeAll}),
		Steps: []scenario.ScenarioStep{
			{Name: "start", Action: scenario.Action{Type: scenario.ActionVdiStartDomain, DomainID: "shared-id"}},
		},
	}

	report, err := ex.RunScenario(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, report.Targets, 2)
	assert.Equal(t, "vm-1", report.Targets[0].Target)
	assert.Equal(t, "vm-2", report.Targets[1].Target)
	assert.Len(t, inv.startedCalls, 2)
}

type assertError struct{}

func (assertError) Error() string { return "exec failed" }

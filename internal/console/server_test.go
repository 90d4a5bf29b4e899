// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wooveep/atp-runner/internal/executor"
	"github.com/wooveep/atp-runner/internal/healthcheck"
	"github.com/wooveep/atp-runner/internal/hostconn"
	"github.com/wooveep/atp-runner/internal/hostpool"
	"github.com/wooveep/atp-runner/internal/inventory"
	"github.com/wooveep/atp-runner/internal/scenario"
	"github.com/wooveep/atp-runner/internal/verification"
)

type fakeInventory struct{}

func (fakeInventory) ListHosts(context.Context) ([]inventory.HostRecord, error) { return nil, nil }
func (fakeInventory) ListDomains(context.Context) ([]inventory.DomainRecord, error) {
	return []inventory.DomainRecord{{ID: "d1", Name: "vm-1", HostID: "h1"}}, nil
}
func (fakeInventory) ListDeskPools(context.Context) ([]inventory.DeskPoolRecord, error) {
	return nil, nil
}
func (fakeInventory) DomainStatus(context.Context, string) (inventory.DomainStatus, error) {
	return inventory.DomainStatusRunning, nil
}
func (fakeInventory) StartDomain(context.Context, string) error    { return nil }
func (fakeInventory) ShutdownDomain(context.Context, string) error { return nil }
func (fakeInventory) RebootDomain(context.Context, string) error   { return nil }
func (fakeInventory) DeleteDomain(context.Context, string) error   { return nil }
func (fakeInventory) BindUser(context.Context, string, string) error { return nil }
func (fakeInventory) CreateDeskPool(context.Context, string) (inventory.DeskPoolRecord, error) {
	return inventory.DeskPoolRecord{}, nil
}
func (fakeInventory) EnableDeskPool(context.Context, string) error  { return nil }
func (fakeInventory) DisableDeskPool(context.Context, string) error { return nil }
func (fakeInventory) DeleteDeskPool(context.Context, string) error  { return nil }
func (fakeInventory) GetDeskPoolDomains(context.Context, string) ([]inventory.DomainRecord, error) {
	return nil, nil
}

type fakeSession struct{}

func (fakeSession) SendKeyDown(uint32) error { return nil }
func (fakeSession) SendKeyUp(uint32) error   { return nil }
func (fakeSession) SendText(string) error    { return nil }
func (fakeSession) MouseClick(int, int, string) error { return nil }
func (fakeSession) ExecCommand(context.Context, string, []string, time.Duration) (executor.ExecResult, error) {
	return executor.ExecResult{}, nil
}
func (fakeSession) Close() error { return nil }

func alwaysDial(context.Context, hostconn.HostInfo) (hostconn.Session, error) {
	return fakeDialSession{}, nil
}

type fakeDialSession struct{}

func (fakeDialSession) IsConnected() bool   { return true }
func (fakeDialSession) ConnectClose() error { return nil }

func testHandler(t *testing.T) http.Handler {
	t.Helper()

	cfg := hostpool.DefaultConfig()
	cfg.ManagementInterval = time.Hour
	tcfg := hostconn.DefaultTransportConfig()
	tcfg.HeartbeatInterval = time.Hour
	pool := hostpool.New(cfg, tcfg, alwaysDial, logr.Discard())
	t.Cleanup(pool.Close)
	require.NoError(t, pool.AddHost(context.Background(), hostconn.HostInfo{ID: "h1"}))

	factory := func(context.Context, *hostconn.Connection, string, scenario.InputChannelConfig) (executor.DomainSession, error) {
		return fakeSession{}, nil
	}

	ex := executor.New(executor.DefaultConfig(), pool, fakeInventory{}, nil, verification.NewService(verification.DefaultConfig(), logr.Discard()), factory, logr.Discard())
	health := healthcheck.HealthCheck{Pool: pool, Log: logr.Discard()}

	return NewHandler(ex, health, HandlerOptions{Log: logr.Discard()})
}

func TestHealthzReportsOKWithConnectedPool(t *testing.T) {
	handler := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunScenarioAndFetchReport(t *testing.T) {
	handler := testHandler(t)

	body := []byte(`
name: smoke-test
target_domain: vm-1
steps:
  - name: wait a bit
    action:
      type: wait
      duration_ms: 1
`)
	req := httptest.NewRequest(http.MethodPost, "/scenarios/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var runResp runScenarioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runResp))
	require.NotEmpty(t, runResp.RunID)
	require.NotNil(t, runResp.Report)
	single, ok := runResp.Report.Single()
	require.True(t, ok)
	assert.Equal(t, "vm-1", single.Target)
	assert.Equal(t, 1, single.PassedCount)

	getReq := httptest.NewRequest(http.MethodGet, "/scenarios/"+runResp.RunID+"/report", nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var fetched executor.MultiTargetReport
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &fetched))
	fetchedSingle, ok := fetched.Single()
	require.True(t, ok)
	assert.Equal(t, "vm-1", fetchedSingle.Target)
}

func TestGetReportUnknownIDIsNotFound(t *testing.T) {
	handler := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/scenarios/does-not-exist/report", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunScenarioRejectsMalformedBody(t *testing.T) {
	handler := testHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/scenarios/run", bytes.NewReader([]byte("not: [valid yaml")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

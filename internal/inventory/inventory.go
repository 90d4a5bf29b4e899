// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package inventory declares the collaborator interfaces the Scenario
// Executor resolves targets and issues VDI lifecycle RPCs through. The
// VDI REST facade and its SQLite-backed cache implementation are out of
// scope (spec.md Non-goals); only the typed contract the executor
// depends on lives here, per spec.md §9's "duck-typed JSON inventory
// responses" design note: push JSON parsing to this boundary instead of
// letting callers unmarshal ad hoc maps.
package inventory

import (
	"context"
	"time"
)

// DomainStatus is the symbolic VM power/lifecycle state InventoryClient
// reports, matched against a scenario's VerifyDomainStatus.ExpectedStatus.
type DomainStatus string

const (
	DomainStatusRunning     DomainStatus = "running"
	DomainStatusStopped     DomainStatus = "stopped"
	DomainStatusPaused      DomainStatus = "paused"
	DomainStatusShuttingDown DomainStatus = "shutting_down"
	DomainStatusRebooting   DomainStatus = "rebooting"
	DomainStatusUnknown     DomainStatus = "unknown"
)

// HostRecord is one inventory host entry, mirroring spec.md §3's HostInfo
// shape as consumed by the executor's selector filtering.
type HostRecord struct {
	ID       string
	Name     string
	URI      string
	Tags     []string
	Metadata map[string]string
}

// DomainRecord is one inventory VM/domain entry.
type DomainRecord struct {
	ID       string
	Name     string
	HostID   string
	Status   DomainStatus
	PoolID   string
	Metadata map[string]string
}

// DeskPoolRecord is one VDI desktop-pool entry.
type DeskPoolRecord struct {
	ID      string
	Name    string
	Enabled bool
}

// Client issues the VDI lifecycle RPCs the Scenario Executor's Vdi*
// actions dispatch through. A 2xx/OK response from the underlying REST
// facade (out of scope here) is success; any other outcome is returned
// as an error.
type Client interface {
	ListHosts(ctx context.Context) ([]HostRecord, error)
	ListDomains(ctx context.Context) ([]DomainRecord, error)
	ListDeskPools(ctx context.Context) ([]DeskPoolRecord, error)

	DomainStatus(ctx context.Context, domainID string) (DomainStatus, error)

	StartDomain(ctx context.Context, domainID string) error
	ShutdownDomain(ctx context.Context, domainID string) error
	RebootDomain(ctx context.Context, domainID string) error
	DeleteDomain(ctx context.Context, domainID string) error

	BindUser(ctx context.Context, domainID, userID string) error

	CreateDeskPool(ctx context.Context, name string) (DeskPoolRecord, error)
	EnableDeskPool(ctx context.Context, poolID string) error
	DisableDeskPool(ctx context.Context, poolID string) error
	DeleteDeskPool(ctx context.Context, poolID string) error
	GetDeskPoolDomains(ctx context.Context, poolID string) ([]DomainRecord, error)
}

// Cache is the SQLite-backed local inventory cache's read contract
// (spec.md Non-goals exclude the SQLite-backed implementation itself,
// not this collaborator interface). UpsertHosts/UpsertDomains refresh
// the cache; Valid reports whether the cached data is still within its
// TTL.
type Cache interface {
	Hosts(ctx context.Context) ([]HostRecord, error)
	Domains(ctx context.Context) ([]DomainRecord, error)

	UpsertHosts(ctx context.Context, hosts []HostRecord) error
	UpsertDomains(ctx context.Context, domains []DomainRecord) error

	Valid(ttl time.Duration) bool
}

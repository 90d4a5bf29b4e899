// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/wooveep/atp-runner/internal/hostpool"
	"github.com/wooveep/atp-runner/internal/inventory"
	"github.com/wooveep/atp-runner/internal/metrics"
	"github.com/wooveep/atp-runner/internal/scenario"
	"github.com/wooveep/atp-runner/internal/verification"
	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// Executor resolves scenarios against live inventory and runs them.
// Grounded on spec.md §4.9's resolution/expansion/execution/aggregation
// prose; there is no runner.rs in original_source/ to port directly.
type Executor struct {
	cfg        Config
	pool       *hostpool.Pool
	inv        inventory.Client
	cache      inventory.Cache
	verifier   *verification.Service
	newSession SessionFactory
	log        logr.Logger
}

// New builds an Executor. cache may be nil (always hits inv directly).
func New(cfg Config, pool *hostpool.Pool, inv inventory.Client, cache inventory.Cache, verifier *verification.Service, newSession SessionFactory, log logr.Logger) *Executor {
	return &Executor{
		cfg:        cfg,
		pool:       pool,
		inv:        inv,
		cache:      cache,
		verifier:   verifier,
		newSession: newSession,
		log:        log.WithName("executor"),
	}
}

func (e *Executor) loadInventory(ctx context.Context) ([]inventory.HostRecord, []inventory.DomainRecord, error) {
	if e.cache != nil && e.cache.Valid(e.cfg.CacheTTL) {
		hosts, err := e.cache.Hosts(ctx)
		if err != nil {
			return nil, nil, err
		}
		domains, err := e.cache.Domains(ctx)
		if err != nil {
			return nil, nil, err
		}
		return hosts, domains, nil
	}

	hosts, err := e.inv.ListHosts(ctx)
	if err != nil {
		return nil, nil, err
	}
	domains, err := e.inv.ListDomains(ctx)
	if err != nil {
		return nil, nil, err
	}
	if e.cache != nil {
		_ = e.cache.UpsertHosts(ctx, hosts)
		_ = e.cache.UpsertDomains(ctx, domains)
	}
	return hosts, domains, nil
}

// resolvedJob is one domain this run will execute the scenario's steps
// against.
type resolvedJob struct {
	domain inventory.DomainRecord
}

// resolve implements spec.md §4.9's Resolution + Expansion steps.
func (e *Executor) resolve(ctx context.Context, sc *scenario.Scenario) ([]resolvedJob, error) {
	if sc.TargetDomain == "" && sc.TargetDomains == nil {
		return nil, atperrors.New(atperrors.KindConfigError, "scenario names no target VMs")
	}

	hostRecords, domainRecords, err := e.loadInventory(ctx)
	if err != nil {
		return nil, err
	}

	hostNames := make([]string, len(hostRecords))
	hostsByName := make(map[string]inventory.HostRecord, len(hostRecords))
	for i, h := range hostRecords {
		hostNames[i] = h.Name
		hostsByName[h.Name] = h
	}
	hostsSelected, err := sc.FilterHosts(hostNames)
	if err != nil {
		return nil, atperrors.Wrap(atperrors.KindConfigError, "filter hosts", err)
	}
	hostSelectedSet := make(map[string]bool, len(hostsSelected))
	for _, h := range hostsSelected {
		hostSelectedSet[hostsByName[h].ID] = true
	}

	domainNames := make([]string, len(domainRecords))
	domainsByName := make(map[string]inventory.DomainRecord, len(domainRecords))
	for i, d := range domainRecords {
		domainNames[i] = d.Name
		domainsByName[d.Name] = d
	}
	domainsSelected, err := sc.FilterTargets(domainNames)
	if err != nil {
		return nil, atperrors.Wrap(atperrors.KindConfigError, "filter targets", err)
	}

	jobs := make([]resolvedJob, 0, len(domainsSelected))
	for _, name := range domainsSelected {
		d := domainsByName[name]
		if d.HostID != "" && len(hostSelectedSet) > 0 && !hostSelectedSet[d.HostID] {
			continue
		}
		jobs = append(jobs, resolvedJob{domain: d})
	}
	return jobs, nil
}

// RunScenario resolves, expands, and executes sc, returning one
// ExecutionReport per matched domain wrapped in a MultiTargetReport
// (even for a single-target run, per spec.md's Expansion rules).
func (e *Executor) RunScenario(ctx context.Context, sc *scenario.Scenario) (*MultiTargetReport, error) {
	start := time.Now()
	defer func() {
		metrics.ExecutorScenarioDuration.WithLabelValues(sc.Name).Observe(time.Since(start).Seconds())
	}()

	jobs, err := e.resolve(ctx, sc)
	if err != nil {
		return nil, err
	}

	maxConcurrent := 1
	if sc.Parallel.Enabled && sc.Parallel.MaxConcurrent > 1 {
		maxConcurrent = sc.Parallel.MaxConcurrent
	}

	reports := e.runJobs(ctx, sc, jobs, maxConcurrent)

	sort.Slice(reports, func(i, j int) bool { return reports[i].Target < reports[j].Target })
	return &MultiTargetReport{Targets: reports}, nil
}

func (e *Executor) runJobs(ctx context.Context, sc *scenario.Scenario, jobs []resolvedJob, maxConcurrent int) []ExecutionReport {
	if maxConcurrent <= 1 {
		return e.runSequential(ctx, sc, jobs)
	}
	return e.runParallel(ctx, sc, jobs, maxConcurrent)
}

func (e *Executor) runSequential(ctx context.Context, sc *scenario.Scenario, jobs []resolvedJob) []ExecutionReport {
	reports := make([]ExecutionReport, 0, len(jobs))
	failed := false
	for _, job := range jobs {
		if sc.Parallel.OnFailure == scenario.FailureFastFail && failed {
			break
		}
		if sc.Parallel.OnFailure == scenario.FailureStopAll && failed {
			break
		}
		report := e.runJob(ctx, sc, job)
		if report.FailedCount > 0 {
			failed = true
		}
		reports = append(reports, report)
	}
	return reports
}

// runParallel runs jobs on a bounded worker pool. All jobs start
// immediately up to maxConcurrent in flight (spec.md S5: "no new jobs
// would be started" under FailFast is moot once every job has already
// begun); StopAll cancels ctx so in-flight jobs stop at their next
// between-step checkpoint, FailFast only suppresses jobs not yet
// dequeued from the channel.
func (e *Executor) runParallel(ctx context.Context, sc *scenario.Scenario, jobs []resolvedJob, maxConcurrent int) []ExecutionReport {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobCh := make(chan resolvedJob, len(jobs))
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)

	var (
		mu       sync.Mutex
		reports  = make([]ExecutionReport, 0, len(jobs))
		anyFail  bool
	)

	var wg sync.WaitGroup
	workers := maxConcurrent
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if sc.Parallel.OnFailure == scenario.FailureFastFail {
					mu.Lock()
					skip := anyFail
					mu.Unlock()
					if skip {
						continue
					}
				}

				report := e.runJob(runCtx, sc, job)

				mu.Lock()
				reports = append(reports, report)
				if report.FailedCount > 0 {
					anyFail = true
					if sc.Parallel.OnFailure == scenario.FailureStopAll {
						cancel()
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return reports
}

func (e *Executor) runJob(ctx context.Context, sc *scenario.Scenario, job resolvedJob) ExecutionReport {
	start := time.Now()
	report := ExecutionReport{
		ScenarioName: sc.Name,
		Description:  sc.Description,
		Target:       job.domain.Name,
	}

	conn, err := e.pool.Get(job.domain.HostID)
	if err != nil {
		report.Steps = []StepReport{{StepIndex: 0, Description: "acquire host connection", Status: StepFailed, Error: err.Error()}}
		report.StepsExecuted, report.FailedCount = 1, 1
		report.DurationMs = time.Since(start).Milliseconds()
		return report
	}

	session, err := e.newSession(ctx, conn, job.domain.Name, sc.InputChannel)
	if err != nil {
		report.Steps = []StepReport{{StepIndex: 0, Description: "open domain session", Status: StepFailed, Error: err.Error()}}
		report.StepsExecuted, report.FailedCount = 1, 1
		report.DurationMs = time.Since(start).Milliseconds()
		return report
	}
	defer session.Close()

	aborted := false
	for i, step := range sc.Steps {
		if aborted || ctx.Err() != nil {
			report.Steps = append(report.Steps, StepReport{StepIndex: i, Description: stepDescription(step), Status: StepSkipped})
			continue
		}

		sr := e.runStep(ctx, job.domain.Name, session, i, step)
		report.Steps = append(report.Steps, sr)
		report.StepsExecuted++
		switch sr.Status {
		case StepSuccess:
			report.PassedCount++
		case StepFailed:
			report.FailedCount++
			aborted = true
		}
	}

	report.DurationMs = time.Since(start).Milliseconds()
	return report
}

func stepDescription(step scenario.ScenarioStep) string {
	if step.Name != "" {
		return step.Name
	}
	return string(step.Action.Type)
}

func (e *Executor) stepTimeout(step scenario.ScenarioStep) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return e.cfg.DefaultStepTimeout
}

// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"time"

	"github.com/wooveep/atp-runner/internal/metrics"
	"github.com/wooveep/atp-runner/internal/scenario"
	"github.com/wooveep/atp-runner/internal/verification"
	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// runStep dispatches one ScenarioStep per spec.md §4.9's per-step
// semantics and times it into a StepReport.
func (e *Executor) runStep(ctx context.Context, vmID string, session DomainSession, index int, step scenario.ScenarioStep) StepReport {
	start := time.Now()
	report := StepReport{StepIndex: index, Description: stepDescription(step)}

	timeout := e.stepTimeout(step)
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	var output string

	switch step.Action.Type {
	case scenario.ActionWait:
		err = e.doWait(stepCtx, step.Action)
	case scenario.ActionSendKey:
		err = e.doSendKey(stepCtx, vmID, session, step)
	case scenario.ActionSendText:
		err = e.doSendText(stepCtx, vmID, session, step)
	case scenario.ActionMouseClick:
		err = e.doMouseClick(stepCtx, vmID, session, step)
	case scenario.ActionExecCommand:
		output, err = e.doExecCommand(stepCtx, session, step)
	case scenario.ActionVdiStartDomain:
		err = e.inv.StartDomain(stepCtx, step.Action.DomainID)
	case scenario.ActionVdiShutdownDomain:
		err = e.inv.ShutdownDomain(stepCtx, step.Action.DomainID)
	case scenario.ActionVdiRebootDomain:
		err = e.inv.RebootDomain(stepCtx, step.Action.DomainID)
	case scenario.ActionVdiDeleteDomain:
		err = e.inv.DeleteDomain(stepCtx, step.Action.DomainID)
	case scenario.ActionVdiBindUser:
		err = e.inv.BindUser(stepCtx, step.Action.DomainID, step.Action.UserID)
	case scenario.ActionVdiCreateDeskPool:
		_, err = e.inv.CreateDeskPool(stepCtx, step.Action.DeskPoolID)
	case scenario.ActionVdiEnableDeskPool:
		err = e.inv.EnableDeskPool(stepCtx, step.Action.DeskPoolID)
	case scenario.ActionVdiDisableDeskPool:
		err = e.inv.DisableDeskPool(stepCtx, step.Action.DeskPoolID)
	case scenario.ActionVdiDeleteDeskPool:
		err = e.inv.DeleteDeskPool(stepCtx, step.Action.DeskPoolID)
	case scenario.ActionVdiGetDeskPoolDomains:
		_, err = e.inv.GetDeskPoolDomains(stepCtx, step.Action.DeskPoolID)
	case scenario.ActionVerifyDomainStatus:
		err = e.doVerifyDomainStatus(stepCtx, step)
	case scenario.ActionVerifyAllDomainsRunning:
		err = e.doVerifyAllDomainsRunning(stepCtx, step)
	case scenario.ActionVerifyCommandSuccess:
		// A sibling of ExecCommand that only checks exit code; without a
		// preceding ExecCommand in the same step there is nothing to
		// verify, so this always reports a configuration error.
		err = atperrors.New(atperrors.KindConfigError, "verify_command_success must follow an exec_command step")
	case scenario.ActionCustom:
		// Custom actions have no built-in handler; scenarios using them
		// are expected to be driven by a caller-supplied extension,
		// which this executor does not provide a hook for.
		err = atperrors.New(atperrors.KindConfigError, "custom action \""+step.Action.Name+"\" has no registered handler")
	default:
		err = atperrors.New(atperrors.KindConfigError, "unknown action type \""+string(step.Action.Type)+"\"")
	}

	elapsed := time.Since(start)
	report.DurationMs = elapsed.Milliseconds()
	metrics.ExecutorStepDuration.WithLabelValues(string(step.Action.Type)).Observe(elapsed.Seconds())

	if err != nil {
		report.Status = StepFailed
		report.Error = err.Error()
		metrics.ExecutorStepsTotal.WithLabelValues(string(step.Action.Type), string(StepFailed)).Inc()
		return report
	}
	report.Status = StepSuccess
	report.Output = output
	metrics.ExecutorStepsTotal.WithLabelValues(string(step.Action.Type), string(StepSuccess)).Inc()
	return report
}

func (e *Executor) doWait(ctx context.Context, action scenario.Action) error {
	timer := time.NewTimer(time.Duration(action.DurationMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// verifyStep optionally registers an expectation before dispatching an
// input action, per spec.md §4.9: "register ExpectInput with the
// Verification Service first, then inject, then await the verdict."
func (e *Executor) verifyStep(ctx context.Context, vmID string, step scenario.ScenarioStep, eventType verification.EventType, expectedName string, expectedValue *int32, inject func() error) error {
	if !step.Verify {
		return inject()
	}

	timeout := e.stepTimeout(step)

	// Register before injecting, per spec.md §4.9/§5: the expectation
	// must already be in the FIFO by the time the input lands, or a fast
	// loopback round-trip could deliver the event before ExpectInput
	// ever subscribes to it.
	expected := e.verifier.RegisterExpectation(vmID, eventType, expectedName, expectedValue, timeout)

	resultCh := make(chan verification.VerifyResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := e.verifier.AwaitExpectation(ctx, expected)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	if err := inject(); err != nil {
		return err
	}

	select {
	case result := <-resultCh:
		if !result.Verified {
			return atperrors.New(atperrors.KindStepExecutionFailed, "verification reported unverified")
		}
		return nil
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) doSendKey(ctx context.Context, vmID string, session DomainSession, step scenario.ScenarioStep) error {
	key := step.Action.Key
	if code, ok := resolveScancode(key); ok {
		v := int32(1)
		return e.verifyStep(ctx, vmID, step, verification.EventKeyboard, key, &v, func() error {
			if err := session.SendKeyDown(code); err != nil {
				return err
			}
			return session.SendKeyUp(code)
		})
	}
	v := int32(1)
	return e.verifyStep(ctx, vmID, step, verification.EventKeyboard, key, &v, func() error {
		return session.SendText(key)
	})
}

func (e *Executor) doSendText(ctx context.Context, vmID string, session DomainSession, step scenario.ScenarioStep) error {
	return e.verifyStep(ctx, vmID, step, verification.EventKeyboard, step.Action.Text, nil, func() error {
		return session.SendText(step.Action.Text)
	})
}

func (e *Executor) doMouseClick(ctx context.Context, vmID string, session DomainSession, step scenario.ScenarioStep) error {
	return e.verifyStep(ctx, vmID, step, verification.EventMouse, step.Action.Button, nil, func() error {
		return session.MouseClick(step.Action.X, step.Action.Y, step.Action.Button)
	})
}

func (e *Executor) doExecCommand(ctx context.Context, session DomainSession, step scenario.ScenarioStep) (string, error) {
	result, err := session.ExecCommand(ctx, step.Action.Command, step.Action.Args, e.cfg.ExecCommandPollInterval)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return string(result.Stdout), atperrors.New(atperrors.KindStepExecutionFailed, "command exited non-zero")
	}
	return string(result.Stdout), nil
}

func (e *Executor) doVerifyDomainStatus(ctx context.Context, step scenario.ScenarioStep) error {
	timeout := e.cfg.VerifyDomainStatusDefaultTimeout
	if step.Timeout > 0 {
		timeout = step.Timeout
	}
	deadline := time.Now().Add(timeout)
	for {
		status, err := e.inv.DomainStatus(ctx, step.Action.DomainID)
		if err == nil && string(status) == step.Action.ExpectedStatus {
			return nil
		}
		if time.Now().After(deadline) {
			return atperrors.New(atperrors.KindStepExecutionFailed, "domain status did not reach "+step.Action.ExpectedStatus+" before timeout")
		}
		select {
		case <-time.After(e.cfg.VerifyDomainStatusPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) doVerifyAllDomainsRunning(ctx context.Context, step scenario.ScenarioStep) error {
	timeout := e.cfg.VerifyDomainStatusDefaultTimeout
	if step.Timeout > 0 {
		timeout = step.Timeout
	}
	deadline := time.Now().Add(timeout)
	for {
		domains, err := e.inv.GetDeskPoolDomains(ctx, step.Action.DeskPoolID)
		if err == nil {
			allRunning := true
			for _, d := range domains {
				if d.Status != "running" {
					allRunning = false
					break
				}
			}
			if allRunning {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return atperrors.New(atperrors.KindStepExecutionFailed, "not all domains in pool reached running before timeout")
		}
		select {
		case <-time.After(e.cfg.VerifyDomainStatusPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

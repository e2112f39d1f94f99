// Package executor implements the bounded-concurrency scheduler that runs a
// compiled action.Plan: dispatches actions from a ready-queue up to a
// configurable worker limit, polls hosts back to reachability after a
// reboot, and aggregates partial failures into a single
// yadterr.ActionException. A single-action failure never cancels peers;
// it is recorded and the queue keeps draining.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/shepherd/pkg/action"
	"github.com/cuemby/shepherd/pkg/broadcast"
	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/log"
	"github.com/cuemby/shepherd/pkg/metrics"
	"github.com/cuemby/shepherd/pkg/remoteproc"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// SSHPollDelayDefault is the interval between reboot-poll uptime probes.
const SSHPollDelayDefault = 5 * time.Second

// ProbeAttempts is how many times an idempotent host probe is tried
// before its action is recorded as failed.
const ProbeAttempts = 3

// ProbeRetryDelayDefault is the spacing between probe attempts.
const ProbeRetryDelayDefault = time.Second

// PendingReportInterval is how often the executor logs the count of
// actions still in flight or queued.
const PendingReportInterval = 10 * time.Second

// Executor runs a compiled plan against a fixed registry snapshot.
type Executor struct {
	Registry        *component.Registry
	Spawner         remoteproc.Spawner
	Broadcast       broadcast.Client
	Concurrency     int
	SSHPollDelay    time.Duration
	ProbeRetryDelay time.Duration
}

func New(registry *component.Registry, spawner remoteproc.Spawner, bc broadcast.Client, concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Executor{
		Registry:        registry,
		Spawner:         spawner,
		Broadcast:       bc,
		Concurrency:     concurrency,
		SSHPollDelay:    SSHPollDelayDefault,
		ProbeRetryDelay: ProbeRetryDelayDefault,
	}
}

type outcome struct {
	key     string
	err     error
}

// Run executes p to completion. It returns nil on full success, or a
// *yadterr.ActionException naming how many actions failed. Cancelling ctx
// stops dispatch of not-yet-started actions; actions already spawned run to
// completion and their outcomes are still recorded.
func (e *Executor) Run(ctx context.Context, p action.Plan) error {
	failed := 0

	for _, sp := range p.SubPlans {
		n, err := e.runSubPlan(ctx, sp)
		failed += n
		if err != nil {
			return err
		}
	}

	if failed > 0 {
		return yadterr.NewActionException(failed)
	}
	return nil
}

// runSubPlan dispatches sp's actions respecting per-action Preconditions
// (dependency-score-derived ordering within the sub-plan) and the
// executor's concurrency cap, returning the number of actions that failed.
func (e *Executor) runSubPlan(ctx context.Context, sp action.SubPlan) (int, error) {
	logger := log.WithComponent("executor")

	results := map[string]error{}
	var mu sync.Mutex
	done := make(chan outcome, len(sp.Actions))
	dispatched := map[string]bool{}

	sem := make(chan struct{}, e.Concurrency)
	var wg sync.WaitGroup

	remaining := len(sp.Actions)
	metrics.PendingActions.Add(float64(remaining))
	reportTicker := time.NewTicker(PendingReportInterval)
	defer reportTicker.Stop()

	ready := func() (runnable, blocked []action.Action) {
		mu.Lock()
		defer mu.Unlock()
		for _, a := range sp.Actions {
			if dispatched[a.Key()] {
				continue
			}
			met, failed := preconditionState(a, results)
			if !met {
				continue
			}
			dispatched[a.Key()] = true
			if failed != "" {
				blocked = append(blocked, a)
				continue
			}
			runnable = append(runnable, a)
		}
		return runnable, blocked
	}

	dispatchBatch := func() {
		runnable, blocked := ready()
		for _, a := range blocked {
			err := yadterr.New(yadterr.RemoteFailure, fmt.Sprintf("%s skipped, a preceding action it depends on failed", a.Key()))
			mu.Lock()
			results[a.Key()] = err
			mu.Unlock()
			done <- outcome{key: a.Key(), err: err}
		}
		for _, a := range runnable {
			a := a
			select {
			case <-ctx.Done():
				mu.Lock()
				results[a.Key()] = ctx.Err()
				mu.Unlock()
				done <- outcome{key: a.Key(), err: ctx.Err()}
				continue
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				err := e.runAction(ctx, a)
				done <- outcome{key: a.Key(), err: err}
			}()
		}
	}

	dispatchBatch()
	failed := 0
	for remaining > 0 {
		select {
		case o := <-done:
			mu.Lock()
			results[o.key] = o.err
			mu.Unlock()
			if o.err != nil {
				failed++
				logger.Error().Str("action", o.key).Err(o.err).Msg("action failed")
			}
			remaining--
			metrics.PendingActions.Sub(1)
			dispatchBatch()
		case <-reportTicker.C:
			logger.Info().Int("remaining", remaining).Msg("actions pending")
		}
	}
	wg.Wait()
	return failed, nil
}

// preconditionState reports whether every precondition of a has settled,
// and if so, the key of the first one that failed (empty when all
// succeeded).
func preconditionState(a action.Action, results map[string]error) (met bool, failed string) {
	for _, key := range a.Preconditions {
		err, done := results[key]
		if !done {
			return false, ""
		}
		if err != nil && failed == "" {
			failed = key
		}
	}
	return true, failed
}

// runAction dispatches a single action, handling the component-kind and
// verb-specific rules: IgnoredHost/ReadonlyService short-circuits, reboot
// exit-code handling, and the SSH poll.
func (e *Executor) runAction(ctx context.Context, a action.Action) error {
	defer metrics.Time(metrics.ActionDuration.WithLabelValues(string(a.Verb)))()

	err := e.dispatchAction(ctx, a)
	if err != nil {
		metrics.ActionsFailedTotal.WithLabelValues(string(a.Verb)).Inc()
	} else {
		metrics.ActionsSucceededTotal.WithLabelValues(string(a.Verb)).Inc()
	}
	return err
}

// dispatchAction holds the actual verb/kind dispatch runAction wraps with
// timing and success/failure counters.
func (e *Executor) dispatchAction(ctx context.Context, a action.Action) error {
	c, ok := e.Registry.Get(a.URI)
	if !ok {
		return yadterr.New(yadterr.Infrastructure, fmt.Sprintf("action %s references unknown component %s", a.Verb, a.URI))
	}

	if host, ok := c.(*component.Host); ok && (a.Verb == action.Ignore || a.Verb == action.Unignore) {
		return e.ignoreHost(ctx, host, a)
	}

	cmd, skip, err := materialize(c, a)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	if a.Verb == action.Probe {
		return e.runProbe(ctx, c, cmd)
	}

	capture := false
	proc := remoteproc.Run(ctx, e.Spawner, c, cmd, capture)
	o := <-proc.Done()
	if o.Err != nil {
		return o.Err
	}

	if a.Verb == action.Update {
		err := e.handleUpdateExit(ctx, c, a, o.ExitCode)
		if err == nil && e.Broadcast != nil {
			if bErr := e.Broadcast.SendHostChange(ctx, c.Host(), string(component.StateUptodate)); bErr != nil {
				logger := log.WithHost(c.Host())
				logger.Warn().Err(bErr).Msg("host-change broadcast failed")
			}
		}
		return err
	}

	if o.ExitCode != 0 {
		return yadterr.New(yadterr.RemoteFailure, fmt.Sprintf("%s on %s exited %d", a.Verb, a.URI, o.ExitCode))
	}
	return nil
}

// ignoreHost marks/unmarks a host administratively ignored by calling the
// broadcast capability, per the data model's note that the HTTP call (not
// an SSH command) is what implements Host.Ignore/Unignore.
func (e *Executor) ignoreHost(ctx context.Context, host *component.Host, a action.Action) error {
	if a.Verb == action.Ignore {
		if err := host.Ignore(a.Message); err != nil {
			return err
		}
	}
	if e.Broadcast == nil {
		return nil
	}
	if a.Verb == action.Ignore {
		return e.Broadcast.Ignore(ctx, host.Host(), a.Message)
	}
	return e.Broadcast.Unignore(ctx, host.Host())
}

// runProbe runs the idempotent host probe, retrying a few times before
// recording the action as failed: right after an update the host may still
// be settling.
func (e *Executor) runProbe(ctx context.Context, c component.Component, cmd component.RemoteCommand) error {
	delay := e.ProbeRetryDelay
	if delay <= 0 {
		delay = ProbeRetryDelayDefault
	}

	lastExit := 0
	for attempt := 1; attempt <= ProbeAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		proc := remoteproc.Run(ctx, e.Spawner, c, cmd, false)
		o := <-proc.Done()
		if o.Err != nil {
			return o.Err
		}
		if o.ExitCode == 0 {
			return nil
		}
		lastExit = o.ExitCode
	}
	return yadterr.New(yadterr.RemoteFailure, fmt.Sprintf("probe on %s exited %d after %d attempts", c.URI(), lastExit, ProbeAttempts))
}

// handleUpdateExit: 152 is an immediate
// REBOOT_TIMEOUT failure; 255 begins the SSH poll; any other non-zero exit
// is a REMOTE_FAILURE; 0 succeeds without polling.
func (e *Executor) handleUpdateExit(ctx context.Context, c component.Component, a action.Action, exitCode int) error {
	switch exitCode {
	case 0:
		return nil
	case 152:
		return yadterr.New(yadterr.RebootTimeout, fmt.Sprintf("timed out waiting for reboot on %s", a.URI))
	case 255:
		host, ok := c.(*component.Host)
		maxSeconds := component.SSHPollMaxSecondsDefault
		if ok {
			maxSeconds = host.SSHPollMaxSeconds
		}
		return e.pollUntilReachable(ctx, c.Host(), maxSeconds)
	default:
		return yadterr.New(yadterr.RemoteFailure, fmt.Sprintf("update on %s exited %d", a.URI, exitCode))
	}
}

// pollUntilReachable spawns `ssh host uptime` every SSHPollDelay until it
// succeeds or maxSeconds elapses. Max tries = floor(maxSeconds / delay),
// matching the reboot-poll-bound testable property.
func (e *Executor) pollUntilReachable(ctx context.Context, host string, maxSeconds int) error {
	defer metrics.Time(metrics.RebootPollDuration)()

	delay := e.SSHPollDelay
	if delay <= 0 {
		delay = SSHPollDelayDefault
	}
	maxTries := int(time.Duration(maxSeconds) * time.Second / delay)
	logger := log.WithHost(host)

	for try := 1; try <= maxTries; try++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		cmd := component.RemoteCommand{Host: host, Argv: []string{"uptime"}, Tag: host + "_ssh_poll"}
		proc := remoteproc.Run(ctx, e.Spawner, nil, cmd, false)
		o := <-proc.Done()
		if o.Err == nil && o.ExitCode == 0 {
			logger.Info().Int("tries", try).Dur("elapsed", time.Duration(try)*delay).Msg("host reachable after reboot")
			return nil
		}
	}
	metrics.RebootTimeoutsTotal.Inc()
	return yadterr.New(yadterr.RebootTimeout, fmt.Sprintf("%s did not come back within %ds", host, maxSeconds))
}

// materialize builds the RemoteCommand for a out of its component and verb,
// or reports skip=true for a synthetic no-op success (IgnoredHost, or a
// ReadonlyService start/stop degenerate case), or an error for a structured
// failure (POLICY_DENIED stopping a ReadonlyService, USAGE for a missing
// lock/ignore message).
func materialize(c component.Component, a action.Action) (cmd component.RemoteCommand, skip bool, err error) {
	switch v := c.(type) {
	case *component.IgnoredHost:
		switch a.Verb {
		case action.Lock, action.Unlock, action.Status:
			return component.RemoteCommand{}, true, nil
		default:
			return component.RemoteCommand{}, true, nil
		}
	case *component.UnreachableHost:
		return component.RemoteCommand{}, true, nil
	case *component.Host:
		switch a.Verb {
		case action.Probe:
			return v.ProbeUptodate(), false, nil
		case action.Lock:
			cmd, err = v.Lock(a.Message, a.Force)
			return cmd, false, err
		case action.Unlock:
			return v.Unlock(a.Force), false, nil
		case action.Update:
			return v.Update(a.RebootRequired, a.UpgradePackages), false, nil
		default:
			return component.RemoteCommand{}, false, yadterr.New(yadterr.PolicyDenied, fmt.Sprintf("verb %s not valid on a host", a.Verb))
		}
	case *component.ReadonlyService:
		switch a.Verb {
		case action.Start:
			cmd := v.Start(a.Force)
			if cmd.Argv == nil {
				return component.RemoteCommand{}, true, nil
			}
			return cmd, false, nil
		case action.Stop:
			cmd, err := v.Stop(a.Force)
			if err != nil {
				return component.RemoteCommand{}, false, err
			}
			if cmd.Argv == nil {
				return component.RemoteCommand{}, true, nil
			}
			return cmd, false, nil
		default:
			return component.RemoteCommand{}, false, yadterr.New(yadterr.PolicyDenied, fmt.Sprintf("verb %s not valid on a readonly service", a.Verb))
		}
	case *component.Service:
		switch a.Verb {
		case action.Start:
			return v.Start(a.Force), false, nil
		case action.Stop:
			return v.Stop(a.Force), false, nil
		case action.Ignore:
			cmd, err := v.Ignore(a.Message, a.Force)
			return cmd, false, err
		case action.Unignore:
			return v.Unignore(), false, nil
		default:
			return component.RemoteCommand{}, false, yadterr.New(yadterr.PolicyDenied, fmt.Sprintf("verb %s not valid on a service", a.Verb))
		}
	default:
		return component.RemoteCommand{}, false, yadterr.New(yadterr.Infrastructure, fmt.Sprintf("unexpected component kind for %s", c.URI()))
	}
}

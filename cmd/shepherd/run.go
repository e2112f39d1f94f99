package main

import (
	"context"
	"fmt"

	"github.com/cuemby/shepherd/pkg/action"
	"github.com/cuemby/shepherd/pkg/broadcast"
	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/executor"
	"github.com/cuemby/shepherd/pkg/hostexpand"
	"github.com/cuemby/shepherd/pkg/hostfile"
	"github.com/cuemby/shepherd/pkg/log"
	"github.com/cuemby/shepherd/pkg/planner"
	"github.com/cuemby/shepherd/pkg/remoteproc"
	"github.com/cuemby/shepherd/pkg/status"
	"github.com/cuemby/shepherd/pkg/storage"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// run drives one verb end to end: load the target declaration, run the
// status pipeline (every verb except status itself calls it implicitly),
// compile the plan, execute it, and run the final status unless asked not
// to.
func run(ctx context.Context, verb action.Verb, selector string, opts options) error {
	logger := log.WithVerb(string(verb))

	target, err := hostfile.Load(opts.TargetFile)
	if err != nil {
		return yadterr.Wrap(yadterr.Usage, "loading target declaration", err)
	}
	hosts := target.Hosts()
	if len(hosts) == 0 {
		return yadterr.New(yadterr.Usage, fmt.Sprintf("target %q declares no hosts", opts.TargetFile))
	}

	store, err := storage.Open(opts.OutDir)
	if err != nil {
		return yadterr.Wrap(yadterr.Infrastructure, "opening status store", err)
	}
	defer store.Close()

	// ignore/unignore operate on previously discovered components and
	// refuse to run before any status has ever been taken.
	if (verb == action.Ignore || verb == action.Unignore) && !store.HasSnapshot() {
		return yadterr.New(yadterr.Usage, fmt.Sprintf("no status information available, run status before %s", verb))
	}

	var bc broadcast.Client
	if opts.BroadcastURL != "" {
		bc = broadcast.NewHTTPClient(opts.BroadcastURL)
	}
	spawner := remoteproc.SSHSpawner{ExtraArgs: []string{"-o", "BatchMode=yes"}}

	// The local service collector listens for the pipeline's
	// all-branches-settled notification; anything else interested in
	// status completion subscribes to the same broker.
	collector := broadcast.NewBroker()
	collector.Start()
	settled := collector.Subscribe()
	defer func() {
		collector.Unsubscribe(settled)
		collector.Stop()
	}()
	go func() {
		for e := range settled {
			logger.Debug().Str("event", e.Type).Time("at", e.Timestamp).Msg("status branches settled")
		}
	}()

	pipeline := status.New(spawner, bc, store, opts.CurrentUser, opts.IgnoreUnreachableHosts)
	pipeline.Collector = collector
	pipeline.OutDir = opts.OutDir
	pipeline.LogFile = opts.LogFile

	registry, err := pipeline.Run(ctx, hosts, target.Groups)
	if err != nil {
		return err
	}
	if verb == action.Status {
		return nil
	}

	plan, err := planner.New(registry, hostexpand.New(registry)).Plan(verb, selector, planner.Options{
		Message:                opts.Message,
		Force:                  opts.Force,
		IgnoreUnreachableHosts: opts.IgnoreUnreachableHosts,
		UpgradePackages:        true,
	})
	if err != nil {
		return err
	}

	plan, err = action.RemoveActionsOnUnhandledHosts(plan, handledHosts(registry, hosts))
	if err != nil {
		return err
	}
	logger.Info().Int("actions", plan.Len()).Msg("plan compiled")

	if err := executor.New(registry, spawner, bc, opts.Parallel).Run(ctx, plan); err != nil {
		return err
	}

	if !opts.NoFinalStatus {
		if _, err := pipeline.Run(ctx, hosts, target.Groups); err != nil {
			return err
		}
	}
	return nil
}

// handledHosts maps the target declaration's hosts onto the host URIs
// present in the registry; actions on anything outside the declaration are
// filtered out of the plan.
func handledHosts(registry *component.Registry, hosts []string) map[string]struct{} {
	declared := map[string]bool{}
	for _, h := range hosts {
		declared[shortName(h)] = true
	}
	out := map[string]struct{}{}
	for _, c := range registry.All() {
		if declared[c.Host()] {
			out[c.HostURI()] = struct{}{}
		}
	}
	return out
}

func shortName(fqdn string) string {
	for i := 0; i < len(fqdn); i++ {
		if fqdn[i] == '.' {
			return fqdn[:i]
		}
	}
	return fqdn
}

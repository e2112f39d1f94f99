// Package planner compiles a verb and a component selector into a DAG of
// actions respecting dependency ordering and each verb's own rules.
package planner

import (
	"fmt"
	"sort"

	"github.com/cuemby/shepherd/pkg/action"
	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/hostexpand"
	"github.com/cuemby/shepherd/pkg/metrics"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// Options carries the verb-specific arguments the CLI collects from flags.
type Options struct {
	Message               string
	Force                 bool
	IgnoreUnreachableHosts bool
	// UpgradePackages controls whether an update's artefact list is sent
	// even when a reboot is required (component.Host.Update honors this).
	UpgradePackages bool
}

// Planner compiles verbs into plans against a fixed registry snapshot.
type Planner struct {
	Registry *component.Registry
	Expander hostexpand.Expander
}

func New(registry *component.Registry, expander hostexpand.Expander) *Planner {
	return &Planner{Registry: registry, Expander: expander}
}

// Plan resolves selector against the registry and compiles verb's plan.
// A selector resolving to zero components is a USAGE error.
func (p *Planner) Plan(verb action.Verb, selector string, opts Options) (action.Plan, error) {
	if verb == action.Status {
		return action.Plan{Name: "status"}, nil
	}

	uris, err := p.Expander.Expand(selector)
	if err != nil {
		return action.Plan{}, yadterr.Wrap(yadterr.Usage, "invalid selector", err)
	}

	var selected []component.Component
	for _, u := range uris {
		c, ok := p.Registry.Get(u)
		if !ok {
			continue
		}
		if c.Kind() == component.KindUnreachableHost {
			// Never participates in mutating actions; planner treats it as
			// skipped, per the data model.
			continue
		}
		selected = append(selected, c)
	}
	if len(selected) == 0 {
		metrics.PlanEmptyTotal.Inc()
		return action.Plan{}, yadterr.New(yadterr.Usage, fmt.Sprintf("selector %q matched no components", selector))
	}

	var plan action.Plan
	switch verb {
	case action.Start:
		plan, err = p.planStart(selected, opts)
	case action.Stop:
		plan, err = p.planStop(selected, opts)
	case action.Update:
		plan, err = p.planUpdate(selected, opts)
	case action.Lock, action.Unlock, action.Ignore, action.Unignore:
		plan, err = p.planHostOrServiceVerb(verb, selected, opts)
	default:
		return action.Plan{}, yadterr.New(yadterr.Usage, fmt.Sprintf("unknown verb %q", verb))
	}
	if err != nil {
		return action.Plan{}, err
	}
	if plan.Len() == 0 {
		metrics.PlanEmptyTotal.Inc()
	}
	metrics.PlanActionsTotal.WithLabelValues(string(verb)).Add(float64(plan.Len()))
	return plan, nil
}

// services filters selected down to its Service/ReadonlyService members,
// expanding a selected Host to its DefinedServices.
func services(selected []component.Component) []component.Component {
	var out []component.Component
	for _, c := range selected {
		switch c.Kind() {
		case component.KindService, component.KindReadonlyService:
			out = append(out, c)
		case component.KindHost:
			if h, ok := c.(*component.Host); ok {
				for _, svc := range h.DefinedServices {
					out = append(out, svc)
				}
			}
		}
	}
	return out
}

func (p *Planner) planStart(selected []component.Component, opts Options) (action.Plan, error) {
	svcs := services(selected)
	component.SortByScoreDesc(svcs)
	actions := orderedActions(action.Start, svcs, opts, nil)
	return action.Plan{Name: "start", SubPlans: []action.SubPlan{{Name: "start", Actions: actions}}}, nil
}

func (p *Planner) planStop(selected []component.Component, opts Options) (action.Plan, error) {
	svcs := services(selected)
	component.SortByScoreAsc(svcs)
	var kept []component.Component
	for _, c := range svcs {
		if c.State() == component.StateDown {
			continue
		}
		kept = append(kept, c)
	}
	actions := orderedActions(action.Stop, kept, opts, nil)
	return action.Plan{Name: "stop", SubPlans: []action.SubPlan{{Name: "stop", Actions: actions}}}, nil
}

// orderedActions builds one action per component, encoding the dependency
// partial order as preconditions so the executor's ready-queue honors it
// even with many workers: for start, a service waits for every planned
// service it needs; for stop, it waits for every planned service that
// needs it. extra preconditions (e.g. the host's update action) are added
// to every action.
func orderedActions(verb action.Verb, components []component.Component, opts Options, extra []string) []action.Action {
	planned := map[string]string{}
	for _, c := range components {
		planned[c.URI()] = action.Action{Verb: verb, URI: c.URI()}.Key()
	}

	var actions []action.Action
	for _, c := range components {
		var pre []string
		pre = append(pre, extra...)
		var peers map[string]struct{}
		if verb == action.Start {
			peers = c.Needs()
		} else {
			peers = c.NeededBy()
		}
		for peer := range peers {
			if key, ok := planned[peer]; ok {
				pre = append(pre, key)
			}
		}
		sort.Strings(pre)
		actions = append(actions, action.Action{
			Verb:          verb,
			URI:           c.URI(),
			HostURI:       c.HostURI(),
			Force:         opts.Force,
			Preconditions: pre,
		})
	}
	return actions
}

// planUpdate builds, per selected host, stop(affected services) ->
// yadt-host-update -> wait for ssh -> start(affected services). Per-host
// chains are wired with Preconditions rather than separate barrier-bound
// SubPlans, so the executor's ready-queue naturally runs independent
// hosts' chains concurrently (up to its worker limit) while still
// serializing each host's own stop -> update -> start sequence.
func (p *Planner) planUpdate(selected []component.Component, opts Options) (action.Plan, error) {
	hosts := onlyHosts(selected)
	if len(hosts) == 0 {
		return action.Plan{}, yadterr.New(yadterr.Usage, "update selector matched no hosts")
	}

	var actions []action.Action
	for _, h := range hosts {
		svcs := append([]*component.Service{}, h.DefinedServices...)
		stopOrder := toComponents(svcs)
		component.SortByScoreAsc(stopOrder)
		startOrder := toComponents(svcs)
		component.SortByScoreDesc(startOrder)

		stops := orderedActions(action.Stop, stopOrder, opts, nil)
		actions = append(actions, stops...)

		stopKeys := make([]string, 0, len(stops))
		for _, a := range stops {
			stopKeys = append(stopKeys, a.Key())
		}
		updateAction := action.Action{
			Verb:            action.Update,
			URI:             h.URI(),
			HostURI:         h.URI(),
			RebootRequired:  h.RebootRequired(),
			UpgradePackages: opts.UpgradePackages,
			Preconditions:   stopKeys,
		}
		actions = append(actions, updateAction)

		// Wait for SSH to return before anything is started: a probe of the
		// freshly updated host gates the whole start chain.
		probeAction := action.Action{
			Verb:          action.Probe,
			URI:           h.URI(),
			HostURI:       h.URI(),
			Preconditions: []string{updateAction.Key()},
		}
		actions = append(actions, probeAction)

		actions = append(actions, orderedActions(action.Start, startOrder, opts, []string{probeAction.Key()})...)
	}
	return action.Plan{Name: "update", SubPlans: []action.SubPlan{{Name: "update", Actions: actions}}}, nil
}

func (p *Planner) planHostOrServiceVerb(verb action.Verb, selected []component.Component, opts Options) (action.Plan, error) {
	if (verb == action.Lock || verb == action.Ignore) && opts.Message == "" {
		return action.Plan{}, yadterr.New(yadterr.Usage, fmt.Sprintf("%s requires a message", verb))
	}

	var actions []action.Action
	for _, c := range selected {
		actions = append(actions, action.Action{
			Verb:    verb,
			URI:     c.URI(),
			HostURI: c.HostURI(),
			Message: opts.Message,
			Force:   opts.Force,
		})
	}
	return action.Plan{Name: string(verb), SubPlans: []action.SubPlan{{Name: string(verb), Actions: actions}}}, nil
}

func onlyHosts(selected []component.Component) []*component.Host {
	var out []*component.Host
	for _, c := range selected {
		if h, ok := c.(*component.Host); ok {
			out = append(out, h)
		}
	}
	return out
}

func toComponents(svcs []*component.Service) []component.Component {
	out := make([]component.Component, len(svcs))
	for i, s := range svcs {
		out[i] = s
	}
	return out
}

// Package action implements the Action & Plan model: a single verb applied
// to a single component URI, grouped into barrier-separated sub-plans that
// the executor runs in order.
package action

import (
	"fmt"

	"github.com/cuemby/shepherd/pkg/yadterr"
)

// Verb is one of the eight orchestrator verbs, plus the internal probe
// verb the planner inserts into update chains (it is never exposed on the
// command line).
type Verb string

const (
	Status   Verb = "status"
	Update   Verb = "update"
	Start    Verb = "start"
	Stop     Verb = "stop"
	Lock     Verb = "lock"
	Unlock   Verb = "unlock"
	Ignore   Verb = "ignore"
	Unignore Verb = "unignore"

	// Probe waits for a freshly updated host to answer over SSH before its
	// services are started again.
	Probe Verb = "probe"
)

// Action is one verb applied to one component.
type Action struct {
	Verb Verb
	URI  string
	// HostURI is the host the component belongs to (itself, for a Host).
	// The planner fills this in so RemoveActionsOnUnhandledHosts can filter
	// without consulting the registry again.
	HostURI string
	// Preconditions are the URIs of actions (by their own URI+Verb, encoded
	// as "verb:uri") that must complete before this one is dispatched. An
	// action with Preconditions == nil is ready as soon as its sub-plan
	// starts.
	Preconditions []string
	// Message/Force/RebootRequired/UpgradePackages carry verb-specific
	// arguments the executor passes through to the component's
	// remote-command method.
	Message         string
	Force           bool
	RebootRequired  bool
	UpgradePackages bool
}

// Key uniquely identifies an action within a plan, used as a precondition
// reference.
func (a Action) Key() string {
	return string(a.Verb) + ":" + a.URI
}

// SubPlan is a barrier-separated group of actions. The executor treats
// actions within a SubPlan as partially ordered by their Preconditions
// (which in turn reflect dependency score), not as requiring every action
// in the prior SubPlan to literally precede every action here beyond the
// barrier itself.
type SubPlan struct {
	Name    string
	Actions []Action
}

// Plan is an ordered sequence of SubPlans. All actions in SubPlans[i]
// complete before any action in SubPlans[i+1] is dispatched.
type Plan struct {
	Name     string
	SubPlans []SubPlan
}

// Actions flattens the plan into its full action list, preserving sub-plan
// order.
func (p Plan) Actions() []Action {
	var out []Action
	for _, sp := range p.SubPlans {
		out = append(out, sp.Actions...)
	}
	return out
}

func (p Plan) Len() int {
	n := 0
	for _, sp := range p.SubPlans {
		n += len(sp.Actions)
	}
	return n
}

// RemoveActionsOnUnhandledHosts keeps only actions whose HostURI is in
// handledHosts, preserving sub-plan structure (a sub-plan that becomes
// empty is dropped). If the resulting plan has zero actions, it fails with
// PLAN_EMPTY.
func RemoveActionsOnUnhandledHosts(p Plan, handledHosts map[string]struct{}) (Plan, error) {
	out := Plan{Name: p.Name}
	for _, sp := range p.SubPlans {
		var kept []Action
		for _, a := range sp.Actions {
			if _, ok := handledHosts[a.HostURI]; ok {
				kept = append(kept, a)
			}
		}
		if len(kept) > 0 {
			out.SubPlans = append(out.SubPlans, SubPlan{Name: sp.Name, Actions: kept})
		}
	}
	if out.Len() == 0 {
		return Plan{}, yadterr.New(yadterr.PlanEmpty, fmt.Sprintf("plan %q has no actions left after filtering to handled hosts", p.Name))
	}
	return out, nil
}

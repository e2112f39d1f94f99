package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shepherd/pkg/action"
	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/hostexpand"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// fixture builds a registry with one host carrying frontend -> backend and
// one pending artefact, wired and scored.
func fixture(t *testing.T) *component.Registry {
	t.Helper()
	r := component.NewRegistry()

	h := component.NewHost("it01.domain")
	h.SetAttrsFromData(component.HostRecord{Hostname: "it01", NextArtefacts: []string{"mypkg/4"}}, "me")
	r.Set(h)

	backend := component.NewService("it01", "backend", component.ServiceSpec{State: "up"})
	r.Set(backend)
	frontend := component.NewService("it01", "frontend", component.ServiceSpec{State: "up", NeedsServices: []string{"backend"}})
	r.Set(frontend)

	require.NoError(t, component.Wire(r))
	h.DefinedServices = []*component.Service{frontend, backend}
	return r
}

func newPlanner(r *component.Registry) *Planner {
	return New(r, hostexpand.New(r))
}

func TestStatusPlanIsEmpty(t *testing.T) {
	p, err := newPlanner(fixture(t)).Plan(action.Status, "host://*", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())
}

func TestEmptySelectorIsUsageError(t *testing.T) {
	_, err := newPlanner(fixture(t)).Plan(action.Start, "service://nowhere/*", Options{})
	require.Error(t, err)
	var yerr *yadterr.Error
	require.ErrorAs(t, err, &yerr)
	assert.Equal(t, yadterr.Usage, yerr.Kind)
}

func TestStartOrdersDependenciesFirst(t *testing.T) {
	p, err := newPlanner(fixture(t)).Plan(action.Start, "service://it01/*", Options{})
	require.NoError(t, err)

	actions := p.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, "service://it01/backend", actions[0].URI)
	assert.Equal(t, "service://it01/frontend", actions[1].URI)
	// The dependency order is also encoded as a precondition, so the
	// executor honors it regardless of worker count.
	assert.Contains(t, actions[1].Preconditions, "start:service://it01/backend")
}

func TestStopOrdersDependentsFirstAndSkipsDown(t *testing.T) {
	r := fixture(t)
	backend, _ := r.Get("service://it01/backend")
	backend.SetState(component.StateDown)

	p, err := newPlanner(r).Plan(action.Stop, "service://it01/*", Options{})
	require.NoError(t, err)

	actions := p.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "service://it01/frontend", actions[0].URI)
}

func TestStopPreconditionsReverseDependencies(t *testing.T) {
	p, err := newPlanner(fixture(t)).Plan(action.Stop, "service://it01/*", Options{})
	require.NoError(t, err)

	actions := p.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, "service://it01/frontend", actions[0].URI)
	assert.Contains(t, actions[1].Preconditions, "stop:service://it01/frontend")
}

func TestUpdatePlanSequence(t *testing.T) {
	p, err := newPlanner(fixture(t)).Plan(action.Update, "host://it01", Options{UpgradePackages: true})
	require.NoError(t, err)

	actions := p.Actions()
	require.Len(t, actions, 6)

	// stop frontend, stop backend, update, probe, start backend, start
	// frontend
	assert.Equal(t, action.Stop, actions[0].Verb)
	assert.Equal(t, "service://it01/frontend", actions[0].URI)
	assert.Equal(t, action.Stop, actions[1].Verb)
	assert.Equal(t, "service://it01/backend", actions[1].URI)

	update := actions[2]
	assert.Equal(t, action.Update, update.Verb)
	assert.Equal(t, "host://it01", update.URI)
	assert.True(t, update.UpgradePackages)
	assert.ElementsMatch(t, []string{"stop:service://it01/frontend", "stop:service://it01/backend"}, update.Preconditions)

	probe := actions[3]
	assert.Equal(t, action.Probe, probe.Verb)
	assert.Equal(t, "host://it01", probe.URI)
	assert.Equal(t, []string{update.Key()}, probe.Preconditions)

	assert.Equal(t, action.Start, actions[4].Verb)
	assert.Equal(t, "service://it01/backend", actions[4].URI)
	assert.Contains(t, actions[4].Preconditions, probe.Key())
	assert.Equal(t, action.Start, actions[5].Verb)
	assert.Equal(t, "service://it01/frontend", actions[5].URI)
	assert.Contains(t, actions[5].Preconditions, "start:service://it01/backend")
}

func TestLockRequiresMessage(t *testing.T) {
	_, err := newPlanner(fixture(t)).Plan(action.Lock, "host://*", Options{})
	require.Error(t, err)
	var yerr *yadterr.Error
	require.ErrorAs(t, err, &yerr)
	assert.Equal(t, yadterr.Usage, yerr.Kind)

	p, err := newPlanner(fixture(t)).Plan(action.Lock, "host://*", Options{Message: "locking"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
}

func TestUnreachableHostsAreSkipped(t *testing.T) {
	r := fixture(t)
	r.Set(component.NewUnreachableHost("down.domain"))

	p, err := newPlanner(r).Plan(action.Lock, "host://*", Options{Message: "locking"})
	require.NoError(t, err)

	for _, a := range p.Actions() {
		assert.NotEqual(t, "host://down", a.URI, "no action is planned against an unreachable host")
	}
	assert.Equal(t, 1, p.Len())
}

package status

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shepherd/pkg/broadcast"
	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/log"
	"github.com/cuemby/shepherd/pkg/storage"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type spawnCall struct {
	host string
	argv []string
}

// scriptedSpawner answers each spawn with a canned stdout and exit code,
// running a local shell in place of the SSH hop.
type scriptedSpawner struct {
	mu      sync.Mutex
	calls   []spawnCall
	respond func(host string, argv []string) (stdout string, exit int)
}

func (s *scriptedSpawner) Spawn(ctx context.Context, host string, argv []string, stdin string) (*exec.Cmd, error) {
	s.mu.Lock()
	s.calls = append(s.calls, spawnCall{host: host, argv: argv})
	s.mu.Unlock()

	stdout, exit := s.respond(host, argv)
	script := fmt.Sprintf("printf '%%s' '%s'; exit %d", stdout, exit)
	return exec.CommandContext(ctx, "sh", "-c", script), nil
}

func (s *scriptedSpawner) spawnedOn(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.host == host {
			return true
		}
	}
	return false
}

type fakeBroadcast struct {
	ignored map[string]string

	mu          sync.Mutex
	fullUpdates int
	groups      [][]broadcast.HostGroup
}

func (f *fakeBroadcast) GetIgnoredStatus(ctx context.Context, host string) (bool, string, error) {
	msg, ok := f.ignored[host]
	return ok, msg, nil
}

func (f *fakeBroadcast) SendFullUpdate(ctx context.Context, groups [][]broadcast.HostGroup, trackingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fullUpdates++
	f.groups = groups
	return nil
}

func (f *fakeBroadcast) SendHostChange(ctx context.Context, host, state string) error { return nil }
func (f *fakeBroadcast) Ignore(ctx context.Context, host, message string) error       { return nil }
func (f *fakeBroadcast) Unignore(ctx context.Context, host string) error              { return nil }

const it01Record = `{"fqdn":"it01.domain","hostname":"it01",` +
	`"services":{"frontend":{"state":"up","needs_services":["backend"]},` +
	`"backend":{"state":"up","needs_artefacts":["mypkg"]}},` +
	`"current_artefacts":["mypkg/3"],"next_artefacts":["mypkg/4"],` +
	`"handled_artefacts":["mypkg/3"]}`

func statusResponder(records map[string]string) func(string, []string) (string, int) {
	return func(host string, argv []string) (string, int) {
		if rec, ok := records[host]; ok {
			return rec, 0
		}
		return "", 255
	}
}

func TestPipelineBuildsWiredRegistry(t *testing.T) {
	spawner := &scriptedSpawner{respond: statusResponder(map[string]string{"it01": it01Record})}
	p := New(spawner, nil, nil, "me", false)

	r, err := p.Run(context.Background(), []string{"it01.domain"}, nil)
	require.NoError(t, err)

	h, ok := r.Get("host://it01")
	require.True(t, ok)
	host := h.(*component.Host)
	assert.Equal(t, component.StateUpdateNeeded, host.State())

	frontend, ok := r.Get("service://it01/frontend")
	require.True(t, ok)
	backend, ok := r.Get("service://it01/backend")
	require.True(t, ok)

	// Wiring symmetry and alias canonicalization.
	_, forward := frontend.Needs()[backend.URI()]
	assert.True(t, forward)
	_, reverse := backend.NeededBy()[frontend.URI()]
	assert.True(t, reverse)
	_, canonical := backend.Needs()["artefact://it01/mypkg/3"]
	assert.True(t, canonical)

	// Defined services are ordered by dependency score, dependent first.
	require.Len(t, host.DefinedServices, 2)
	assert.Equal(t, "frontend", host.DefinedServices[0].Name())
	assert.Equal(t, "backend", host.DefinedServices[1].Name())
}

func TestUnreachableHostSubstitutedWithFlag(t *testing.T) {
	spawner := &scriptedSpawner{respond: statusResponder(map[string]string{"it01": it01Record})}
	p := New(spawner, nil, nil, "me", true)

	r, err := p.Run(context.Background(), []string{"it01.domain", "down.domain"}, nil)
	require.NoError(t, err)

	c, ok := r.Get("host://down")
	require.True(t, ok)
	assert.Equal(t, component.KindUnreachableHost, c.Kind())
	assert.True(t, c.IsUnknown())
}

func TestUnreachableHostFailsWithoutFlag(t *testing.T) {
	spawner := &scriptedSpawner{respond: statusResponder(nil)}
	p := New(spawner, nil, nil, "me", false)

	_, err := p.Run(context.Background(), []string{"down.domain"}, nil)
	require.Error(t, err)
	var yerr *yadterr.Error
	require.ErrorAs(t, err, &yerr)
	assert.Equal(t, yadterr.Unreachable, yerr.Kind)
}

func TestMissingMinionFails(t *testing.T) {
	spawner := &scriptedSpawner{respond: func(host string, argv []string) (string, int) {
		return "", 127
	}}
	p := New(spawner, nil, nil, "me", false)

	_, err := p.Run(context.Background(), []string{"it01.domain"}, nil)
	require.Error(t, err)
	var yerr *yadterr.Error
	require.ErrorAs(t, err, &yerr)
	assert.Equal(t, yadterr.MissingMinion, yerr.Kind)
}

func TestIgnoredHostSkipsProbe(t *testing.T) {
	spawner := &scriptedSpawner{respond: statusResponder(map[string]string{"it01": it01Record})}
	bc := &fakeBroadcast{ignored: map[string]string{"it02": "maintenance"}}
	p := New(spawner, bc, nil, "me", false)

	r, err := p.Run(context.Background(), []string{"it01.domain", "it02.domain"}, nil)
	require.NoError(t, err)

	c, ok := r.Get("host://it02")
	require.True(t, ok)
	ih := c.(*component.IgnoredHost)
	assert.Equal(t, "maintenance", ih.Message)
	assert.False(t, spawner.spawnedOn("it02"), "no SSH probe reaches an ignored host")
}

func TestReadonlySubstitutionForMissingService(t *testing.T) {
	// it01/frontend needs it02/reporting, but it02 doesn't declare it.
	it01 := `{"fqdn":"it01.domain","hostname":"it01",` +
		`"services":{"frontend":{"state":"up","needs_services":["service://it02/reporting"]}}}`
	it02 := `{"fqdn":"it02.domain","hostname":"it02","services":{}}`

	spawner := &scriptedSpawner{}
	spawner.respond = func(host string, argv []string) (string, int) {
		if len(argv) > 0 && argv[0] == "yadt-service-status" {
			return "", 0 // the orphaned service is actually running
		}
		switch host {
		case "it01":
			return it01, 0
		case "it02":
			return it02, 0
		}
		return "", 255
	}
	p := New(spawner, nil, nil, "me", false)

	r, err := p.Run(context.Background(), []string{"it01.domain", "it02.domain"}, nil)
	require.NoError(t, err)

	c, ok := r.Get("service://it02/reporting")
	require.True(t, ok)
	ro, isReadonly := c.(*component.ReadonlyService)
	require.True(t, isReadonly)
	assert.Equal(t, component.StateUp, ro.State())

	// The substitute inherits the dependent edge.
	_, neededByFrontend := ro.NeededBy()["service://it01/frontend"]
	assert.True(t, neededByFrontend)
}

func TestReadonlySubstitutionDownWhenProbeFails(t *testing.T) {
	it01 := `{"fqdn":"it01.domain","hostname":"it01",` +
		`"services":{"frontend":{"state":"up","needs_services":["service://it02/reporting"]}}}`
	it02 := `{"fqdn":"it02.domain","hostname":"it02","services":{}}`

	spawner := &scriptedSpawner{}
	spawner.respond = func(host string, argv []string) (string, int) {
		if len(argv) > 0 && argv[0] == "yadt-service-status" {
			return "", 3
		}
		if host == "it01" {
			return it01, 0
		}
		return it02, 0
	}
	p := New(spawner, nil, nil, "me", false)

	r, err := p.Run(context.Background(), []string{"it01.domain", "it02.domain"}, nil)
	require.NoError(t, err)

	c, _ := r.Get("service://it02/reporting")
	assert.Equal(t, component.StateDown, c.State())
}

func TestMissingHostIsProbedDuringResolution(t *testing.T) {
	// it01 references a service on it03, which is not in the selector.
	it01 := `{"fqdn":"it01.domain","hostname":"it01",` +
		`"services":{"frontend":{"state":"up","needs_services":["service://it03/db"]}}}`
	it03 := `{"fqdn":"it03.domain","hostname":"it03","services":{"db":{"state":"up"}}}`

	spawner := &scriptedSpawner{}
	spawner.respond = func(host string, argv []string) (string, int) {
		switch host {
		case "it01":
			return it01, 0
		case "it03":
			return it03, 0
		}
		return "", 255
	}
	p := New(spawner, nil, nil, "me", false)

	r, err := p.Run(context.Background(), []string{"it01.domain"}, nil)
	require.NoError(t, err)

	c, ok := r.Get("service://it03/db")
	require.True(t, ok)
	assert.Equal(t, component.KindService, c.Kind(), "the probed host declared the service, no readonly substitute")

	h, ok := r.Get("host://it03")
	require.True(t, ok)
	assert.Equal(t, component.KindHost, h.Kind())
}

func TestPipelineNotifiesCollector(t *testing.T) {
	spawner := &scriptedSpawner{respond: statusResponder(map[string]string{"it01": it01Record})}
	broker := broadcast.NewBroker()
	broker.Start()
	defer broker.Stop()
	settled := broker.Subscribe()
	defer broker.Unsubscribe(settled)

	p := New(spawner, nil, nil, "me", false)
	p.Collector = broker

	_, err := p.Run(context.Background(), []string{"it01.domain"}, nil)
	require.NoError(t, err)

	select {
	case e := <-settled:
		assert.Equal(t, broadcast.EventStatusSettled, e.Type)
	case <-time.After(time.Second):
		t.Fatal("collector was not notified")
	}
}

func TestPipelinePersistsAndBroadcasts(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	spawner := &scriptedSpawner{respond: statusResponder(map[string]string{"it01": it01Record})}
	bc := &fakeBroadcast{}
	p := New(spawner, bc, store, "me", false)

	_, err = p.Run(context.Background(), []string{"it01.domain"}, [][]string{{"it01"}})
	require.NoError(t, err)

	assert.True(t, store.HasSnapshot())
	assert.Equal(t, 1, bc.fullUpdates)
	require.Len(t, bc.groups, 1)
	require.Len(t, bc.groups[0], 1)
	hg := bc.groups[0][0]
	assert.Equal(t, "it01", hg.Name)
	assert.Len(t, hg.Services, 2)
	require.Len(t, hg.Artefact, 1)
	assert.Equal(t, "artefact://it01/mypkg", hg.Artefact[0].URI)
	assert.Equal(t, "mypkg", hg.Artefact[0].Name)
	assert.Equal(t, "3", hg.Artefact[0].Current)
}

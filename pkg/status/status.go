// Package status implements the Status Pipeline: it probes every selected
// host concurrently, classifies it (reachable/unreachable/ignored),
// instantiates typed components from the decoded record, resolves
// cross-host references left dangling by a single host's view, wires the
// full dependency graph, persists it, and broadcasts a snapshot.
//
// Probes fan out one goroutine per host, join on a WaitGroup, and collect
// errors from a buffered channel after the wait; the pipeline only fails
// once every branch has settled.
package status

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/shepherd/pkg/broadcast"
	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/log"
	"github.com/cuemby/shepherd/pkg/metrics"
	"github.com/cuemby/shepherd/pkg/remoteproc"
	"github.com/cuemby/shepherd/pkg/serviceregistry"
	"github.com/cuemby/shepherd/pkg/statusdecode"
	"github.com/cuemby/shepherd/pkg/storage"
	"github.com/cuemby/shepherd/pkg/uri"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// LocalSpawner runs a command directly on the controller (no SSH hop),
// used for a service's "serverside" status handling. The host argument is
// ignored — it is only meaningful to the SSHSpawner.
type LocalSpawner struct{}

func (LocalSpawner) Spawn(ctx context.Context, host string, argv []string, stdin string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("status: empty local command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	return cmd, nil
}

// Pipeline runs the status protocol against a set of hosts.
type Pipeline struct {
	Spawner                remoteproc.Spawner
	Local                  remoteproc.Spawner
	Broadcast              broadcast.Client
	Store                  *storage.Store
	// Collector, when set, is notified once every per-host branch has
	// settled (the "local service collector" hook).
	Collector              *broadcast.Broker
	CurrentUser            string
	IgnoreUnreachableHosts bool
	OutDir                 string
	LogFile                string

	// PendingReportInterval is exposed for tests to shorten; defaults below.
	PendingReportInterval time.Duration
}

func New(spawner remoteproc.Spawner, bc broadcast.Client, store *storage.Store, currentUser string, ignoreUnreachable bool) *Pipeline {
	return &Pipeline{
		Spawner:                spawner,
		Local:                  LocalSpawner{},
		Broadcast:              bc,
		Store:                  store,
		CurrentUser:            currentUser,
		IgnoreUnreachableHosts: ignoreUnreachable,
		PendingReportInterval:  10 * time.Second,
	}
}

// hostResult is what one per-host probe branch produces.
type hostResult struct {
	host string
	err  error
}

// Run executes the full pipeline for the given hostnames/FQDNs and returns
// the wired, persisted registry.
func (p *Pipeline) Run(ctx context.Context, hosts []string, groups [][]string) (*component.Registry, error) {
	defer metrics.Time(metrics.StatusRunDuration)()

	registry := component.NewRegistry()

	probeErr := p.probeAll(ctx, registry, hosts)

	if p.Collector != nil {
		p.Collector.Publish(broadcast.Event{Type: broadcast.EventStatusSettled})
	}
	if probeErr != nil {
		return nil, probeErr
	}

	if err := component.Wire(registry); err != nil {
		return nil, err
	}

	if err := p.resolveMissing(ctx, registry); err != nil {
		return nil, err
	}

	// Re-wire: missing resolution may have probed in whole new hosts (with
	// their services and artefacts), and the substituted ReadonlyService
	// instances need scores. Wiring is idempotent over already-resolved
	// edges.
	if err := component.Wire(registry); err != nil {
		return nil, err
	}

	p.assignDefinedServices(registry)
	reportRegistryMetrics(registry)

	if p.Store != nil {
		if err := p.Store.SaveRegistry(registry); err != nil {
			return nil, fmt.Errorf("status: persisting registry: %w", err)
		}
	}

	if p.Broadcast != nil {
		snapshot := p.buildSnapshot(registry, groups)
		if err := p.Broadcast.SendFullUpdate(ctx, snapshot, broadcast.NewTrackingID()); err != nil {
			logger := log.WithComponent("status")
			logger.Warn().Err(err).Msg("broadcast failed")
		}
	}

	return registry, nil
}

// probeAll fans out one goroutine per host, joins via WaitGroup, and
// returns the first error (after every branch has settled) if any host's
// branch errored.
func (p *Pipeline) probeAll(ctx context.Context, registry *component.Registry, hosts []string) error {
	var wg sync.WaitGroup
	results := make(chan hostResult, len(hosts))

	ticker := time.NewTicker(p.reportInterval())
	defer ticker.Stop()

	for _, h := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			err := p.probeHost(ctx, registry, host)
			results <- hostResult{host: host, err: err}
		}(h)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	logger := log.WithComponent("status")
	var firstErr error
	remaining := len(hosts)
	for remaining > 0 {
		select {
		case r := <-results:
			remaining--
			if r.err != nil && firstErr == nil {
				firstErr = r.err
			}
		case <-ticker.C:
			logger.Info().Int("remaining", remaining).Msg("hosts pending")
		case <-done:
		}
	}
	return firstErr
}

func (p *Pipeline) reportInterval() time.Duration {
	if p.PendingReportInterval <= 0 {
		return 10 * time.Second
	}
	return p.PendingReportInterval
}

// probeHost implements the per-host probe plus service
// instantiation and artefact materialization for a single host.
func (p *Pipeline) probeHost(ctx context.Context, registry *component.Registry, fqdn string) error {
	hostname := strings.SplitN(fqdn, ".", 2)[0]
	defer metrics.Time(metrics.ProbeDuration.WithLabelValues(hostname))()

	if p.Broadcast != nil {
		ignored, message, err := p.Broadcast.GetIgnoredStatus(ctx, hostname)
		if err != nil {
			metrics.ProbeFailuresTotal.WithLabelValues("ignored_status_probe").Inc()
			return yadterr.Wrap(yadterr.Infrastructure, "ignored-status probe failed", err)
		}
		if ignored {
			registry.Set(component.NewIgnoredHost(fqdn, message))
			return nil
		}
	}

	cmd := component.RemoteCommand{Host: hostname, Argv: []string{"/usr/bin/yadt-status"}, Tag: hostname + "_status"}
	proc := remoteproc.Run(ctx, p.Spawner, nil, cmd, true)
	o := <-proc.Done()

	switch {
	case o.Err != nil:
		metrics.ProbeFailuresTotal.WithLabelValues("transport").Inc()
		return o.Err
	case o.ExitCode == 0:
		return p.instantiateHost(registry, fqdn, proc.Data)
	case o.ExitCode == 255:
		if p.IgnoreUnreachableHosts {
			registry.Set(component.NewUnreachableHost(fqdn))
			return nil
		}
		metrics.ProbeFailuresTotal.WithLabelValues("unreachable").Inc()
		return yadterr.New(yadterr.Unreachable, fmt.Sprintf("host %s unreachable (ssh exit 255)", hostname))
	case o.ExitCode == 127:
		metrics.ProbeFailuresTotal.WithLabelValues("missing_minion").Inc()
		return yadterr.New(yadterr.MissingMinion, fmt.Sprintf("no minion installed on %s", hostname))
	default:
		metrics.ProbeFailuresTotal.WithLabelValues("remote_failure").Inc()
		return yadterr.New(yadterr.RemoteFailure, fmt.Sprintf("yadt-status on %s exited %d", hostname, o.ExitCode))
	}
}

// instantiateHost decodes raw yadt-status stdout, persists it, builds the
// Host, and instantiates its declared services.
func (p *Pipeline) instantiateHost(registry *component.Registry, fqdn, raw string) error {
	hostname := strings.SplitN(fqdn, ".", 2)[0]

	if p.LogFile != "" {
		_ = writeFile(fmt.Sprintf("%s.%s.status", p.LogFile, hostname), raw)
	}
	if p.OutDir != "" {
		_ = storage.WritePerHostYAML(p.OutDir, hostname, []byte(raw))
	}

	rec, err := statusdecode.Decode([]byte(raw))
	if err != nil {
		return yadterr.Wrap(yadterr.RemoteFailure, "decoding yadt-status response", err)
	}
	if rec.FQDN == "" {
		rec.FQDN = fqdn
	}

	h := component.NewHost(rec.FQDN)
	h.SetAttrsFromData(rec, p.CurrentUser)
	registry.Set(h)

	for name, spec := range rec.Services {
		svc, err := serviceregistry.Build(hostname, name, spec)
		if err != nil {
			return err
		}
		registry.Set(svc)
	}

	for _, nameVersion := range rec.CurrentArtefacts {
		registerArtefact(registry, hostname, nameVersion, uri.Current)
	}
	for _, nameVersion := range rec.NextArtefacts {
		registerArtefact(registry, hostname, nameVersion, uri.Next)
	}

	p.runServersideChecks(registry, hostname, rec.Services)
	return nil
}

// runServersideChecks calls status() on the controller, not over SSH, for
// every service whose state_handling is "serverside", setting its state to
// Up when the probe exits 0 and to Down otherwise.
func (p *Pipeline) runServersideChecks(registry *component.Registry, hostname string, specs map[string]component.ServiceSpec) {
	for name, spec := range specs {
		if spec.StateHandling != "serverside" {
			continue
		}
		svcURI := uri.Create(uri.Service, hostname, name)
		c, ok := registry.Get(svcURI)
		if !ok {
			continue
		}
		cmd := component.RemoteCommand{Host: hostname, Argv: []string{"yadt-service-status", name}}
		proc := remoteproc.Run(context.Background(), p.Local, c, cmd, false)
		o := <-proc.Done()
		if o.Err == nil && o.ExitCode == 0 {
			c.SetState(component.StateUp)
		} else {
			c.SetState(component.StateDown)
		}
	}
}

func registerArtefact(registry *component.Registry, hostname, nameVersion, revision string) {
	name, version, ok := strings.Cut(nameVersion, "/")
	if !ok {
		name, version = nameVersion, ""
	}
	art := component.NewArtefact(hostname, name, version, revision)
	registry.Set(art)
	registry.SetAt(art.RevisionURI, art)
}

// resolveMissing replaces every remaining MissingComponent after wiring:
// re-probes an unknown host, or substitutes a ReadonlyService probed via
// yadt-service-status.
func (p *Pipeline) resolveMissing(ctx context.Context, registry *component.Registry) error {
	for _, c := range registry.All() {
		m, ok := c.(*component.MissingComponent)
		if !ok {
			continue
		}
		parsed, err := uri.Parse(m.URI())
		if err != nil {
			return err
		}

		hostURI := uri.Create(uri.Host, parsed.Host)
		hc, known := registry.Get(hostURI)
		if !known || hc.Kind() == component.KindMissingComponent {
			if err := p.probeHost(ctx, registry, parsed.Host); err != nil {
				return err
			}
		}

		// The probe may have declared the very component that was missing.
		if resolved, ok := registry.Get(m.URI()); ok && resolved.Kind() != component.KindMissingComponent {
			continue
		}

		if parsed.Type != uri.Service {
			continue
		}
		hostIgnored := false
		if hc, ok := registry.Get(hostURI); ok {
			hostIgnored = hc.Kind() == component.KindIgnoredHost
		}
		readonly := component.NewReadonlyService(parsed.Host, parsed.Name, hostIgnored)
		for needer := range m.NeededBy() {
			readonly.AddNeededBy(needer)
		}

		if !hostIgnored {
			proc := remoteproc.Run(ctx, p.Spawner, readonly, readonly.Status(), false)
			o := <-proc.Done()
			if o.Err == nil && o.ExitCode == 0 {
				readonly.SetState(component.StateUp)
			} else {
				readonly.SetState(component.StateDown)
			}
		}
		registry.Set(readonly)
	}
	return nil
}

// assignDefinedServices populates each Host's DefinedServices, ordered by
// dependency score, once wiring has computed scores.
func (p *Pipeline) assignDefinedServices(registry *component.Registry) {
	for _, c := range registry.All() {
		h, ok := c.(*component.Host)
		if !ok {
			continue
		}
		var svcs []*component.Service
		for _, candidate := range registry.All() {
			svc, ok := candidate.(*component.Service)
			if ok && svc.Host() == h.Host() {
				svcs = append(svcs, svc)
			}
		}
		sort.Slice(svcs, func(i, j int) bool {
			if svcs[i].DependencyScore() == svcs[j].DependencyScore() {
				return svcs[i].URI() < svcs[j].URI()
			}
			return svcs[i].DependencyScore() < svcs[j].DependencyScore()
		})
		h.DefinedServices = svcs
	}
}

// buildSnapshot renders the hierarchical broadcast payload ordered by the
// host-group declaration: per host, its defined services (already sorted
// by dependency score) and the handled_artefacts list from its own status
// record, sorted, each "name/version" split into an unversioned artefact
// URI plus the current version.
func (p *Pipeline) buildSnapshot(registry *component.Registry, groups [][]string) [][]broadcast.HostGroup {
	var out [][]broadcast.HostGroup
	for _, group := range groups {
		var row []broadcast.HostGroup
		for _, hostname := range group {
			short := strings.SplitN(hostname, ".", 2)[0]
			hg := broadcast.HostGroup{Name: short}

			c, ok := registry.Get(uri.Create(uri.Host, short))
			if !ok {
				row = append(row, hg)
				continue
			}
			h, ok := c.(*component.Host)
			if !ok {
				row = append(row, hg)
				continue
			}

			for _, svc := range h.DefinedServices {
				hg.Services = append(hg.Services, broadcast.ServiceStatus{
					URI:   svc.URI(),
					Name:  svc.Name(),
					State: string(svc.State()),
				})
			}

			handled := append([]string{}, h.HandledArtefacts...)
			sort.Strings(handled)
			for _, nameVersion := range handled {
				name, version, _ := strings.Cut(nameVersion, "/")
				hg.Artefact = append(hg.Artefact, broadcast.ArtefactInfo{
					URI:     uri.Create(uri.Artefact, short, name),
					Name:    name,
					Current: version,
				})
			}
			row = append(row, hg)
		}
		out = append(out, row)
	}
	return out
}

func writeFile(path, content string) error {
	return storage.WriteTextFile(path, content)
}

// reportRegistryMetrics publishes the gauge snapshot for the just-wired
// registry, resetting prior label values first so a host/service that
// disappeared between runs doesn't linger in the exposition.
func reportRegistryMetrics(registry *component.Registry) {
	metrics.HostsByState.Reset()
	metrics.ServicesByState.Reset()

	artefacts := 0
	missing := 0
	for _, c := range registry.All() {
		switch c.Kind() {
		case component.KindHost, component.KindUnreachableHost, component.KindIgnoredHost:
			metrics.HostsByState.WithLabelValues(string(c.State())).Inc()
		case component.KindService, component.KindReadonlyService:
			metrics.ServicesByState.WithLabelValues(string(c.State())).Inc()
		case component.KindArtefact:
			artefacts++
		case component.KindMissingComponent:
			missing++
		}
	}
	metrics.ArtefactsTotal.Set(float64(artefacts))
	metrics.MissingComponentsTotal.Set(float64(missing))
}

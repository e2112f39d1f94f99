package component

import (
	"fmt"
	"strings"

	"github.com/cuemby/shepherd/pkg/log"
	"github.com/cuemby/shepherd/pkg/uri"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// SSHPollMaxSecondsDefault is the default wall-clock bound for the reboot
// SSH-poll loop when a host record doesn't specify one.
const SSHPollMaxSecondsDefault = 300

// Lockstate records who, if anyone, holds an advisory lock on a host.
type Lockstate struct {
	Owner   string `json:"owner" yaml:"owner"`
	Message string `json:"message" yaml:"message"`
	Force   bool   `json:"force" yaml:"force"`
}

// ServiceSpec is the declarative description of one of a host's services,
// as carried in its yadt-status record.
type ServiceSpec struct {
	Class          string              `json:"class" yaml:"class"`
	State          string              `json:"state" yaml:"state"`
	StateHandling  string              `json:"state_handling" yaml:"state_handling"`
	NeedsServices  []string            `json:"needs_services" yaml:"needs_services"`
	NeedsArtefacts []string            `json:"needs_artefacts" yaml:"needs_artefacts"`
	Extra          map[string][]string `json:"extra" yaml:"extra"`
}

// HostRecord is the typed shape of a decoded yadt-status response, after
// the list-of-maps "services" legacy form has been normalized to a map.
type HostRecord struct {
	FQDN                                  string                 `json:"fqdn" yaml:"fqdn"`
	Hostname                              string                 `json:"hostname" yaml:"hostname"`
	Services                              map[string]ServiceSpec `json:"services" yaml:"services"`
	CurrentArtefacts                      []string               `json:"current_artefacts" yaml:"current_artefacts"`
	NextArtefacts                         []string               `json:"next_artefacts" yaml:"next_artefacts"`
	Lockstate                             *Lockstate             `json:"lockstate" yaml:"lockstate"`
	RebootRequiredToActivateLatestKernel  bool                   `json:"reboot_required_to_activate_latest_kernel" yaml:"reboot_required_to_activate_latest_kernel"`
	RebootRequiredAfterNextUpdate         bool                   `json:"reboot_required_after_next_update" yaml:"reboot_required_after_next_update"`
	Defaults                              map[string]string      `json:"defaults" yaml:"defaults"`
	HandledArtefacts                      []string               `json:"handled_artefacts" yaml:"handled_artefacts"`
	SSHPollMaxSeconds                     int                    `json:"ssh_poll_max_seconds" yaml:"ssh_poll_max_seconds"`
}

// Host is a fully reachable, decoded remote host.
type Host struct {
	Base

	FQDN     string
	Services map[string]ServiceSpec

	CurrentArtefacts []string
	NextArtefacts    []string

	Lockstate       *Lockstate
	IsLocked        bool
	IsLockedByMe    bool
	IsLockedByOther bool

	RebootRequiredToActivateLatestKernel bool
	RebootRequiredAfterNextUpdate        bool

	SSHPollMaxSeconds int

	// DefinedServices is populated by the status pipeline after service
	// instantiation, ordered by dependency score once wiring completes.
	DefinedServices []*Service

	HandledArtefacts []string
}

// NewHost constructs a Host from its fully-qualified domain name. The short
// hostname (first label) becomes the component's name/host/URI segment.
func NewHost(fqdn string) *Host {
	hostname := strings.SplitN(fqdn, ".", 2)[0]
	self := uri.Create(uri.Host, hostname)
	h := &Host{
		Base:              newBase(KindHost, hostname, fqdn, hostname, self),
		FQDN:              fqdn,
		Services:          map[string]ServiceSpec{},
		SSHPollMaxSeconds: SSHPollMaxSecondsDefault,
	}
	h.hostURIOverride()
	return h
}

// hostURIOverride makes HostURI() return the host's own URI: a Host needs
// nothing, including itself, but HostURI() is still used by callers that
// don't special-case Host.
func (h *Host) hostURIOverride() {
	h.Base.hostURI = h.Base.uri
}

func (h *Host) IsReachable() bool { return true }

// RebootRequired reports whether either reboot flag is set.
func (h *Host) RebootRequired() bool {
	return h.RebootRequiredAfterNextUpdate || h.RebootRequiredToActivateLatestKernel
}

// NormalizeServices rewrites an obsolete list-of-single-entry-maps
// "services" value into a single merged map, matching the legacy form
// documented in the host record schema.
func NormalizeServices(raw map[string]interface{}) {
	v, ok := raw["services"]
	if !ok {
		return
	}
	list, ok := v.([]interface{})
	if !ok {
		return
	}
	merged := map[string]interface{}{}
	for _, entry := range list {
		if m, ok := entry.(map[string]interface{}); ok {
			for k, val := range m {
				merged[k] = val
			}
		}
	}
	raw["services"] = merged
}

// SetAttrsFromData applies a decoded host record to the Host: validates the
// hostname against the FQDN, sets every decoded attribute (service lists
// arrive already normalized in rec), derives the UPTODATE/UPDATE_NEEDED state, and derives
// the is_locked* trio from lockstate and the executing user's identity.
func (h *Host) SetAttrsFromData(rec HostRecord, currentUser string) {
	if rec.Hostname != "" && rec.Hostname != h.name {
		logger := log.WithHost(h.name)
		logger.Warn().Msgf("hostname %s doesn't match fqdn %s", rec.Hostname, h.FQDN)
	}

	h.Services = rec.Services
	h.CurrentArtefacts = rec.CurrentArtefacts
	h.NextArtefacts = rec.NextArtefacts
	h.Lockstate = rec.Lockstate
	h.RebootRequiredToActivateLatestKernel = rec.RebootRequiredToActivateLatestKernel
	h.RebootRequiredAfterNextUpdate = rec.RebootRequiredAfterNextUpdate
	h.HandledArtefacts = rec.HandledArtefacts
	if rec.SSHPollMaxSeconds > 0 {
		h.SSHPollMaxSeconds = rec.SSHPollMaxSeconds
	}

	h.recomputeState()
	h.recomputeLockDerived(currentUser)
}

// recomputeState implements the literal rule preserved from the open
// questions section: empty next_artefacts => UPTODATE, otherwise
// UPDATE_NEEDED.
func (h *Host) recomputeState() {
	if len(h.NextArtefacts) == 0 {
		h.SetState(StateUptodate)
	} else {
		h.SetState(StateUpdateNeeded)
	}
}

func (h *Host) recomputeLockDerived(currentUser string) {
	h.IsLocked = h.Lockstate != nil
	h.IsLockedByMe = h.IsLocked && h.Lockstate.Owner != "" && h.Lockstate.Owner == currentUser
	h.IsLockedByOther = h.IsLocked && !h.IsLockedByMe
}

func (h *Host) IsUptodate() bool     { return h.State() == StateUptodate }
func (h *Host) IsUpdateNeeded() bool { return h.State() == StateUpdateNeeded }

// Lock returns the remote command for acquiring the host's advisory lock.
// A missing message is an INVALID_ARGUMENT (modeled as yadterr.Usage).
func (h *Host) Lock(message string, force bool) (RemoteCommand, error) {
	if message == "" {
		return RemoteCommand{}, yadterr.New(yadterr.Usage, "the \"message\" parameter is mandatory")
	}
	cleaned := strings.NewReplacer("'", "", "\"", "").Replace(message)
	return RemoteCommand{
		Host:  h.name,
		Argv:  []string{"yadt-host-lock", cleaned},
		Tag:   "lock_host",
		Force: force,
	}, nil
}

func (h *Host) Unlock(force bool) RemoteCommand {
	return RemoteCommand{
		Host:  h.name,
		Argv:  []string{"yadt-host-unlock"},
		Tag:   "unlock_host",
		Force: force,
	}
}

// Ignore validates the ignore request; the actual HTTP call is made by the
// broadcast capability, not here.
func (h *Host) Ignore(message string) error {
	if message == "" {
		return yadterr.New(yadterr.Usage, "the \"message\" parameter is mandatory")
	}
	return nil
}

// Update returns the remote command for a host update, optionally forcing a
// reboot. next_artefacts entries are rewritten from "name/version" to
// "name-version" the way the remote yadt-host-update argv expects.
func (h *Host) Update(rebootRequired, upgradePackages bool) RemoteCommand {
	artefacts := make([]string, 0, len(h.NextArtefacts))
	if !rebootRequired || upgradePackages {
		for _, a := range h.NextArtefacts {
			artefacts = append(artefacts, strings.Replace(a, "/", "-", 1))
		}
	}
	argv := []string{"yadt-host-update"}
	if rebootRequired {
		argv = append(argv, "-r")
	}
	argv = append(argv, artefacts...)
	tag := fmt.Sprintf("%s_update", h.name)
	return RemoteCommand{Host: h.name, Argv: argv, Tag: tag}
}

// Probe returns the cheap reachability/state check run against a host,
// used after an update to wait for SSH to come back before services are
// started again.
func (h *Host) Probe() RemoteCommand {
	return RemoteCommand{Host: h.name, Argv: []string{"/usr/bin/yadt-status-host"}, Tag: h.name + "_status_host"}
}

// ProbeUptodate is the update chain's verification probe: the same remote
// command, tagged so its output lands in the update's log stream.
func (h *Host) ProbeUptodate() RemoteCommand {
	cmd := h.Probe()
	cmd.Tag = h.name + "_probe"
	return cmd
}

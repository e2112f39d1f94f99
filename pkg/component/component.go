// Package component implements the typed entity model described by the
// data model: Host, UnreachableHost, IgnoredHost, Service, ReadonlyService,
// Artefact, and MissingComponent, wired together into a dependency graph
// that a Registry owns.
//
// Components never hold references to each other; they hold peer URIs as
// plain strings, and the Registry is the sole owner of every instance.
package component

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/shepherd/pkg/uri"
)

// Kind distinguishes the concrete component types.
type Kind string

const (
	KindHost             Kind = "host"
	KindUnreachableHost  Kind = "unreachable_host"
	KindIgnoredHost      Kind = "ignored_host"
	KindService          Kind = "service"
	KindReadonlyService  Kind = "readonly_service"
	KindArtefact         Kind = "artefact"
	KindMissingComponent Kind = "missing_component"
)

// State is drawn from the fixed vocabulary in the data model, with
// type-specific restrictions enforced by each concrete constructor rather
// than by the type itself.
type State string

const (
	StateUnknown      State = "unknown"
	StateUp           State = "up"
	StateDown         State = "down"
	StateInstalled    State = "installed"
	StateMissing      State = "missing"
	StateUpdateNeeded State = "update_needed"
	StateUptodate     State = "uptodate"
)

// notUp: only UP, UPTODATE, and INSTALLED count as up.
func notUp(s State) bool {
	return s != StateUp && s != StateUptodate && s != StateInstalled
}

// Component is the minimal surface every concrete entity satisfies. The
// registry and the planner/executor only ever talk to components through
// this interface.
type Component interface {
	URI() string
	Kind() Kind
	Name() string
	Host() string
	HostURI() string
	State() State
	SetState(State)
	Needs() map[string]struct{}
	NeededBy() map[string]struct{}
	AddNeed(uri string)
	AddNeededBy(uri string)
	ReplaceNeeds(map[string]struct{})
	IsUp() bool
	IsUnknown() bool
	Dump() string
	DependencyScore() int
	SetDependencyScore(int)
}

// RemoteCommand describes a remote invocation a mutating operation wants
// executed. The executor is responsible for actually spawning it (via the
// Remote Process Protocol); components never spawn anything themselves.
type RemoteCommand struct {
	// Host is the short hostname the command targets.
	Host string
	// Argv is the remote binary and its arguments, e.g. ["yadt-host-lock", msg].
	Argv []string
	// Stdin is optional input piped to the remote process (e.g. "update"
	// for yadt-yum upgrade).
	Stdin string
	// Tag labels the command for logging/log-file naming.
	Tag string
	// Force indicates the --force flag should be appended.
	Force bool
}

// Base implements the common Component fields and is embedded by every
// concrete type. It is not itself registered in a Registry.
type Base struct {
	kind    Kind
	name    string
	host    string
	fqdn    string
	uri     string
	hostURI string
	state   State

	needs    map[string]struct{}
	neededBy map[string]struct{}

	score int
}

func newBase(kind Kind, host, fqdn, name, self string) Base {
	return Base{
		kind:     kind,
		name:     name,
		host:     host,
		fqdn:     fqdn,
		uri:      self,
		hostURI:  uri.Create(uri.Host, host),
		state:    StateUnknown,
		needs:    map[string]struct{}{},
		neededBy: map[string]struct{}{},
	}
}

func (b *Base) URI() string        { return b.uri }
func (b *Base) Kind() Kind         { return b.kind }
func (b *Base) Name() string       { return b.name }
func (b *Base) Host() string       { return b.host }
func (b *Base) HostURI() string    { return b.hostURI }
func (b *Base) State() State       { return b.state }
func (b *Base) SetState(s State)   { b.state = s }
func (b *Base) DependencyScore() int       { return b.score }
func (b *Base) SetDependencyScore(s int)   { b.score = s }

func (b *Base) Needs() map[string]struct{} {
	return b.needs
}

func (b *Base) NeededBy() map[string]struct{} {
	return b.neededBy
}

func (b *Base) AddNeed(u string) {
	b.needs[u] = struct{}{}
}

func (b *Base) AddNeededBy(u string) {
	b.neededBy[u] = struct{}{}
}

func (b *Base) ReplaceNeeds(n map[string]struct{}) {
	b.needs = n
}

func (b *Base) IsUp() bool {
	return !notUp(b.state)
}

func (b *Base) IsUnknown() bool {
	return b.state == StateUnknown
}

// Dump renders a stable, human-readable multi-line summary of a component,
// used by the status pipeline's diagnostics and by tests.
func (b *Base) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", b.uri)
	fmt.Fprintf(&sb, "  state: %s\n", b.state)
	fmt.Fprintf(&sb, "  needs: %s\n", joinSorted(b.needs))
	fmt.Fprintf(&sb, "  needed_by: %s\n", joinSorted(b.neededBy))
	return sb.String()
}

func joinSorted(set map[string]struct{}) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

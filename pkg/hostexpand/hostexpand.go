// Package hostexpand implements the component selector: a glob pattern over
// the registry's known hostnames (or a direct component URI), resolved
// without ever touching the network. The host-expander is an injected
// capability rather than a hard dependency, so planner/status code depends
// on the Expander interface, not this package's default implementation.
package hostexpand

import (
	"path"
	"sort"
	"strings"

	"github.com/cuemby/shepherd/pkg/component"
)

// Expander resolves a selector pattern (e.g. "host://*", "host://web*",
// "service://db01/mysql") against a set of known hostnames into concrete
// component URIs to operate on.
type Expander interface {
	Expand(pattern string) ([]string, error)
}

// Registry is satisfied by *component.Registry; declared narrowly so this
// package doesn't import more than it needs.
type Registry interface {
	All() []component.Component
}

// Default resolves a selector's host segment with path.Match-style
// globbing against every hostname present in the registry, then returns
// every component whose own URI or host segment matches.
type Default struct {
	Registry Registry
}

func New(registry Registry) *Default {
	return &Default{Registry: registry}
}

// Expand returns the URIs of every component in the registry matching
// pattern. A pattern with no glob metacharacters and an exact URI match is
// resolved directly; otherwise each segment (type, host) is matched with
// path.Match semantics, leaving name/version unconstrained when absent.
func (d *Default) Expand(pattern string) ([]string, error) {
	typ, host, rest, err := splitPattern(pattern)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, c := range d.Registry.All() {
		if c.URI() == pattern {
			out = append(out, c.URI())
			continue
		}
		if typ != "" && typ != "*" && componentTypeToken(c) != typ {
			continue
		}
		matched, err := path.Match(host, c.Host())
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		if rest != "" && rest != "*" {
			nameMatched, err := path.Match(rest, c.Name())
			if err != nil {
				return nil, err
			}
			if !nameMatched {
				continue
			}
		}
		out = append(out, c.URI())
	}
	sort.Strings(out)
	return out, nil
}

func componentTypeToken(c component.Component) string {
	switch c.Kind() {
	case component.KindHost, component.KindUnreachableHost, component.KindIgnoredHost:
		return "host"
	case component.KindService, component.KindReadonlyService:
		return "service"
	case component.KindArtefact:
		return "artefact"
	default:
		return ""
	}
}

// splitPattern parses "type://host[/name]" into its type, host-glob, and
// trailing name-glob segments, defaulting an omitted type to "*".
func splitPattern(pattern string) (typ, host, rest string, err error) {
	s := pattern
	if before, after, ok := strings.Cut(s, "://"); ok {
		typ = before
		s = after
	} else {
		typ = "*"
	}
	if before, after, ok := strings.Cut(s, "/"); ok {
		host = before
		rest = after
	} else {
		host = s
	}
	if host == "" {
		host = "*"
	}
	return typ, host, rest, nil
}

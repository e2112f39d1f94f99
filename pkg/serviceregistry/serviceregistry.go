// Package serviceregistry resolves a service's declared "class" string to
// a concrete constructor: an explicit, process-level map[string]Constructor
// seeded at package init with the one built-in kind and open to registering
// more, with a legacy-alias table rewriting deprecated class names before
// lookup.
package serviceregistry

import (
	"fmt"

	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// Constructor builds a Service for hostName/name from its declarative spec.
type Constructor func(hostName, name string, spec component.ServiceSpec) *component.Service

// Default is the class name used when a service spec omits "class".
const Default = "Service"

var (
	constructors   = map[string]Constructor{}
	legacyAliases  = map[string]string{}
)

func init() {
	Register(Default, component.NewService)
	// Pre-yadt-status-v2 specs used the bare, capitalized Ruby-style class
	// name for the generic service; map it onto the same constructor.
	RegisterLegacyAlias("GenericService", Default)
}

// Register adds or replaces the constructor for class name. Safe to call
// from an init() in a package that wants to extend the built-in set.
func Register(class string, ctor Constructor) {
	constructors[class] = ctor
}

// RegisterLegacyAlias rewrites deprecated class name old to current before
// lookup.
func RegisterLegacyAlias(old, current string) {
	legacyAliases[old] = current
}

// Build resolves spec.Class (defaulting to Default, then through the
// legacy-alias table) and constructs the service. An unresolved class name
// is an infrastructure error: the status pipeline cannot proceed without
// knowing how to represent a declared service.
func Build(hostName, name string, spec component.ServiceSpec) (*component.Service, error) {
	class := spec.Class
	if class == "" {
		class = Default
	}
	if alias, ok := legacyAliases[class]; ok {
		class = alias
	}
	ctor, ok := constructors[class]
	if !ok {
		return nil, yadterr.New(yadterr.Infrastructure, fmt.Sprintf("no service implementation registered for class %q", spec.Class))
	}
	return ctor(hostName, name, spec), nil
}

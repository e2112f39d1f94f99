package component

import (
	"github.com/cuemby/shepherd/pkg/uri"
)

// MissingComponent is the sentinel a WiringView materializes when an
// unresolved URI is looked up during wiring.
type MissingComponent struct {
	Base
}

// NewMissingComponent parses s and builds the matching sentinel.
func NewMissingComponent(s string) (*MissingComponent, error) {
	parsed, err := uri.Parse(s)
	if err != nil {
		return nil, err
	}
	m := &MissingComponent{
		Base: newBase(KindMissingComponent, parsed.Host, "", parsed.Name, s),
	}
	m.SetState(StateMissing)
	return m, nil
}

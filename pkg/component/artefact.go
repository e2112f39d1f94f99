package component

import (
	"fmt"

	"github.com/cuemby/shepherd/pkg/uri"
)

// Artefact is a named, versioned package installed on a host. It is
// registered under both its versioned URI and its revision-alias URI
// (current/next), which the wiring step collapses onto the same instance.
type Artefact struct {
	Base
	Version     string
	Revision    string
	RevisionURI string
}

// NewArtefact builds an Artefact for hostName. revision is either
// uri.Current or uri.Next.
func NewArtefact(hostName, name, version, revision string) *Artefact {
	self := uri.Create(uri.Artefact, hostName, name, version)
	a := &Artefact{
		Base:        newBase(KindArtefact, hostName, "", name, self),
		Version:     version,
		Revision:    revision,
		RevisionURI: uri.Create(uri.Artefact, hostName, name, revision),
	}
	a.AddNeed(uri.Create(uri.Host, hostName))
	a.SetState(StateInstalled)
	return a
}

func (a *Artefact) UpdateArtefact() RemoteCommand {
	return RemoteCommand{
		Host: a.Host(),
		Argv: []string{"yadt-artefact-update", a.Name()},
		Tag:  fmt.Sprintf("artefact_%s_%s_update", a.Host(), a.Name()),
	}
}

package component

import (
	"fmt"

	"github.com/cuemby/shepherd/pkg/uri"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// stateDescriptions maps a service spec's declared "state" string onto the
// component State vocabulary; anything unrecognized defaults to Unknown.
var stateDescriptions = map[string]State{
	"up":            StateUp,
	"down":          StateDown,
	"update_needed": StateUpdateNeeded,
	"unknown":       StateUnknown,
}

// DescribeState resolves a raw state string from a service spec or a probe
// exit code mapping into the component State vocabulary.
func DescribeState(raw string) State {
	if s, ok := stateDescriptions[raw]; ok {
		return s
	}
	return StateUnknown
}

// Service is a declared service on a host.
type Service struct {
	Base

	Class         string
	StateHandling string
}

// NewService instantiates a Service from its host and declarative spec,
// merging needs_services/needs_artefacts into needs (qualifying bare
// service names to the host) and setting state via the state-description
// table.
func NewService(hostName string, name string, spec ServiceSpec) *Service {
	hostURI := uri.Create(uri.Host, hostName)
	self := uri.Create(uri.Service, hostName, name)
	s := &Service{
		Base:          newBase(KindService, hostName, "", name, self),
		Class:         spec.Class,
		StateHandling: spec.StateHandling,
	}
	s.AddNeed(hostURI)

	for _, needed := range spec.NeedsServices {
		if uri.IsQualified(needed) {
			s.AddNeed(needed)
		} else {
			s.AddNeed(uri.Create(uri.Service, hostName, needed))
		}
	}
	for _, needed := range spec.NeedsArtefacts {
		s.AddNeed(uri.Create(uri.Artefact, hostName, needed, uri.Current))
	}

	s.SetState(DescribeState(spec.State))
	return s
}

func (s *Service) Stop(force bool) RemoteCommand {
	return RemoteCommand{
		Host:  s.Host(),
		Argv:  []string{"yadt-service-stop", s.Name()},
		Tag:   fmt.Sprintf("%s_stop", s.Name()),
		Force: force,
	}
}

func (s *Service) Start(force bool) RemoteCommand {
	return RemoteCommand{
		Host:  s.Host(),
		Argv:  []string{"yadt-service-start", s.Name()},
		Tag:   fmt.Sprintf("%s_start", s.Name()),
		Force: force,
	}
}

func (s *Service) Status() RemoteCommand {
	return RemoteCommand{
		Host: s.Host(),
		Argv: []string{"yadt-service-status", s.Name()},
		Tag:  fmt.Sprintf("%s_status", s.Name()),
	}
}

func (s *Service) Ignore(message string, force bool) (RemoteCommand, error) {
	if message == "" {
		return RemoteCommand{}, yadterr.New(yadterr.Usage, "the \"message\" parameter is mandatory")
	}
	return RemoteCommand{
		Host:  s.Host(),
		Argv:  []string{"yadt-service-ignore", s.Name(), message},
		Tag:   fmt.Sprintf("ignore_%s", s.Name()),
		Force: force,
	}, nil
}

func (s *Service) Unignore() RemoteCommand {
	return RemoteCommand{
		Host: s.Host(),
		Argv: []string{"yadt-service-unignore", s.Name()},
		Tag:  fmt.Sprintf("unignore_%s", s.Name()),
	}
}

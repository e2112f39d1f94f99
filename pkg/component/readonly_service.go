package component

import (
	"github.com/cuemby/shepherd/pkg/uri"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// ReadonlyService substitutes for a service referenced by another component
// that the referenced host doesn't actually declare. It is observable but
// not startable/stoppable.
type ReadonlyService struct {
	Base
	hostIgnored bool
}

// NewReadonlyService builds a readonly stand-in for name on hostName.
// hostIgnored marks the case where the owning host is itself an
// IgnoredHost, making start/stop no-ops instead of errors.
func NewReadonlyService(hostName, name string, hostIgnored bool) *ReadonlyService {
	self := uri.Create(uri.Service, hostName, name)
	s := &ReadonlyService{
		Base:        newBase(KindReadonlyService, hostName, "", name, self),
		hostIgnored: hostIgnored,
	}
	s.AddNeed(uri.Create(uri.Host, hostName))
	return s
}

// Status returns the remote probe command used both for the pipeline's
// missing-reference resolution and for a later `status` verb invocation.
func (r *ReadonlyService) Status() RemoteCommand {
	return RemoteCommand{
		Host: r.Host(),
		Argv: []string{"yadt-service-status", r.Name()},
		Tag:  r.Name() + "_status",
	}
}

// Start degenerates to a status probe, per the data model; a no-op success
// (zero-value RemoteCommand) is returned when the owning host is ignored.
func (r *ReadonlyService) Start(force bool) RemoteCommand {
	if r.hostIgnored {
		return RemoteCommand{}
	}
	return r.Status()
}

// Stop always fails with POLICY_DENIED unless the owning host is ignored,
// in which case it is a no-op success.
func (r *ReadonlyService) Stop(force bool) (RemoteCommand, error) {
	if r.hostIgnored {
		return RemoteCommand{}, nil
	}
	return RemoteCommand{}, yadterr.New(yadterr.PolicyDenied, "not allowed to stop readonly "+r.URI())
}

package component

import (
	"strings"

	"github.com/cuemby/shepherd/pkg/uri"
)

// UnreachableHost is a placeholder inserted when a host's SSH probe exited
// 255 while --ignore-unreachable-hosts was set. It never participates in
// mutating actions; the planner treats it as skipped.
type UnreachableHost struct {
	Base
	FQDN string
}

func NewUnreachableHost(fqdn string) *UnreachableHost {
	hostname := strings.SplitN(fqdn, ".", 2)[0]
	self := uri.Create(uri.Host, hostname)
	h := &UnreachableHost{
		Base: newBase(KindUnreachableHost, hostname, fqdn, hostname, self),
		FQDN: fqdn,
	}
	h.Base.hostURI = h.Base.uri
	h.SetState(StateUnknown)
	return h
}

func (h *UnreachableHost) IsReachable() bool { return false }
func (h *UnreachableHost) IsUnknown() bool   { return true }

func (h *UnreachableHost) IsLockedByOther() bool { return false }
func (h *UnreachableHost) IsLockedByMe() bool    { return false }

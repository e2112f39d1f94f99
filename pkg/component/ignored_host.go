package component

import (
	"strings"

	"github.com/cuemby/shepherd/pkg/uri"
)

// IgnoredHost is a host flagged as ignored by the broadcast service. Lock,
// unlock, and status on an IgnoredHost are no-ops that succeed with no
// remote command spawned.
type IgnoredHost struct {
	Base
	FQDN    string
	Message string
}

func NewIgnoredHost(fqdn, message string) *IgnoredHost {
	hostname := strings.SplitN(fqdn, ".", 2)[0]
	self := uri.Create(uri.Host, hostname)
	h := &IgnoredHost{
		Base:    newBase(KindIgnoredHost, hostname, fqdn, hostname, self),
		FQDN:    fqdn,
		Message: message,
	}
	h.Base.hostURI = h.Base.uri
	return h
}

func (h *IgnoredHost) IsReachable() bool { return false }
func (h *IgnoredHost) IsUnknown() bool   { return false }
func (h *IgnoredHost) IsUptodate() bool  { return false }

func (h *IgnoredHost) IsLocked() bool      { return false }
func (h *IgnoredHost) IsLockedByOther() bool { return false }
func (h *IgnoredHost) IsLockedByMe() bool    { return false }

// Lock is a no-op success: ignored hosts never get an SSH command sent.
func (h *IgnoredHost) Lock(message string, force bool) error { return nil }

// Unlock is a no-op success.
func (h *IgnoredHost) Unlock(force bool) error { return nil }

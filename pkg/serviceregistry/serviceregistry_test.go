package serviceregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

func TestBuildDefaultClass(t *testing.T) {
	svc, err := Build("it01", "frontend", component.ServiceSpec{State: "up"})
	require.NoError(t, err)
	assert.Equal(t, "service://it01/frontend", svc.URI())
	assert.Equal(t, component.StateUp, svc.State())
}

func TestBuildLegacyAlias(t *testing.T) {
	svc, err := Build("it01", "frontend", component.ServiceSpec{Class: "GenericService"})
	require.NoError(t, err)
	assert.Equal(t, "service://it01/frontend", svc.URI())
}

func TestBuildUnknownClassFails(t *testing.T) {
	_, err := Build("it01", "frontend", component.ServiceSpec{Class: "TelekinesisService"})
	require.Error(t, err)
	var yerr *yadterr.Error
	require.ErrorAs(t, err, &yerr)
	assert.Equal(t, yadterr.Infrastructure, yerr.Kind)
}

func TestRegisterCustomClass(t *testing.T) {
	Register("PingService", func(hostName, name string, spec component.ServiceSpec) *component.Service {
		s := component.NewService(hostName, name, spec)
		s.StateHandling = "serverside"
		return s
	})

	svc, err := Build("it01", "pinger", component.ServiceSpec{Class: "PingService"})
	require.NoError(t, err)
	assert.Equal(t, "serverside", svc.StateHandling)
}

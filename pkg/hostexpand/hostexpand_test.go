package hostexpand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shepherd/pkg/component"
)

func registryFixture() *component.Registry {
	r := component.NewRegistry()
	r.Set(component.NewHost("web01.domain"))
	r.Set(component.NewHost("web02.domain"))
	r.Set(component.NewHost("db01.domain"))
	r.Set(component.NewService("web01", "frontend", component.ServiceSpec{}))
	r.Set(component.NewService("web02", "frontend", component.ServiceSpec{}))
	r.Set(component.NewService("db01", "mysql", component.ServiceSpec{}))
	return r
}

func TestExpandAllHosts(t *testing.T) {
	uris, err := New(registryFixture()).Expand("host://*")
	require.NoError(t, err)
	assert.Equal(t, []string{"host://db01", "host://web01", "host://web02"}, uris)
}

func TestExpandHostGlob(t *testing.T) {
	uris, err := New(registryFixture()).Expand("host://web*")
	require.NoError(t, err)
	assert.Equal(t, []string{"host://web01", "host://web02"}, uris)
}

func TestExpandServicesAcrossHosts(t *testing.T) {
	uris, err := New(registryFixture()).Expand("service://*/frontend")
	require.NoError(t, err)
	assert.Equal(t, []string{"service://web01/frontend", "service://web02/frontend"}, uris)
}

func TestExpandExactURI(t *testing.T) {
	uris, err := New(registryFixture()).Expand("service://db01/mysql")
	require.NoError(t, err)
	assert.Equal(t, []string{"service://db01/mysql"}, uris)
}

func TestExpandNoMatchIsEmpty(t *testing.T) {
	uris, err := New(registryFixture()).Expand("host://mail*")
	require.NoError(t, err)
	assert.Empty(t, uris)
}

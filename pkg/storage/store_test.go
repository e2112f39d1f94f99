package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shepherd/pkg/component"
)

func registryFixture(t *testing.T) *component.Registry {
	t.Helper()
	r := component.NewRegistry()
	h := component.NewHost("it01.domain")
	h.SetAttrsFromData(component.HostRecord{Hostname: "it01"}, "me")
	r.Set(h)
	r.Set(component.NewService("it01", "frontend", component.ServiceSpec{State: "up"}))
	art := component.NewArtefact("it01", "mypkg", "3", "current")
	r.Set(art)
	r.SetAt(art.RevisionURI, art)
	require.NoError(t, component.Wire(r))
	return r
}

func TestSaveRegistryWritesSnapshotAndManifests(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	assert.False(t, store.HasSnapshot())
	require.NoError(t, store.SaveRegistry(registryFixture(t)))
	assert.True(t, store.HasSnapshot())

	hosts, err := os.ReadFile(filepath.Join(dir, "hosts"))
	require.NoError(t, err)
	assert.Equal(t, "host://it01\n", string(hosts))

	services, err := os.ReadFile(filepath.Join(dir, "services"))
	require.NoError(t, err)
	assert.Equal(t, "service://it01/frontend\n", string(services))

	artefacts, err := os.ReadFile(filepath.Join(dir, "artefacts"))
	require.NoError(t, err)
	assert.Equal(t, "artefact://it01/mypkg/3\n", string(artefacts))

	statusline, err := os.ReadFile(filepath.Join(dir, "statusline"))
	require.NoError(t, err)
	assert.Contains(t, string(statusline), "3 components")
	assert.Contains(t, string(statusline), "1 up")
	assert.Contains(t, string(statusline), "1 uptodate")
	assert.Contains(t, string(statusline), "1 installed")
}

func TestSaveRegistryReplacesPriorSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveRegistry(registryFixture(t)))

	// A later, smaller run fully replaces the earlier snapshot.
	r := component.NewRegistry()
	r.Set(component.NewHost("it02.domain"))
	require.NoError(t, store.SaveRegistry(r))

	hosts, err := os.ReadFile(filepath.Join(dir, "hosts"))
	require.NoError(t, err)
	assert.Equal(t, "host://it02\n", string(hosts))

	services, err := os.ReadFile(filepath.Join(dir, "services"))
	require.NoError(t, err)
	assert.Empty(t, string(services))
}

func TestWritePerHostYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WritePerHostYAML(dir, "it01", []byte("fqdn: it01.domain\n")))

	data, err := os.ReadFile(filepath.Join(dir, "current_state_it01.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "fqdn: it01.domain\n", string(data))
}

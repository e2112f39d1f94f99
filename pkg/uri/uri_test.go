package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHost(t *testing.T) {
	u, err := Parse("host://it01")
	require.NoError(t, err)
	assert.Equal(t, URI{Type: Host, Host: "it01"}, u)
}

func TestParseServiceAndArtefact(t *testing.T) {
	u, err := Parse("service://it01/frontend")
	require.NoError(t, err)
	assert.Equal(t, URI{Type: Service, Host: "it01", Name: "frontend"}, u)

	u, err = Parse("artefact://it01/mypkg/next")
	require.NoError(t, err)
	assert.Equal(t, URI{Type: Artefact, Host: "it01", Name: "mypkg", Version: Next}, u)
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse("bogus://it01")
	assert.Error(t, err)
}

func TestParseRejectsMissingHost(t *testing.T) {
	_, err := Parse("host://")
	assert.Error(t, err)
}

func TestCreateAndStringRoundtrip(t *testing.T) {
	s := Create(Artefact, "it01", "mypkg", "3")
	assert.Equal(t, "artefact://it01/mypkg/3", s)

	u, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, s, u.String())
}

func TestChangeVersion(t *testing.T) {
	s, err := ChangeVersion("artefact://it01/mypkg/3", Next)
	require.NoError(t, err)
	assert.Equal(t, "artefact://it01/mypkg/next", s)
}

func TestTwoAliasURIsDenoteSameEntity(t *testing.T) {
	current, err := ChangeVersion("artefact://it01/mypkg/3", Current)
	require.NoError(t, err)
	next, err := ChangeVersion("artefact://it01/mypkg/3", Next)
	require.NoError(t, err)

	curParsed, err := Parse(current)
	require.NoError(t, err)
	nextParsed, err := Parse(next)
	require.NoError(t, err)

	assert.Equal(t, curParsed.Host, nextParsed.Host)
	assert.Equal(t, curParsed.Name, nextParsed.Name)
	assert.NotEqual(t, curParsed.Version, nextParsed.Version)
}

package remoteproc

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/log"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// shellSpawner runs the argv through a local shell instead of SSH.
type shellSpawner struct{}

func (shellSpawner) Spawn(ctx context.Context, host string, argv []string, stdin string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", strings.Join(argv, " "))
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	return cmd, nil
}

// brokenSpawner points at a binary that cannot exist.
type brokenSpawner struct{}

func (brokenSpawner) Spawn(ctx context.Context, host string, argv []string, stdin string) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "/nonexistent/binary/for/this/test"), nil
}

func TestRunCapturesStdout(t *testing.T) {
	cmd := component.RemoteCommand{Host: "it01", Argv: []string{"echo", "hello"}, Tag: "probe"}
	p := Run(context.Background(), shellSpawner{}, nil, cmd, true)

	o := <-p.Done()
	require.NoError(t, o.Err)
	assert.Equal(t, 0, o.ExitCode)
	assert.Equal(t, "hello\n", p.Data)
}

func TestRunWithoutCaptureDiscardsStdout(t *testing.T) {
	cmd := component.RemoteCommand{Host: "it01", Argv: []string{"echo", "hello"}}
	p := Run(context.Background(), shellSpawner{}, nil, cmd, false)

	o := <-p.Done()
	require.NoError(t, o.Err)
	assert.Empty(t, p.Data)
}

func TestRunReportsExitCode(t *testing.T) {
	cmd := component.RemoteCommand{Host: "it01", Argv: []string{"exit", "255"}}
	p := Run(context.Background(), shellSpawner{}, nil, cmd, false)

	o := <-p.Done()
	require.NoError(t, o.Err)
	assert.Equal(t, 255, o.ExitCode)
}

func TestRunCapturesStderr(t *testing.T) {
	cmd := component.RemoteCommand{Host: "it01", Argv: []string{"echo oops >&2; exit 1"}}
	p := Run(context.Background(), shellSpawner{}, nil, cmd, false)

	o := <-p.Done()
	require.NoError(t, o.Err)
	assert.Equal(t, 1, o.ExitCode)
	assert.Equal(t, "oops\n", p.Err)
}

func TestRunForwardsStdin(t *testing.T) {
	cmd := component.RemoteCommand{Host: "it01", Argv: []string{"cat"}, Stdin: "update"}
	p := Run(context.Background(), shellSpawner{}, nil, cmd, true)

	o := <-p.Done()
	require.NoError(t, o.Err)
	assert.Equal(t, "update", p.Data)
}

func TestRunSpawnFailureIsInfrastructure(t *testing.T) {
	cmd := component.RemoteCommand{Host: "it01", Argv: []string{"whatever"}}
	p := Run(context.Background(), brokenSpawner{}, nil, cmd, false)

	o := <-p.Done()
	require.Error(t, o.Err)
	var yerr *yadterr.Error
	require.True(t, errors.As(o.Err, &yerr))
	assert.Equal(t, yadterr.Infrastructure, yerr.Kind)
}

func TestRunAttachesComponent(t *testing.T) {
	svc := component.NewService("it01", "frontend", component.ServiceSpec{})
	cmd := svc.Status()
	p := Run(context.Background(), shellSpawner{}, svc, component.RemoteCommand{Host: cmd.Host, Argv: []string{"true"}}, false)

	<-p.Done()
	assert.Same(t, component.Component(svc), p.Component)
}

func TestSSHSpawnerArgv(t *testing.T) {
	s := SSHSpawner{ExtraArgs: []string{"-o", "BatchMode=yes"}}
	cmd, err := s.Spawn(context.Background(), "it01.domain", []string{"/usr/bin/yadt-status"}, "")
	require.NoError(t, err)

	args := cmd.Args
	assert.Equal(t, []string{"ssh", "-o", "BatchMode=yes", "it01.domain", "/usr/bin/yadt-status"}, args)
}

// Package remoteproc wraps a spawned SSH invocation: it captures
// stdout/stderr/exit code and exposes a channel-as-future the executor and
// status pipeline await on, so many remote commands can be in flight under
// the executor's worker pool at once.
package remoteproc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cuemby/shepherd/pkg/component"
	"github.com/cuemby/shepherd/pkg/log"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// Outcome is the resolved value of a Process's Done future.
type Outcome struct {
	ExitCode int
	Err      error
}

// Process wraps one spawned remote command. Stdout is only retained when
// Run's capture argument is set (the status decoder wants it); otherwise it
// is logged at debug level, truncated to 200 bytes, and discarded. The log
// level is fixed and not chosen by the caller. Stderr is always captured
// for diagnostics.
type Process struct {
	Component component.Component
	Cmd       component.RemoteCommand

	Data string // accumulated stdout, populated when capture is set
	Err  string // accumulated stderr, always populated

	done chan Outcome
}

// Spawner issues the actual subprocess. The default implementation runs
// `ssh <host> <argv...>`; tests substitute a fake.
type Spawner interface {
	Spawn(ctx context.Context, host string, argv []string, stdin string) (*exec.Cmd, error)
}

// SSHSpawner is the production Spawner: it shells out to the system ssh
// client.
type SSHSpawner struct {
	// SSHBinary defaults to "ssh" if empty.
	SSHBinary string
	// ExtraArgs are inserted between "ssh" and the host, e.g. ["-o",
	// "BatchMode=yes"].
	ExtraArgs []string
}

func (s SSHSpawner) Spawn(ctx context.Context, host string, argv []string, stdin string) (*exec.Cmd, error) {
	bin := s.SSHBinary
	if bin == "" {
		bin = "ssh"
	}
	args := append(append([]string{}, s.ExtraArgs...), host)
	args = append(args, argv...)
	cmd := exec.CommandContext(ctx, bin, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	return cmd, nil
}

// Run spawns cmd's remote command via spawner and returns a Process whose
// Done channel resolves once the subprocess exits (or fails to spawn).
// capture controls whether stdout is buffered into Data (the status
// decoder needs it; most mutating commands only care about the exit code
// and stream stdout to the log instead).
func Run(ctx context.Context, spawner Spawner, c component.Component, cmd component.RemoteCommand, capture bool) *Process {
	p := &Process{
		Component: c,
		Cmd:       cmd,
		done:      make(chan Outcome, 1),
	}

	argv := cmd.Argv
	if cmd.Force {
		argv = append(append([]string{}, cmd.Argv...), "--force")
	}
	execCmd, err := spawner.Spawn(ctx, cmd.Host, argv, cmd.Stdin)
	if err != nil {
		p.done <- Outcome{ExitCode: -1, Err: yadterr.Wrap(yadterr.Infrastructure, "spawn failed", err)}
		close(p.done)
		return p
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	logger := log.WithHost(cmd.Host)
	tag := cmd.Tag
	if tag == "" {
		tag = strings.Join(cmd.Argv, " ")
	}

	go func() {
		runErr := execCmd.Run()
		p.Err = stderr.String()
		if capture {
			p.Data = stdout.String()
		} else if stdout.Len() > 0 {
			logger.Debug().Str("tag", tag).Msg(truncate(stdout.String(), 200))
		}

		exitCode, spawnErr := resolveExit(runErr)
		if spawnErr != nil {
			p.done <- Outcome{ExitCode: -1, Err: yadterr.Wrap(yadterr.Infrastructure, "spawn failed", spawnErr)}
			close(p.done)
			return
		}
		p.done <- Outcome{ExitCode: exitCode}
		close(p.done)
	}()

	return p
}

// Done returns the channel the caller awaits the Outcome on.
func (p *Process) Done() <-chan Outcome {
	return p.done
}

func resolveExit(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FormatTag renders a human-readable identifier for logs/errors when cmd.Tag
// is empty.
func FormatTag(cmd component.RemoteCommand) string {
	if cmd.Tag != "" {
		return cmd.Tag
	}
	return fmt.Sprintf("%s:%s", cmd.Host, strings.Join(cmd.Argv, " "))
}

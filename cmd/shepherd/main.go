package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/cuemby/shepherd/pkg/action"
	"github.com/cuemby/shepherd/pkg/log"
	"github.com/cuemby/shepherd/pkg/metrics"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error onto the process exit code: 1 for usage and
// validation failures and for errors outside the yadterr types (such as
// command-line parsing errors), the failed-action count for an aggregated
// executor failure, 2 for every other yadterr kind.
func exitCode(err error) int {
	var yerr *yadterr.Error
	if errors.As(err, &yerr) {
		return yerr.ExitCode()
	}
	var aerr *yadterr.ActionException
	if errors.As(err, &aerr) {
		return aerr.ExitCode()
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "shepherd <verb> [selector]",
	Short: "Shepherd - fleet deployment and lifecycle orchestrator",
	Long: `Shepherd discovers the state of a declared fleet of hosts over SSH,
builds a dependency graph over hosts, services and installed artefacts,
and executes verbs (status, update, start, stop, lock, unlock, ignore,
unignore) as parallel plans that respect ordering constraints.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Shepherd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().StringP("message", "m", "", "Message attached to lock/ignore")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose (debug) logging")
	rootCmd.PersistentFlags().IntP("parallel", "p", 1, "Maximum number of actions in flight")
	rootCmd.PersistentFlags().Bool("no-final-status", false, "Skip the status run after executing the plan")
	rootCmd.PersistentFlags().Bool("ignore-unreachable-hosts", false, "Substitute a placeholder for hosts whose SSH probe exits 255")
	rootCmd.PersistentFlags().Bool("force", false, "Pass --force through to remote commands")
	rootCmd.PersistentFlags().String("target", "target.yaml", "Target declaration file (hosts and their groups)")
	rootCmd.PersistentFlags().String("out-dir", "out", "Directory for persisted status artifacts")
	rootCmd.PersistentFlags().String("log-file", "", "Base path for per-host raw status logs")
	rootCmd.PersistentFlags().String("broadcast-url", "", "Base URL of the broadcast service (empty disables it)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve Prometheus metrics on during the run (empty disables it)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging, initMetrics)

	rootCmd.AddCommand(
		verbCmd(action.Status, "Probe every declared host and rebuild the component graph"),
		verbCmd(action.Update, "Update selected hosts: stop services, install artefacts, start services"),
		verbCmd(action.Start, "Start selected services, dependencies first"),
		verbCmd(action.Stop, "Stop selected services, dependents first"),
		verbCmd(action.Lock, "Acquire the advisory lock on selected hosts"),
		verbCmd(action.Unlock, "Release the advisory lock on selected hosts"),
		verbCmd(action.Ignore, "Administratively exclude selected components"),
		verbCmd(action.Unignore, "Re-include previously ignored components"),
	)
}

func initLogging() {
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	log.Init(log.Config{
		Level:      level,
		JSONOutput: logJSON,
	})
}

func initMetrics() {
	addr, _ := rootCmd.PersistentFlags().GetString("metrics-addr")
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger := log.WithComponent("metrics")
			logger.Warn().Err(err).Msg("metrics listener failed")
		}
	}()
}

// verbCmd builds the cobra subcommand for one orchestrator verb. All eight
// verbs share the same shape: an optional selector argument plus the
// persistent flags, dispatched through run().
func verbCmd(verb action.Verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s [selector]", verb),
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selector := "host://*"
			if len(args) > 0 {
				selector = args[0]
			}
			opts, err := collectOptions(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), verb, selector, opts)
		},
	}
}

// options carries everything the flags contribute to one invocation.
type options struct {
	Message                string
	Parallel               int
	NoFinalStatus          bool
	IgnoreUnreachableHosts bool
	Force                  bool
	TargetFile             string
	OutDir                 string
	LogFile                string
	BroadcastURL           string
	CurrentUser            string
}

func collectOptions(cmd *cobra.Command) (options, error) {
	flags := cmd.Flags()
	var opts options
	opts.Message, _ = flags.GetString("message")
	opts.Parallel, _ = flags.GetInt("parallel")
	opts.NoFinalStatus, _ = flags.GetBool("no-final-status")
	opts.IgnoreUnreachableHosts, _ = flags.GetBool("ignore-unreachable-hosts")
	opts.Force, _ = flags.GetBool("force")
	opts.TargetFile, _ = flags.GetString("target")
	opts.OutDir, _ = flags.GetString("out-dir")
	opts.LogFile, _ = flags.GetString("log-file")
	opts.BroadcastURL, _ = flags.GetString("broadcast-url")

	u, err := user.Current()
	if err != nil {
		return options{}, yadterr.Wrap(yadterr.Infrastructure, "resolving current user", err)
	}
	opts.CurrentUser = u.Username
	return opts, nil
}

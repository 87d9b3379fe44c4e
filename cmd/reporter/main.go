package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Joguig/client-event-reporter/internal/agent"
	"github.com/Joguig/client-event-reporter/internal/version"
)

var (
	cfgFile     string
	logLevel    string
	destination string
	namespace   string
	relayFile   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reporter",
		Short: "Batching client for the client event reporter",
		Long: `reporter sends counters, timers, gauges and log lines to the
client event reporter collector. Stats are batched and flushed every
500ms, or immediately once more than 20 are pending.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "path to config file")
	flags.StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	flags.StringVar(&destination, "destination", "", "override destination (production, darklaunch, staging, ...)")
	flags.StringVar(&namespace, "namespace", "", "override namespace prefixed to counter and timer keys")

	cmd.AddCommand(
		statCmd(agent.CommandCounter, "counter <key> [count] [sample_rate]", "Report a counter", 1, 3),
		statCmd(agent.CommandTimer, "timer <key> <milliseconds> [sample_rate]", "Report a timer", 2, 3),
		statCmd(agent.CommandGauge, "gauge <key>", "Report a gauge", 1, 1),
		statCmd(agent.CommandLine, "line <text...>", "Report a log line", 1, -1),
		relayCmd(),
		versionCmd(),
	)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

// statCmd reports a single stat and flushes it before exiting.
func statCmd(name, use, short string, minArgs, maxArgs int) *cobra.Command {
	args := cobra.MinimumNArgs(minArgs)
	if maxArgs >= 0 {
		args = cobra.RangeArgs(minArgs, maxArgs)
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := agent.ParseCommand(name + " " + strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("parsing %s: %w", name, err)
			}

			return withAgent(cmd.Context(), func(_ context.Context, a agent.Agent) error {
				return a.Apply(command)
			})
		},
	}
}

func relayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Report commands read line by line from stdin or a file",
		Long: `relay reads one command per line until EOF or SIGINT/SIGTERM:

  counter <key> [count] [sample_rate]
  timer <key> <milliseconds> [sample_rate]
  gauge <key>
  line <text...>
  prefix <namespace>

Blank lines and lines starting with # are ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in io.Reader = os.Stdin

			if relayFile != "" && relayFile != "-" {
				f, err := os.Open(relayFile)
				if err != nil {
					return fmt.Errorf("opening %s: %w", relayFile, err)
				}
				defer f.Close()

				in = f
			}

			return withAgent(cmd.Context(), func(ctx context.Context, a agent.Agent) error {
				return a.Relay(ctx, in)
			})
		},
	}

	cmd.Flags().StringVar(&relayFile, "file", "-", "read commands from file instead of stdin")

	return cmd
}

// withAgent loads configuration, runs fn against a started agent and
// flushes on the way out.
func withAgent(parent context.Context, fn func(context.Context, agent.Agent) error) error {
	if parent == nil {
		parent = context.Background()
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file and environment.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if destination != "" {
		cfg.Destination = destination
	}

	if namespace != "" {
		cfg.Namespace = namespace
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(
		parent,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	// The agent outlives the signal context so the final flush can run.
	if err := a.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	runErr := fn(ctx, a)

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")

		if runErr == nil {
			return fmt.Errorf("stopping agent: %w", err)
		}
	}

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}

	return nil
}

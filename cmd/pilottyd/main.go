// Command pilottyd is the daemon bootstrap entrypoint: it resolves
// config, optionally daemonizes, takes the single-instance lock, and
// serves the Unix-domain-socket protocol until shutdown. Structured as
// a cobra root with a version subcommand; --help uses cobra's default
// rendering since there's no interactive TUI surface here to justify a
// fancier renderer.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pilotty/pilotty/internal/config"
	"github.com/pilotty/pilotty/internal/daemon"
	"github.com/pilotty/pilotty/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var foreground bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pilottyd",
	Short:   "Terminal automation session daemon",
	Long:    "pilottyd spawns and drives PTY-backed sessions over a Unix domain socket, for programs that script interactive terminal UIs.",
	Version: version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().BoolVar(&foreground, "foreground", false, "run in the foreground instead of daemonizing")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pilottyd version %s\n", version)
		if commit != "none" && commit != "" {
			fmt.Printf("commit: %s\n", commit)
		}
		if date != "unknown" && date != "" {
			fmt.Printf("built: %s\n", date)
		}
	},
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := config.Runtime
	logger.Configure(logger.GetLogLevelFromEnv(cfg.Dev), cfg.Dev)

	if !foreground {
		detached, err := daemon.Daemonize()
		if err != nil {
			return err
		}
		if detached {
			return nil
		}
	}

	d := daemon.New(cfg)
	if err := d.Start(); err != nil {
		var already *daemon.ErrAlreadyRunning
		if errors.As(err, &already) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return err
	}

	logger.Infof("pilottyd listening on %s", cfg.SocketPath)
	return d.Serve(context.Background())
}

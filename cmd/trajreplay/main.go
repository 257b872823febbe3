// Command trajreplay replays recorded robot episodes against a simulator and checks that
// the simulator reproduces them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trajreplay/internal/replay"
)

func main() {
	root := &cobra.Command{
		Use:           "trajreplay",
		Short:         "Replay and verify recorded manipulation episodes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", replay.ErrConfig, err)
	})
	root.AddCommand(playCmd())
	root.AddCommand(episodesCmd())
	root.AddCommand(inspectCmd())
	root.AddCommand(fakesimCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "trajreplay:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for bad invocations and 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, replay.ErrConfig) {
		return 2
	}
	return 1
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "[trajreplay] ", log.LstdFlags|log.Lmicroseconds)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Command storyctl plays and lists bedtime stories from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bedtime-stories/server/internal/app"
	"bedtime-stories/server/internal/config"
	"bedtime-stories/server/internal/logging"
)

var (
	configPath string
	userID     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "storyctl",
	Short:         "Play interactive bedtime stories",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `storyctl runs the story engine in-process.

Stories are generated one segment at a time. After each segment pick one of
the three choices, type your own, or type "exit story" to stop early.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user id that owns saved stories")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadApp reads the config (falling back to the environment when the file
// is missing) and builds the story core.
func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}

	cfg.Logging.Output = "stderr"
	if !verbose {
		cfg.Logging.Level = "warn"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize story core", zap.Error(err))
		return nil, err
	}
	return core, nil
}

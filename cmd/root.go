package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrejsstepanovs/zuul-build/client"
	"github.com/andrejsstepanovs/zuul-build/config"
	"github.com/andrejsstepanovs/zuul-build/metrics"
	"github.com/andrejsstepanovs/zuul-build/stream"
	"github.com/spf13/cobra"
)

// App holds what the commands share once flags and configuration are
// resolved.
type App struct {
	configPath string
	verbose    bool
	token      string

	config   *config.Config
	logger   *slog.Logger
	recorder metrics.Recorder
	stderr   io.Writer
}

func newRootCmd(app *App) *cobra.Command {
	opts := &tailOptions{}
	cmd := &cobra.Command{
		Use:   "zuul-build",
		Short: "Follow the builds of a zuul-web tenant api, like 'tail -f'",
		Long: "Follow the builds of a zuul-web tenant api. Without a subcommand the newest builds " +
			"are printed as they complete; --since catches up from a known build first.",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.handleTail(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&app.configPath, "config", config.DefaultFile, "configuration file")
	cmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&app.token, "token", "", "bearer token for the zuul api")
	addTailFlags(cmd, opts)

	cmd.AddCommand(
		newBuildsCmd(app),
		newBuildCmd(app),
		newArchiveCmd(app),
		newSyncCmd(app),
		newSearchCmd(app),
	)
	return cmd
}

// setup configures logging and loads the configuration file. An explicit
// --config must exist; the default one is optional.
func (a *App) setup(cmd *cobra.Command, _ []string) error {
	if a.stderr == nil {
		a.stderr = cmd.ErrOrStderr()
	}
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	cfg, err := config.Load(a.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.config = cfg
	a.recorder = metrics.NoopRecorder{}
	return nil
}

func (a *App) clientOptions() []client.Option {
	opts := []client.Option{
		client.WithTimeout(a.config.Timeout),
		client.WithRecorder(a.recorder),
		client.WithLogger(a.logger),
	}
	if a.config.Token != "" {
		opts = append(opts, client.WithToken(a.config.Token))
	}
	return opts
}

func (a *App) streamOptions() []stream.Option {
	return []stream.Option{
		stream.WithPolicy(a.config.Retry.Policy()),
		stream.WithPageSize(a.config.PageSize),
		stream.WithRecorder(a.recorder),
		stream.WithLogger(a.logger),
	}
}

func (a *App) newClient() (*client.Client, error) {
	if err := a.config.RequireURL(); err != nil {
		return nil, err
	}
	return client.NewFromString(a.config.URL, a.clientOptions()...)
}

// run executes the command tree. Interrupted commands exit cleanly.
func run(ctx context.Context, cmd *cobra.Command, args []string) error {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil && ctx.Err() != nil {
		slog.Debug("Interrupted", "error", err)
		return nil
	}
	return err
}

// Execute initializes and runs the root command. It is the single entry point
// for the command-line interface.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &App{}
	if err := run(ctx, newRootCmd(app), os.Args[1:]); err != nil {
		slog.Error("zuul-build failed", "error", err)
		stop()
		os.Exit(1)
	}
}

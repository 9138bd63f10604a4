package cmd

import (
	"fmt"

	"github.com/andrejsstepanovs/zuul-build/archive"
	"github.com/andrejsstepanovs/zuul-build/search"
	"github.com/andrejsstepanovs/zuul-build/sink"
	"github.com/spf13/cobra"
)

func newArchiveCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "archive <alias> <url> [client-name] [model-name]",
		Short: "Archive the newest builds of a zuul-web api. First argument is the archive alias, second is the api url, optional third is the embedding client (none, litellm, ollama) and fourth the model name",
		Args:  cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.handleArchive(cmd, args, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", archive.DefaultLimit, "number of builds to archive")
	return cmd
}

func newSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <alias>",
		Short: "Archive the builds completed since the last archive or sync",
		Args:  cobra.ExactArgs(1),
		RunE:  app.handleSync,
	}
	return cmd
}

func newSearchCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "find <alias> <search-query>",
		Short: "Search archived builds. First argument is the archive alias, rest are search query",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.handleSearch(cmd, args, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	return cmd
}

func (a *App) archiveOptions() []archive.Option {
	return []archive.Option{
		archive.WithClientOptions(a.clientOptions()...),
		archive.WithStreamOptions(a.streamOptions()...),
		archive.WithEmbeddingEndpoint(a.config.Embedding.URL, a.config.Embedding.Token),
		archive.WithLogger(a.logger),
	}
}

func (a *App) handleArchive(cmd *cobra.Command, args []string, limit int) error {
	config, err := archive.ParseConfig(args)
	if err != nil {
		return err
	}
	config.Limit = limit

	saved, err := archive.Run(cmd.Context(), config, a.archiveOptions()...)
	if err != nil {
		return fmt.Errorf("error during archive operation: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archive '%s' built with %d builds\n", config.Alias, saved)
	return nil
}

func (a *App) handleSync(cmd *cobra.Command, args []string) error {
	alias := args[0]

	saved, err := archive.RunSync(cmd.Context(), alias, a.archiveOptions()...)
	if err != nil {
		return fmt.Errorf("error during sync operation: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archive '%s' synced, %d new builds\n", alias, saved)
	return nil
}

func (a *App) handleSearch(cmd *cobra.Command, args []string, limit int) error {
	config, err := search.ParseConfig(args)
	if err != nil {
		return err
	}
	config.Limit = limit
	config.EmbeddingURL = a.config.Embedding.URL
	config.EmbeddingToken = a.config.Embedding.Token

	a.logger.Debug("Searching", "alias", config.Alias, "query", config.Query)
	results, err := search.Run(cmd.Context(), config)
	if err != nil {
		return fmt.Errorf("error during search operation: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Found %d builds\n", len(results))
	for _, r := range results {
		fmt.Fprintf(out, "%s \t (%s %s %f)\n", sink.Line(r.Build), r.Build.Result, r.Build.EndTime.Format("2006-01-02 15:04"), r.Score)
	}
	return nil
}

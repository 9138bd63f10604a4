package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/andrejsstepanovs/zuul-build/client"
	"github.com/andrejsstepanovs/zuul-build/sink"
	"github.com/spf13/cobra"
)

type buildsOptions struct {
	url    string
	skip   uint32
	limit  uint32
	json   bool
	filter client.Filter
}

func newBuildsCmd(app *App) *cobra.Command {
	opts := &buildsOptions{}
	cmd := &cobra.Command{
		Use:   "builds",
		Short: "Print one page of completed builds, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.handleBuilds(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "zuul-web tenant api url")
	f.Uint32Var(&opts.skip, "skip", 0, "number of builds to skip")
	f.Uint32Var(&opts.limit, "limit", client.DefaultPageSize, "number of builds to fetch")
	f.BoolVar(&opts.json, "json", false, "print each build as one JSON line")
	f.StringVar(&opts.filter.Project, "project", "", "only builds of this project")
	f.StringVar(&opts.filter.Pipeline, "pipeline", "", "only builds of this pipeline")
	f.StringVar(&opts.filter.JobName, "job", "", "only builds of this job")
	f.StringVar(&opts.filter.Branch, "branch", "", "only builds of this branch")
	f.StringVar(&opts.filter.Result, "result", "", "only builds with this result, e.g. FAILURE")
	return cmd
}

func newBuildCmd(app *App) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "build <uuid>",
		Short: "Print one build as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("url") {
				app.config.URL = url
			}
			return app.handleBuild(cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "zuul-web tenant api url")
	return cmd
}

func (a *App) handleBuilds(cmd *cobra.Command, opts *buildsOptions) error {
	if cmd.Flags().Changed("url") {
		a.config.URL = opts.url
	}
	c, err := a.newClient()
	if err != nil {
		return err
	}

	results, err := c.Builds(cmd.Context(), client.BuildsQuery{Skip: opts.skip, Limit: opts.limit, Filter: opts.filter})
	if err != nil {
		return err
	}

	out := sink.NewPrinter(cmd.OutOrStdout(), opts.json)
	for i, r := range results {
		if r.Err != nil {
			a.logger.Error("Failed to decode build", "offset", opts.skip+uint32(i), "error", r.Err)
			continue
		}
		if err := out.Emit(cmd.Context(), r.Build); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) handleBuild(cmd *cobra.Command, uuid string) error {
	c, err := a.newClient()
	if err != nil {
		return err
	}

	build, err := c.Build(cmd.Context(), uuid)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(build, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode build %s: %w", uuid, err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

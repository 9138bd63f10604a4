package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andrejsstepanovs/zuul-build/client"
	"github.com/andrejsstepanovs/zuul-build/config"
	"github.com/andrejsstepanovs/zuul-build/db"
	"github.com/andrejsstepanovs/zuul-build/metrics"
	"github.com/andrejsstepanovs/zuul-build/models"
	"github.com/andrejsstepanovs/zuul-build/sink"
	"github.com/andrejsstepanovs/zuul-build/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

type tailOptions struct {
	url         string
	since       string
	json        bool
	delay       time.Duration
	archive     string
	resume      bool
	natsURL     string
	natsSubject string
	metricsAddr string
}

func addTailFlags(cmd *cobra.Command, opts *tailOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "zuul-web tenant api url, e.g. https://zuul.example.com/api/tenant/local/")
	f.StringVar(&opts.since, "since", "", "catch up with the builds completed after this build uuid")
	f.BoolVar(&opts.json, "json", false, "print each build as one JSON line")
	f.DurationVar(&opts.delay, "delay", config.DefaultDelay, "delay between two polls of the builds api")
	f.StringVar(&opts.archive, "archive", "", "also store builds in the archive with this alias")
	f.BoolVar(&opts.resume, "resume", false, "with --archive, start after the newest archived build")
	f.StringVar(&opts.natsURL, "nats-url", "", "also publish builds to this NATS server")
	f.StringVar(&opts.natsSubject, "nats-subject", sink.DefaultSubject, "NATS subject builds are published on")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// apply overrides configuration values with the flags that were set.
func (o *tailOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("url") {
		cfg.URL = o.url
	}
	if f.Changed("delay") {
		cfg.Delay = o.delay
	}
	if f.Changed("archive") {
		cfg.Archive = o.archive
	}
	if f.Changed("nats-url") {
		cfg.NATS.URL = o.natsURL
	}
	if f.Changed("nats-subject") {
		cfg.NATS.Subject = o.natsSubject
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
}

func (a *App) handleTail(cmd *cobra.Command, opts *tailOptions) error {
	ctx := cmd.Context()
	opts.apply(cmd, a.config)
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.resume && a.config.Archive == "" {
		return fmt.Errorf("--resume requires --archive")
	}

	if a.config.MetricsAddr != "" {
		shutdown, err := a.serveMetrics(a.config.MetricsAddr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	s := stream.New(c, a.streamOptions()...)

	outputs := sink.Multi{sink.NewPrinter(cmd.OutOrStdout(), opts.json)}
	if a.config.NATS.URL != "" {
		n, err := sink.NewNATS(a.config.NATS.URL, a.config.NATS.Subject)
		if err != nil {
			return err
		}
		outputs = append(outputs, n)
	}

	var out sink.Sink = outputs
	defer func() {
		if err := out.Close(); err != nil {
			a.logger.Error("Failed to close outputs", "error", err)
		}
	}()

	since := opts.since
	if a.config.Archive != "" {
		archive, dbConn, err := a.openArchive(ctx, a.config.Archive)
		if err != nil {
			return err
		}
		defer dbConn.Close()
		out = &sink.Fresh{Archive: archive, Next: outputs}

		if opts.resume && since == "" {
			since, err = db.LatestBuildUUID(dbConn)
			if err != nil {
				return err
			}
			a.logger.Debug("Resuming from the archive", "alias", a.config.Archive, "since", since)
		}
	}

	a.logger.Info("Following builds", "api", c.API().String(), "since", since, "delay", a.config.Delay)
	for build, err := range s.Tail(ctx, a.config.Delay, since) {
		if err != nil {
			return err
		}
		if err := out.Emit(ctx, build); err != nil {
			return err
		}
	}
	return nil
}

// openArchive opens the archive of alias, registering it with the current
// api url and embedding settings when it is new. The database stays open
// for the returned sink.
func (a *App) openArchive(ctx context.Context, alias string) (*sink.Archive, *sql.DB, error) {
	dbConn, err := db.SetupDatabase(alias, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	source, err := db.GetSourceByAlias(dbConn, alias)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		source = &models.Source{
			Alias:  alias,
			URL:    a.config.URL,
			Client: a.config.Embedding.Client,
			Model:  a.config.Embedding.Model,
		}
		if err := db.UpsertSource(dbConn, *source); err != nil {
			dbConn.Close()
			return nil, nil, err
		}
	case err != nil:
		dbConn.Close()
		return nil, nil, err
	case source.URL != a.config.URL:
		a.logger.Warn("Archive was created for another api", "alias", alias, "archive_url", source.URL, "url", a.config.URL)
	}

	if !source.HasEmbeddings() {
		return sink.NewArchive(dbConn, nil, a.logger), dbConn, nil
	}

	embedder, err := client.NewEmbedder(source.Client, source.Model, a.config.Embedding.URL, a.config.Embedding.Token)
	if err != nil {
		dbConn.Close()
		return nil, nil, err
	}
	dimensions, err := embedder.Dimensions(ctx)
	if err != nil {
		dbConn.Close()
		return nil, nil, err
	}
	if err := db.CreateVectorTable(dbConn, dimensions); err != nil {
		dbConn.Close()
		return nil, nil, err
	}
	return sink.NewArchive(dbConn, embedder, a.logger), dbConn, nil
}

// serveMetrics starts the Prometheus endpoint and switches the app to a
// Prometheus recorder. The returned func stops the server.
func (a *App) serveMetrics(addr string) (func(), error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.recorder = metrics.NewPrometheusRecorder(registry)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", "error", err)
		}
	}()
	a.logger.Info("Serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error("Failed to stop metrics server", "error", err)
		}
	}, nil
}

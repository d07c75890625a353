// Package internal provides the command implementations shared by the CLI
// front end: validate, apply, watch, history, and the MCP server.
package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/journal"
	"github.com/starford/raido/internal/manifestservice"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/remote"
	"github.com/starford/raido/internal/watch"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{historyLimit: 20}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// logger builds the structured JSON logger. MCP mode logs to stderr because
// stdout carries the protocol.
func (a *application) logger(toStderr bool) *slog.Logger {
	out := os.Stdout
	if toStderr {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// service wires the remote client, executor, and journal into the shared
// service layer. The returned closer releases the journal database.
func (a *application) service(logger *slog.Logger) (*manifestservice.Service, func(), error) {
	cfg := a.config

	client := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout, logger)
	exec := engine.New(client, logger,
		engine.WithChunkSize(cfg.Apply.ChunkSize),
		engine.WithPollInterval(cfg.Apply.PollInterval),
		engine.WithChunkTimeout(cfg.Apply.ChunkTimeout),
	)

	jrnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}

	svc := manifestservice.NewService(exec, jrnl, logger)
	return svc, func() { jrnl.Close() }, nil
}

// RunValidate statically validates a manifest and prints the structured
// report. It returns an error when the manifest is invalid.
func RunValidate(ctx context.Context, path string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger(true)

	svc := manifestservice.NewService(nil, nil, logger)
	report, err := svc.Validate(ctx, path, app.allowMissingIDFiles)
	if err != nil {
		return err
	}
	printJSON(report)
	if !report.Valid {
		return fmt.Errorf("manifest is invalid: %d error(s)", len(report.Errors))
	}
	return nil
}

// RunApply validates and applies a manifest, prints the structured report,
// and records the invocation in the journal.
func RunApply(ctx context.Context, path string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger(true)

	svc, closer, err := app.service(logger)
	if err != nil {
		return err
	}
	defer closer()

	report, err := svc.Apply(ctx, path, manifestservice.ApplyOptions{
		AllowMissingIDFiles: app.allowMissingIDFiles,
		SidecarPath:         app.sidecarPath,
		IdempotencyKey:      app.idempotencyKey,
	})
	if report != nil {
		printJSON(report)
	}
	if err != nil {
		return err
	}
	if !report.Success {
		return fmt.Errorf("apply finished with status %s", report.Status)
	}
	return nil
}

// RunWatch re-validates the manifest whenever it or its include closure
// changes, until interrupted.
func RunWatch(ctx context.Context, path string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger(false)
	svc := manifestservice.NewService(nil, nil, logger)

	validate := func(ctx context.Context) []string {
		report, err := svc.Validate(ctx, path, app.allowMissingIDFiles)
		if err != nil {
			logger.Error("watch: validation failed", slog.String("error", err.Error()))
			return []string{path}
		}
		if report.Valid {
			logger.Info("watch: manifest valid", slog.Int("operations", report.Operations))
		} else {
			for _, e := range report.Errors {
				logger.Warn("watch: violation",
					slog.String("code", e.Code),
					slog.String("message", e.Message))
			}
		}
		return report.Files(path)
	}

	g, gCtx := errgroup.WithContext(ctx)
	watchCtx, cancel := context.WithCancel(gCtx)

	g.Go(func() error {
		defer cancel()
		return watch.Run(watchCtx, logger, validate)
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("watch: received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-watchCtx.Done():
		}
		return nil
	})

	return g.Wait()
}

// RunHistory prints recent journaled applies.
func RunHistory(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger(true)

	svc, closer, err := app.service(logger)
	if err != nil {
		return err
	}
	defer closer()

	applies, chunks, err := svc.History(app.historyLimit)
	if err != nil {
		return err
	}
	type entry struct {
		Apply  journal.ApplyRow   `json:"apply"`
		Chunks []journal.ChunkRow `json:"chunks,omitempty"`
	}
	entries := make([]entry, len(applies))
	for i, a := range applies {
		entries[i] = entry{Apply: a, Chunks: chunks[a.ID]}
	}
	printJSON(entries)
	return nil
}

// RunMCP serves the MCP tools over stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger(true)

	svc, closer, err := app.service(logger)
	if err != nil {
		return err
	}
	defer closer()

	logger.Info("mcp: serving on stdio")
	return mcpserver.New(svc).ServeStdio()
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("encode result failed", slog.String("error", err.Error()))
		return
	}
	fmt.Println(string(out))
}

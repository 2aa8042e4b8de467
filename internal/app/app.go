// Package app wires the journal core together: configuration, logging, the
// activation registry, session manager, entry storage and the interactive
// shell. It also owns process lifetime: SIGINT and SIGTERM destroy every
// session key before the process exits.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gophjournal/internal/cli"
	"github.com/dmitrijs2005/gophjournal/internal/config"
	"github.com/dmitrijs2005/gophjournal/internal/entries"
	"github.com/dmitrijs2005/gophjournal/internal/indicator"
	"github.com/dmitrijs2005/gophjournal/internal/logging"
	"github.com/dmitrijs2005/gophjournal/internal/phrase"
	"github.com/dmitrijs2005/gophjournal/internal/session"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	registry  *phrase.Registry
	sessions  *session.Manager
	entries   *entries.Manager
	indicator *indicator.Indicator
	closers   []io.Closer

	in  io.Reader
	out io.Writer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(c.LogLevel)})
	logger := logging.NewSlogLogger(slog.New(handler))
	return newApp(ctx, c, logger)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	app := &App{config: c, logger: logger, in: os.Stdin, out: os.Stdout}

	tracker, err := app.newTracker(ctx)
	if err != nil {
		return nil, err
	}

	app.registry = phrase.NewRegistry(c.KDFParams(), logger.With("component", "registry"))
	app.sessions = session.NewManager(session.NewStore(nil), app.registry, tracker, c, logger.With("component", "sessions"))

	repo, err := app.newRepository(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.entries = entries.NewManager(app.sessions, repo, logger.With("component", "entries"))
	app.indicator = indicator.New(app.sessions, c)

	return app, nil
}

// newTracker shares failed-activation counts through redis when configured.
func (app *App) newTracker(ctx context.Context) (session.AttemptTracker, error) {
	if app.config.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{Addr: app.config.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	app.closers = append(app.closers, client)
	return session.NewRedisAttemptTracker(client, "gophjournal", app.config.FailedProofWindow), nil
}

func (app *App) newRepository(ctx context.Context) (entries.Repository, error) {
	switch app.config.StorageBackend {
	case config.BackendMemory:
		return entries.NewMemoryRepository(), nil

	case config.BackendSQLite, config.BackendPostgres:
		repo, err := entries.OpenSQL(ctx, app.config.StorageBackend, app.config.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.closers = append(app.closers, repo)
		return repo, nil

	case config.BackendS3:
		client, err := entries.NewS3Client(ctx, app.config)
		if err != nil {
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		return entries.NewS3Repository(client, app.config.S3Bucket), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", app.config.StorageBackend)
	}
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)
		select {
		case s := <-sigs:
			app.logger.Warn(ctx, "signal received, destroying session keys", "signal", s.String())
			app.sessions.Panic()
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run serves the shell until the user exits, the input ends or a signal
// arrives. Every session key is destroyed before Run returns.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting journal...", "backend", app.config.StorageBackend)
	app.initSignalHandler(ctx, cancelFunc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sessions.Run(ctx)
	}()

	shell := cli.NewApp(cli.Deps{
		Config:    app.config,
		Registry:  app.registry,
		Sessions:  app.sessions,
		Entries:   app.entries,
		Indicator: app.indicator,
		Logger:    app.logger,
	}, app.in, app.out)

	done := make(chan struct{})
	go func() {
		defer close(done)
		shell.Run(ctx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	cancelFunc()
	wg.Wait()
	app.sessions.Panic()
	app.Close()
	app.logger.Info(context.Background(), "journal stopped")
}

// Close releases storage and redis connections.
func (app *App) Close() {
	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			app.logger.Error(context.Background(), "close error", "error", err)
		}
	}
	app.closers = nil
}

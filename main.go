package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/msomdec/movie-catalogue/internal/cache"
	"github.com/msomdec/movie-catalogue/internal/config"
	"github.com/msomdec/movie-catalogue/internal/handler"
	"github.com/msomdec/movie-catalogue/internal/logging"
	"github.com/msomdec/movie-catalogue/internal/migrations"
	"github.com/msomdec/movie-catalogue/internal/repository"
	"github.com/msomdec/movie-catalogue/internal/service"
)

// cli struct represents all command-line commands, fields and flags.
//
//nolint:vet // for readability
var cli struct {
	Config   string `short:"c" help:"Config file (.env, YAML, TOML or JSON)." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error); overrides the configured one."`

	Serve struct{} `cmd:"" default:"1" help:"Serve the HTTP API."`

	Migrate struct {
		Up struct {
			Target string `help:"Revision to upgrade to; latest if empty."`
		} `cmd:"" help:"Apply schema revisions."`
		Down struct {
			Steps int `default:"1" help:"Number of revisions to revert."`
		} `cmd:"" help:"Revert schema revisions."`
		Status struct{} `cmd:"" help:"Show schema revisions."`
	} `cmd:"" help:"Manage the database schema."`

	Seed struct{} `cmd:"" help:"Insert sample movies."`

	HashPassword struct {
		Password string `arg:"" optional:"" help:"Password to hash; read from stdin if empty."`
		Cost     int    `default:"12" help:"bcrypt cost."`
	} `cmd:"" help:"Print the bcrypt hash of the administrator password."`
}

func main() {
	kongCtx := kong.Parse(&cli,
		kong.Name("catalogue"),
		kong.Description("Movie catalogue JSON service."),
		kong.DefaultEnvars(config.EnvPrefix),
	)

	if err := run(kongCtx.Command()); err != nil {
		fmt.Fprintf(os.Stderr, "catalogue: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string) error {
	if cmd == "hash-password" || cmd == "hash-password <password>" {
		return hashPassword(cli.HashPassword.Password, cli.HashPassword.Cost)
	}

	s, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	if cli.LogLevel != "" {
		s.Log.Level = cli.LogLevel
	}

	l, err := logging.Setup(s.Log.Level, s.Log.Format)
	if err != nil {
		return err
	}

	defer l.Sync() //nolint:errcheck // stderr may not support syncing

	zap.ReplaceGlobals(l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.Debug(fmt.Sprintf("Command: %q", cmd), zap.String("env", s.Env))

	switch cmd {
	case "serve":
		return serve(ctx, s, l)
	case "migrate up":
		return migrate(ctx, s, l, func(m *migrations.Manager) ([]string, error) {
			return m.Upgrade(ctx, cli.Migrate.Up.Target)
		})
	case "migrate down":
		return migrate(ctx, s, l, func(m *migrations.Manager) ([]string, error) {
			return m.Downgrade(ctx, cli.Migrate.Down.Steps)
		})
	case "migrate status":
		return migrate(ctx, s, l, nil)
	case "seed":
		return seed(ctx, s, l)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// serve runs the HTTP API until ctx is canceled.
func serve(ctx context.Context, s *config.Settings, l *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	repo, err := repository.Resolve(ctx, s, l.Named("repository"), reg)
	if err != nil {
		return err
	}

	defer func() {
		if err := repo.Close(); err != nil {
			l.Error("Failed to close storage.", zap.Error(err))
		}
	}()

	catalogue := service.NewCatalogueService(repo, l.Named("catalogue"))

	if s.Seed {
		if _, err = catalogue.SeedCatalogue(ctx); err != nil {
			return err
		}
	}

	auth, err := service.NewAuthService(s.Auth.Secret, s.Auth.AdminPasswordHash)
	if err != nil {
		return err
	}

	if !auth.Enabled() {
		l.Warn("Authentication is disabled; write requests are public.")
	}

	limiter := service.NewTokenBucket(s.HTTP.RateLimitRPS, s.HTTP.RateLimitBurst)
	go limiter.Run(ctx)

	var responses *cache.Cache
	if s.HTTP.CacheTTL > 0 {
		if responses, err = cache.New(s.HTTP.CacheTTL, l.Named("cache")); err != nil {
			return err
		}

		defer responses.Close() //nolint:errcheck // in-memory only
	}

	metrics := handler.NewMetrics()
	reg.MustRegister(metrics)

	srv := &http.Server{
		Addr: s.HTTP.Addr,
		Handler: handler.NewRouter(&handler.Deps{
			Catalogue:      catalogue,
			Auth:           auth,
			Limiter:        limiter,
			Cache:          responses,
			Metrics:        metrics,
			Gatherer:       reg,
			RequestTimeout: s.HTTP.RequestTimeout,
			L:              l.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
		ErrorLog:          zap.NewStdLog(l.Named("http")),
	}

	errCh := make(chan error, 1)

	go func() {
		l.Info("Server starting.", zap.String("addr", srv.Addr), zap.String("mode", string(repo.Mode())))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	l.Info("Shutting down server.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	l.Info("Server stopped.", zap.Int64("sessions_in_flight", repo.InFlight()))

	return nil
}

// migrate runs fn against the schema manager and prints the resulting status.
// A nil fn only prints the status.
func migrate(ctx context.Context, s *config.Settings, l *zap.Logger, fn func(*migrations.Manager) ([]string, error)) error {
	s.AutoMigrate = false

	repo, err := repository.Resolve(ctx, s, l.Named("repository"), nil)
	if err != nil {
		return err
	}

	defer repo.Close() //nolint:errcheck // nothing left to flush

	m, ok := repo.Migrator().(*migrations.Manager)
	if !ok {
		l.Info("Storage mode has no schema.", zap.String("mode", string(repo.Mode())))
		return nil
	}

	if fn != nil {
		ids, err := fn(m)
		if err != nil {
			return err
		}

		l.Info("Schema changed.", zap.Strings("revisions", ids))
	}

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	for _, st := range status {
		mark := " "
		if st.Applied {
			mark = "x"
		}

		fmt.Printf("[%s] %s\n", mark, st.ID)
	}

	return nil
}

func seed(ctx context.Context, s *config.Settings, l *zap.Logger) error {
	repo, err := repository.Resolve(ctx, s, l.Named("repository"), nil)
	if err != nil {
		return err
	}

	defer repo.Close() //nolint:errcheck // nothing left to flush

	added, err := service.NewCatalogueService(repo, l.Named("catalogue")).SeedCatalogue(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%d movies added\n", added)

	return nil
}

func hashPassword(password string, cost int) error {
	if password == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}

		password = strings.TrimRight(line, "\r\n")
	}

	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return fmt.Errorf("cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	hash, err := service.HashPassword(password, cost)
	if err != nil {
		return err
	}

	fmt.Println(hash)

	return nil
}

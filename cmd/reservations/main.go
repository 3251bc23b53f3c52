package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/example/resource-reservations/internal/application"
	"github.com/example/resource-reservations/internal/cache"
	"github.com/example/resource-reservations/internal/catalog"
	"github.com/example/resource-reservations/internal/config"
	"github.com/example/resource-reservations/internal/events"
	httptransport "github.com/example/resource-reservations/internal/http"
	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/logging"
	"github.com/example/resource-reservations/internal/persistence/sqlstore"
)

const serviceName = "reservations"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		os.Exit(hashKey(os.Args[2:], os.Stdin, os.Stdout, os.Stderr))
	}

	cfg, err := config.LoadWithDotEnv(".env")
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := logging.New(os.Stdout, level, serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		app.sweeper.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		app.relay.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("reservations API listening", "addr", server.Addr, "db_driver", app.store.Driver())
	err = server.ListenAndServe()
	cancel()
	workers.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// app holds the wired components of one process.
type app struct {
	store   *sqlstore.Store
	handler http.Handler
	sweeper *application.NoShowSweeper
	relay   *events.Relay
	closers []func() error
	logger  *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DBDSN,
		LockTimeout: cfg.LockTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &app{store: store, logger: logger, closers: []func() error{store.Close}}

	if err := store.Migrate(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	if cfg.CatalogFile != "" {
		resources, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			a.close()
			return nil, err
		}
		seeded, err := catalog.Seed(ctx, store, resources, time.Now())
		if err != nil {
			a.close()
			return nil, err
		}
		logger.Info("resource catalog loaded", "file", cfg.CatalogFile, "resources", seeded)
	}

	var calendars application.CalendarCache = application.NewMemoryCalendarCache(cfg.CalendarCacheTTL, 1024)
	if cfg.RedisAddr != "" {
		client, err := cache.Dial(ctx, cfg.RedisAddr, "", 0)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		calendars = cache.NewRedisCalendarCache(client, cfg.CalendarCacheTTL, logger)
	}

	opts := application.Options{
		Policy: lifecycle.Policy{
			ModificationDeadline: cfg.ModificationDeadline,
			CheckInLead:          cfg.CheckInLead,
			NoShowGrace:          cfg.NoShowGrace,
			NotifyWindow:         cfg.NotifyWindow,
		},
		RequireApproval: cfg.RequireApproval,
		Retry:           application.RetryConfig{MaxAttempts: cfg.RetryAttempts},
		Logger:          logger,
	}
	waitlist := application.NewWaitlistManager(store, opts)
	reservations := application.NewReservationService(store, waitlist, calendars, opts)
	a.sweeper = application.NewNoShowSweeper(store, waitlist, calendars, opts, cfg.SweepInterval)

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.AMQPURL != "" {
		amqp, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, amqp.Close)
		publisher = amqp
	}
	a.relay = events.NewRelay(store, publisher, events.RelayConfig{}, logger)

	keys := make([]httptransport.APIKey, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, httptransport.APIKey{Name: k.Name, Role: application.Role(k.Role), Hash: k.Hash})
	}
	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Auth:           httptransport.NewAuthenticator(cfg.JWTSecret, keys),
		Reservations:   httptransport.NewReservationHandler(reservations, logger),
		Resources:      httptransport.NewResourceHandler(reservations, logger),
		Waitlist:       httptransport.NewWaitlistHandler(waitlist, logger),
		Admin:          httptransport.NewAdminHandler(reservations, logger),
		Logger:         logger,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to close component", "error", err)
		}
	}
	a.closers = nil
}

// hashKey prints an API key hash for RESERVATIONS_API_KEYS. The secret is
// read from stdin so it stays out of the shell history.
func hashKey(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "key name")
	role := fs.String("role", string(application.RoleDevice), "role granted to the key (user, admin, device)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*name) == "" || strings.ContainsAny(*name, ".:;") {
		fmt.Fprintln(stderr, "hash-key: -name is required and must not contain '.', ':' or ';'")
		return 2
	}

	raw, err := io.ReadAll(io.LimitReader(stdin, 4096))
	if err != nil {
		fmt.Fprintf(stderr, "hash-key: read secret: %v\n", err)
		return 1
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		fmt.Fprintln(stderr, "hash-key: empty secret on stdin")
		return 2
	}

	hash, err := httptransport.CreateKeyHash(secret, httptransport.DefaultArgon2idParams)
	if err != nil {
		fmt.Fprintf(stderr, "hash-key: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s:%s:%s\n", *name, *role, hash)
	return 0
}

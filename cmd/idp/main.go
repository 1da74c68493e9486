// Command idp runs the Rephlo identity provider.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luikyv/go-oidc/pkg/goidc"
	"github.com/rephlo/idp/internal/account"
	"github.com/rephlo/idp/internal/authn"
	"github.com/rephlo/idp/internal/claims"
	"github.com/rephlo/idp/internal/clients"
	"github.com/rephlo/idp/internal/config"
	"github.com/rephlo/idp/internal/consent"
	"github.com/rephlo/idp/internal/license"
	"github.com/rephlo/idp/internal/logging"
	"github.com/rephlo/idp/internal/op"
	"github.com/rephlo/idp/internal/resource"
	"github.com/rephlo/idp/internal/storage/memory"
	"github.com/rephlo/idp/internal/storage/mongodb"
	"github.com/rephlo/idp/internal/storage/postgres"
	redisstore "github.com/rephlo/idp/internal/storage/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("idp exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Environment)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.close()

	if err := provisionClients(ctx, cfg, stores, log); err != nil {
		return err
	}

	descriptors, err := config.LoadResources(cfg.ResourcesFile)
	if err != nil {
		return err
	}
	registry, err := resource.NewRegistry(descriptors)
	if err != nil {
		return err
	}

	resolver := account.NewResolver(stores.accounts, log.With("component", "account"))
	enricher := license.NewEnricher(stores.entitlements, log.With("component", "license"))
	assembler := claims.NewAssembler(resolver, enricher)
	consentPolicy := consent.NewPolicy(stores.grants, resolver, time.Duration(cfg.GrantTTLSecs)*time.Second, log.With("component", "consent"))
	sessions := authn.NewSessionStore(time.Duration(cfg.SessionTTLSecs) * time.Second)

	authenticator := authn.New(cfg.Issuer, resolver, consentPolicy, stores.directory, registry, sessions, log.With("component", "authn"))

	oidcProvider, err := op.New(cfg, op.Deps{
		Logger:        log.With("component", "op"),
		Clients:       stores.directory,
		Registry:      registry,
		Claims:        assembler,
		Grants:        stores.grants,
		Policy:        authenticator.Policy(),
		RenderError:   authenticator.RenderError(),
		AuthnSessions: stores.authnSessions,
		GrantSessions: stores.grantSessions,
	})
	if err != nil {
		return fmt.Errorf("building the provider: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", healthHandler(stores, log))
	mux.Handle("/", oidcProvider.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("idp listening",
			slog.String("addr", cfg.ListenAddr), slog.String("issuer", cfg.Issuer))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// backends bundles the storage each layer runs on. Product data lives in
// postgres when a DSN is set, in memory otherwise. Protocol sessions go
// to mongodb and redis when configured; without them the provider keeps
// sessions in its own memory.
type backends struct {
	accounts     account.Store
	entitlements license.Store
	grants       consent.Store
	directory    clients.Directory
	saveClient   func(context.Context, *clients.Registration) error

	authnSessions goidc.AuthnSessionManager
	grantSessions goidc.GrantSessionManager

	pingers map[string]func(context.Context) error
	closers []func()
}

func (b *backends) close() {
	for _, closeFn := range b.closers {
		closeFn()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backends, error) {
	stores := &backends{pingers: make(map[string]func(context.Context) error)}

	if cfg.PostgresDSN != "" {
		pg, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		stores.accounts = pg
		stores.entitlements = pg
		stores.grants = pg
		stores.directory = pg
		stores.saveClient = pg.SaveRegistration
		stores.pingers["postgres"] = pg.Ping
		stores.closers = append(stores.closers, func() { _ = pg.Close() })
	} else {
		if cfg.IsProduction() {
			log.Warn("POSTGRES_DSN is not set, keeping accounts and grants in memory")
		}
		if err := openMemoryBackends(cfg, stores, log); err != nil {
			return nil, err
		}
	}

	if cfg.MongoURI != "" {
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("connecting to mongodb: %w", err)
		}
		stores.closers = append(stores.closers, func() { _ = client.Disconnect(context.Background()) })
		stores.pingers["mongodb"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }

		database := client.Database(cfg.MongoDatabase)
		grantSessions, err := mongodb.NewGrantSessionManager(ctx, database)
		if err != nil {
			return nil, fmt.Errorf("preparing the grant session collection: %w", err)
		}
		stores.grantSessions = grantSessions

		authnSessions, err := mongodb.NewAuthnSessionManager(ctx, database)
		if err != nil {
			return nil, fmt.Errorf("preparing the authn session collection: %w", err)
		}
		stores.authnSessions = authnSessions
	}

	// Redis takes over the interaction-phase sessions when available; they
	// are short-lived and benefit from expiry handled by the store.
	if cfg.RedisURL != "" {
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		stores.closers = append(stores.closers, func() { _ = client.Close() })
		stores.pingers["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		stores.authnSessions = redisstore.NewAuthnSessionManager(client, time.Duration(cfg.InteractionTTLSecs)*time.Second)
	}

	return stores, nil
}

func openMemoryBackends(cfg *config.Config, stores *backends, log *slog.Logger) error {
	accounts := memory.NewAccountStore()
	entitlements := memory.NewEntitlementStore()
	directory := memory.NewClientDirectory()

	stores.accounts = accounts
	stores.entitlements = entitlements
	stores.grants = memory.NewGrantStore()
	stores.directory = directory
	stores.saveClient = directory.Save

	if cfg.FixturesFile == "" {
		return nil
	}
	fixtures, err := config.LoadFixtures(cfg.FixturesFile)
	if err != nil {
		return err
	}
	for _, acct := range fixtures.Accounts {
		accounts.Add(acct)
	}
	for _, ent := range fixtures.Entitlements {
		entitlements.Add(ent)
	}
	log.Info("loaded fixtures",
		slog.Int("accounts", len(fixtures.Accounts)),
		slog.Int("entitlements", len(fixtures.Entitlements)))
	return nil
}

// provisionClients syncs the client registration file into the backing
// store on every boot, so the store and the file cannot drift apart.
func provisionClients(ctx context.Context, cfg *config.Config, stores *backends, log *slog.Logger) error {
	registrations, err := config.LoadClients(cfg.ClientsFile)
	if err != nil {
		return err
	}
	for _, registration := range registrations {
		if err := stores.saveClient(ctx, registration); err != nil {
			return fmt.Errorf("provisioning client %s: %w", registration.ID, err)
		}
	}
	log.Info("provisioned clients", slog.Int("count", len(registrations)))
	return nil
}

func healthHandler(stores *backends, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		degraded := make([]string, 0, len(stores.pingers))
		for name, ping := range stores.pingers {
			if err := ping(ctx); err != nil {
				log.ErrorContext(ctx, "health check failed",
					slog.String("backend", name), slog.String("error", err.Error()))
				degraded = append(degraded, name)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(degraded) > 0 {
			status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   status,
			"degraded": degraded,
		})
	})
}

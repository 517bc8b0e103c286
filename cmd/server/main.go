package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitehost/backend/internal/api"
	"sitehost/backend/internal/auth"
	"sitehost/backend/internal/backup"
	"sitehost/backend/internal/config"
	"sitehost/backend/internal/database"
	"sitehost/backend/internal/dnsprov"
	"sitehost/backend/internal/domains"
	"sitehost/backend/internal/health"
	"sitehost/backend/internal/metrics"
	"sitehost/backend/internal/namegen"
	"sitehost/backend/internal/routing"
	"sitehost/backend/internal/sites"
	"sitehost/backend/internal/ssl"
	"sitehost/backend/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("failed to open registry backend: %v", err)
	}
	defer closeBackend()

	policy, err := store.ParseSlugPolicy(cfg.SlugPolicy)
	if err != nil {
		log.Fatalf("invalid slug policy: %v", err)
	}
	st, err := store.New(cfg.DataDir, store.WithBackend(backend), store.WithSlugPolicy(policy),
		store.WithLoginWindow(cfg.LoginFailureReset))
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	domainReg, err := domains.NewRegistry(cfg.Domains)
	if err != nil {
		log.Fatalf("invalid domain layout: %v", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(promReg)

	authSvc := auth.New(cfg.JWTSecret, auth.WithTTL(cfg.TokenTTL))
	dns := dnsprov.NewLedgerProvider(cfg.DataDir, cfg.DNSRecordTTL)
	siteSvc := sites.New(sites.Options{
		Store:          st,
		Domains:        domainReg,
		Names:          namegen.New(namegen.WithMaxAttempts(cfg.NameMaxAttempts)),
		Auth:           authSvc,
		Content:        sites.NewContentStore(cfg.DataDir, cfg.SanitizeHTML),
		DNS:            dns,
		Metrics:        rec,
		LockPolicy:     cfg.LockDuration,
		DNSTarget:      cfg.DNSRecordTarget,
		AdminUsernames: cfg.AdminUsernames,
	})

	verifier := health.New(cfg, st, domainReg, rec)
	tlsSvc := ssl.New(cfg, st)
	backups, err := backup.New(cfg, st)
	if err != nil {
		log.Fatalf("failed to init backups: %v", err)
	}
	csrf := api.NewCSRFStore(cfg.CSRFTokenTTL)

	server := &api.Server{
		Config:   cfg,
		Store:    st,
		Domains:  domainReg,
		Router:   routing.New(domainReg, st, cfg.MainSiteURL, rec),
		Sites:    siteSvc,
		Auth:     authSvc,
		Verifier: verifier,
		TLS:      tlsSvc,
		Backups:  backups,
		DNS:      dns,
		CSRF:     csrf,
		Metrics:  rec,
		Gatherer: promReg,
		Logger:   logger,
	}
	router := server.Routes()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	var tlsServer *http.Server
	if cfg.ACMEEnabled && cfg.TLSPort > 0 {
		tlsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.TLSPort),
			Handler:           router,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
			TLSConfig: &tls.Config{
				MinVersion:     tls.VersionTLS12,
				GetCertificate: tlsSvc.GetCertificate,
			},
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, workerCancel := context.WithCancel(ctx)
	go verifier.Start(workerCtx)
	go tlsSvc.Start(workerCtx)
	go backups.Start(workerCtx)
	go csrf.Start(workerCtx)

	go func() {
		log.Printf("backend listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()
	if tlsServer != nil {
		go func() {
			log.Printf("tls listening on %s", tlsServer.Addr)
			if err := tlsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				log.Fatalf("tls server error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	workerCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if tlsServer != nil {
		if err := tlsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("tls server shutdown error: %v", err)
		}
	}
}

// openBackend selects where the registry document lives.
func openBackend(cfg *config.Config) (store.Backend, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Printf("store: using postgres registry backend")
		return store.NewPostgresBackend(db), func() { _ = db.Close() }, nil
	case "memory":
		log.Printf("store: using in-memory registry backend, data is lost on exit")
		return store.NewMemoryBackend(), func() {}, nil
	default:
		return store.NewFileBackend(cfg.DataDir), func() {}, nil
	}
}

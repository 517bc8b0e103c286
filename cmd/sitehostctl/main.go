// Command sitehostctl inspects and operates a sitehost data directory from the shell.
package main

import (
	"context"
	"fmt"
	"os"

	"sitehost/backend/internal/auth"
	"sitehost/backend/internal/config"
	"sitehost/backend/internal/database"
	"sitehost/backend/internal/domains"
	"sitehost/backend/internal/sites"
	"sitehost/backend/internal/store"

	"github.com/spf13/cobra"
)

// runtime is what every subcommand works against.
type runtime struct {
	cfg     *config.Config
	domains *domains.Registry
	store   *store.Store
	close   func()
}

func (rt *runtime) sites() *sites.Service {
	return sites.New(sites.Options{
		Store:          rt.store,
		Domains:        rt.domains,
		Auth:           auth.New(rt.cfg.JWTSecret, auth.WithTTL(rt.cfg.TokenTTL)),
		Content:        sites.NewContentStore(rt.cfg.DataDir, rt.cfg.SanitizeHTML),
		LockPolicy:     rt.cfg.LockDuration,
		AdminUsernames: rt.cfg.AdminUsernames,
	})
}

// openRuntime loads configuration from the environment, the same way the server does.
var openRuntime = func(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	reg, err := domains.NewRegistry(cfg.Domains)
	if err != nil {
		return nil, err
	}
	policy, err := store.ParseSlugPolicy(cfg.SlugPolicy)
	if err != nil {
		return nil, err
	}
	var (
		backend store.Backend = store.NewFileBackend(cfg.DataDir)
		closeFn               = func() {}
	)
	switch cfg.StoreBackend {
	case "postgres":
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		backend = store.NewPostgresBackend(db)
		closeFn = func() { _ = db.Close() }
	case "memory":
		return nil, fmt.Errorf("store backend %q keeps no state for sitehostctl to read", cfg.StoreBackend)
	}
	st, err := store.New(cfg.DataDir, store.WithBackend(backend), store.WithSlugPolicy(policy),
		store.WithLoginWindow(cfg.LoginFailureReset))
	if err != nil {
		closeFn()
		return nil, err
	}
	return &runtime{cfg: cfg, domains: reg, store: st, close: closeFn}, nil
}

func withRuntime(fn func(cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(cmd, rt, args)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sitehostctl",
		Short:         "Operate a sitehost installation",
		Long:          "Resolve hosts, expand subdomains, generate names and inspect the site registry.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newResolveCmd(), newExpandCmd(), newNamesCmd(), newSitesCmd(), newUsersCmd())
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// Package vaultd wires configuration, storage, and the HTTP API into the
// vault daemon run loop.
package vaultd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	platformcmd "github.com/louisbranch/heirloom/internal/platform/cmd"
	"github.com/louisbranch/heirloom/internal/vault"
	"github.com/louisbranch/heirloom/internal/vault/service"
	"github.com/louisbranch/heirloom/internal/vault/storage"
	"github.com/louisbranch/heirloom/internal/vault/storage/sqlite"
	"github.com/louisbranch/heirloom/internal/web"
)

// Config holds the vaultd command configuration. The vault owner, heir,
// and initial deposit only matter on first start against an empty
// database; afterwards the persisted record wins.
type Config struct {
	HTTPAddr       string `env:"HEIRLOOM_VAULTD_HTTP_ADDR" envDefault:"localhost:8080"`
	DBPath         string `env:"HEIRLOOM_VAULTD_DB_PATH" envDefault:"heirloom.db"`
	Owner          string `env:"HEIRLOOM_VAULT_OWNER"`
	Heir           string `env:"HEIRLOOM_VAULT_HEIR"`
	InitialDeposit uint64 `env:"HEIRLOOM_VAULT_INITIAL_DEPOSIT"`
}

// ParseConfig loads env defaults and applies flag overrides.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.Owner, "owner", cfg.Owner, "owner principal for first start")
	fs.StringVar(&cfg.Heir, "heir", cfg.Heir, "heir principal for first start")
	fs.Uint64Var(&cfg.InitialDeposit, "initial-deposit", cfg.InitialDeposit, "initial deposit for first start")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Run starts the vault daemon.
func Run(ctx context.Context, cfg Config) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceVaultd, func(ctx context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("close storage: %v", err)
			}
		}()

		v, err := loadOrConstructVault(ctx, store, cfg)
		if err != nil {
			return err
		}
		log.Printf("vault %s ready (owner %s, heir %s)", v.ID, v.Owner, v.Heir)

		svc, err := service.NewService(store, v.ID)
		if err != nil {
			return fmt.Errorf("init service: %w", err)
		}

		grants, err := web.LoadGrantConfigFromEnv(nil)
		if err != nil {
			return fmt.Errorf("load grant config: %w", err)
		}
		server, err := web.NewServer(cfg.HTTPAddr, svc, grants)
		if err != nil {
			return fmt.Errorf("init server: %w", err)
		}
		if err := server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve vault api: %w", err)
		}
		return nil
	})
}

// loadOrConstructVault returns the persisted vault, constructing it on
// first start against an empty store.
func loadOrConstructVault(ctx context.Context, store storage.VaultStore, cfg Config) (vault.Vault, error) {
	v, err := store.PrimaryVault(ctx)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return vault.Vault{}, fmt.Errorf("load vault: %w", err)
	}

	owner := vault.Principal(cfg.Owner)
	heir := vault.Principal(cfg.Heir)
	if owner.IsNull() {
		return vault.Vault{}, errors.New("owner principal is required on first start")
	}
	if heir.IsNull() {
		return vault.Vault{}, errors.New("heir principal is required on first start")
	}

	v, err = service.Construct(ctx, store, owner, heir, cfg.InitialDeposit, time.Now)
	if err != nil {
		return vault.Vault{}, fmt.Errorf("construct vault: %w", err)
	}
	log.Printf("constructed vault %s with initial deposit %d", v.ID, cfg.InitialDeposit)
	return v, nil
}

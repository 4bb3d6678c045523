package vaultd

import (
	"context"
	"flag"
	"testing"

	"github.com/louisbranch/heirloom/internal/vault/storage/memory"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("HEIRLOOM_VAULTD_HTTP_ADDR", "")
	t.Setenv("HEIRLOOM_VAULTD_DB_PATH", "")

	fs := flag.NewFlagSet("vaultd", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "localhost:8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "heirloom.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
}

func TestParseConfigFlagOverridesEnv(t *testing.T) {
	t.Setenv("HEIRLOOM_VAULTD_HTTP_ADDR", "localhost:9999")
	t.Setenv("HEIRLOOM_VAULT_OWNER", "owner-env")

	fs := flag.NewFlagSet("vaultd", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-http-addr", "localhost:7777", "-heir", "heir-flag"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "localhost:7777" {
		t.Fatalf("expected flag override, got %q", cfg.HTTPAddr)
	}
	if cfg.Owner != "owner-env" {
		t.Fatalf("expected env owner, got %q", cfg.Owner)
	}
	if cfg.Heir != "heir-flag" {
		t.Fatalf("expected flag heir, got %q", cfg.Heir)
	}
}

func TestLoadOrConstructVaultFirstStart(t *testing.T) {
	store := memory.NewStore()
	cfg := Config{Owner: "owner-1", Heir: "heir-1", InitialDeposit: 100}

	v, err := loadOrConstructVault(context.Background(), store, cfg)
	if err != nil {
		t.Fatalf("load or construct: %v", err)
	}
	if v.Owner != "owner-1" || v.Heir != "heir-1" || v.Balance != 100 {
		t.Fatalf("unexpected vault: %+v", v)
	}

	// A second start loads the persisted record and ignores the config.
	again, err := loadOrConstructVault(context.Background(), store, Config{Owner: "other", Heir: "someone"})
	if err != nil {
		t.Fatalf("load or construct again: %v", err)
	}
	if again.ID != v.ID {
		t.Fatalf("expected persisted vault %s, got %s", v.ID, again.ID)
	}
	if again.Owner != "owner-1" {
		t.Fatalf("expected persisted owner, got %q", again.Owner)
	}
}

func TestLoadOrConstructVaultRequiresPrincipals(t *testing.T) {
	store := memory.NewStore()

	if _, err := loadOrConstructVault(context.Background(), store, Config{Heir: "heir-1"}); err == nil {
		t.Fatal("expected error for missing owner")
	}
	if _, err := loadOrConstructVault(context.Background(), store, Config{Owner: "owner-1"}); err == nil {
		t.Fatal("expected error for missing heir")
	}
}

package sim

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/louisbranch/heirloom/internal/platform/random"
	"github.com/louisbranch/heirloom/internal/vault/storage"
	"github.com/louisbranch/heirloom/internal/vault/storage/memory"
	"github.com/louisbranch/heirloom/internal/vault/storage/sqlite"
)

func newSeededRNG(t *testing.T) *rand.Rand {
	t.Helper()
	seed, err := random.NewSeed()
	if err != nil {
		t.Fatalf("new seed: %v", err)
	}
	t.Logf("sim seed: %d", seed)
	return rand.New(rand.NewSource(seed))
}

func runSim(t *testing.T, store storage.VaultStore, steps int) {
	t.Helper()
	ctx := context.Background()
	rng := newSeededRNG(t)

	runner, err := NewRunner(ctx, store, rng)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := runner.Run(ctx, steps); err != nil {
		t.Fatalf("sim run: %v", err)
	}
}

func TestRandomizedOperationsMemoryStore(t *testing.T) {
	runSim(t, memory.NewStore(), 500)
}

func TestRandomizedOperationsSQLiteStore(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "sim.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	runSim(t, store, 200)
}

func TestRunnerRequiresStoreAndRNG(t *testing.T) {
	ctx := context.Background()
	if _, err := NewRunner(ctx, nil, rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewRunner(ctx, memory.NewStore(), nil); err == nil {
		t.Fatal("expected error for nil rng")
	}
}

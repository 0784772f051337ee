//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

func TestInventoryRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "inventory-test")

	repo, err := NewInventoryRepository(provider)
	if err != nil {
		t.Fatalf("new inventory repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	for _, product := range []domain.Product{
		{ID: "P1", Name: "Slim Fit", Size: "32", StockLevel: 10},
		{ID: "P2", Name: "Cap", StockLevel: 1},
	} {
		if err := repo.Upsert(ctx, product); err != nil {
			t.Fatalf("seed %s: %v", product.ID, err)
		}
	}

	if err := repo.CheckAndReserve(ctx, []repositories.StockLine{{ProductID: "P1", Quantity: 2}}, now); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	p1, err := repo.Get(ctx, "P1")
	if err != nil {
		t.Fatalf("get P1: %v", err)
	}
	if p1.StockLevel != 8 {
		t.Fatalf("expected stock 8 after reserve, got %d", p1.StockLevel)
	}

	err = repo.CheckAndReserve(ctx, []repositories.StockLine{
		{ProductID: "P1", Quantity: 1},
		{ProductID: "P2", Quantity: 2},
		{ProductID: "missing", Quantity: 1},
	}, now)
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if len(invErr.Shortfalls) != 2 {
		t.Fatalf("expected 2 shortfalls, got %+v", invErr.Shortfalls)
	}
	if p1, _ = repo.Get(ctx, "P1"); p1.StockLevel != 8 {
		t.Fatalf("failed reservation must not decrement P1, got %d", p1.StockLevel)
	}

	shortfalls, err := repo.Check(ctx, []repositories.StockLine{{ProductID: "P2", Quantity: 5}})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(shortfalls) != 1 || shortfalls[0].AvailableStock != 1 {
		t.Fatalf("unexpected shortfalls %+v", shortfalls)
	}

	if err := repo.Release(ctx, []repositories.StockLine{{ProductID: "P1", Quantity: 2}}, now); err != nil {
		t.Fatalf("release: %v", err)
	}
	if p1, _ = repo.Get(ctx, "P1"); p1.StockLevel != 10 {
		t.Fatalf("expected stock 10 after release, got %d", p1.StockLevel)
	}

	// Ten concurrent single-unit reservations against one remaining unit admit exactly one.
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.CheckAndReserve(ctx, []repositories.StockLine{{ProductID: "P2", Quantity: 1}}, now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	if p2, _ := repo.Get(ctx, "P2"); p2.StockLevel != 0 {
		t.Fatalf("expected P2 stock 0, got %d", p2.StockLevel)
	}
}

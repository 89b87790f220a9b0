package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestPayloadRepository_PostgresRoundTrip(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewPayloadRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := repo.Get(ctx, "p1:cartItems"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	first := []byte(`[{"id":1,"name":"Shirt","price":499,"image":"","quantity":1}]`)
	if err := repo.Set(ctx, "p1:cartItems", first); err != nil {
		t.Fatalf("set payload: %v", err)
	}
	got, err := repo.Get(ctx, "p1:cartItems")
	if err != nil {
		t.Fatalf("get payload: %v", err)
	}
	if string(got) != string(first) {
		t.Fatalf("unexpected payload: %s", got)
	}

	if err := repo.Set(ctx, "p1:cartItems", []byte("[]")); err != nil {
		t.Fatalf("overwrite payload: %v", err)
	}
	got, err = repo.Get(ctx, "p1:cartItems")
	if err != nil {
		t.Fatalf("get overwritten payload: %v", err)
	}
	if string(got) != "[]" {
		t.Fatalf("expected last writer to win, got %s", got)
	}

	if err := repo.Set(ctx, "p0:cartItems", []byte("[]")); err != nil {
		t.Fatalf("set second payload: %v", err)
	}
	keys, err := repo.Keys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "p0:cartItems" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

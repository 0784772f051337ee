package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/hanko-field/checkout/internal/platform/config"
)

func TestProviderRequiresProjectID(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	provider := NewProvider(config.FirestoreConfig{})
	if _, err := provider.Client(context.Background()); err == nil {
		t.Fatalf("expected error without project id")
	}
}

func TestProviderClosed(t *testing.T) {
	provider := NewProvider(config.FirestoreConfig{ProjectID: "demo"})
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}

func TestProviderEmulatorHostFromConfig(t *testing.T) {
	t.Setenv(envEmulatorHost, "env-host:8080")
	provider := NewProvider(config.FirestoreConfig{ProjectID: "demo", EmulatorHost: "cfg-host:9090"})
	if got := provider.emulatorHost(); got != "cfg-host:9090" {
		t.Fatalf("expected config host to win, got %s", got)
	}
	provider = NewProvider(config.FirestoreConfig{ProjectID: "demo"})
	if got := provider.emulatorHost(); got != "env-host:8080" {
		t.Fatalf("expected env host, got %s", got)
	}
}

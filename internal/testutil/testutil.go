// Package testutil builds wallet stores and loggers for package tests
package testutil

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/0xmhha/checko-go/pkg/storage"
)

// NewTestLogger returns a logger writing through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// NewTestStore opens an empty wallet store in a temporary directory
func NewTestStore(t *testing.T) *storage.PebbleStorage {
	t.Helper()
	store, err := storage.NewPebbleStorage(storage.DefaultConfig(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Wallet describes the records SeedWallet writes. Empty fields are skipped.
type Wallet struct {
	// NodeURL is the GraphQL endpoint the selected network points at
	NodeURL   string
	PublicKey string
	Chain     string
	Origin    string
}

// SeedWallet stores a selected network, owner and default microchain, and
// binds the origin to them
func SeedWallet(t *testing.T, store *storage.PebbleStorage, w Wallet) {
	t.Helper()
	ctx := context.Background()

	if w.NodeURL != "" {
		network, err := networkFromURL(w.NodeURL)
		if err != nil {
			t.Fatalf("invalid node url %q: %v", w.NodeURL, err)
		}
		if _, err := store.EnsureNetwork(ctx, network); err != nil {
			t.Fatalf("failed to store network: %v", err)
		}
	}
	if w.PublicKey != "" {
		if _, err := store.CreateOwner(ctx, w.PublicKey, "main", true); err != nil {
			t.Fatalf("failed to store owner: %v", err)
		}
	}
	if w.Chain != "" {
		if err := store.CreateMicrochain(ctx, w.Chain, "default", true); err != nil {
			t.Fatalf("failed to store microchain: %v", err)
		}
	}
	if w.Origin != "" && w.PublicKey != "" && w.Chain != "" {
		if err := store.BindOriginMicrochain(ctx, w.Origin, w.PublicKey, w.Chain); err != nil {
			t.Fatalf("failed to bind origin: %v", err)
		}
	}
}

func networkFromURL(raw string) (*storage.Network, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, err
	}

	ws := "ws"
	if u.Scheme == "https" {
		ws = "wss"
	}
	return &storage.Network{
		Name:      "local",
		RPCSchema: u.Scheme,
		WSSchema:  ws,
		Host:      u.Hostname(),
		Port:      port,
		Path:      strings.TrimPrefix(u.Path, "/"),
	}, nil
}

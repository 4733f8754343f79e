package app

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cuehall/backend/services/license-service/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &config.Config{
		Storage:  config.StorageConfig{Driver: config.DriverMemory},
		Provider: config.ProviderConfig{Token: "tok"},
		License: config.LicenseConfig{
			PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
			Plans:         []string{"pro:30:500", "pro:365:4500"},
		},
	}
}

func TestNewWithMemoryStorage(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a, err := New(testConfig(t), zap.New(core))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	entries := logs.FilterMessage("license plans loaded").All()
	if len(entries) != 1 || entries[0].ContextMap()["count"] != int64(2) {
		t.Fatalf("expected plans log, got %v", entries)
	}
}

func TestNewRejectsBadKeyAndPlans(t *testing.T) {
	cfg := testConfig(t)
	cfg.License.PrivateKeyPEM = "not a key"
	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected key error")
	}

	cfg = testConfig(t)
	cfg.License.Plans = []string{"pro:0:500"}
	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected plan error")
	}
}

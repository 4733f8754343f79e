package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cuehall/backend/services/venue-service/internal/config"
	"cuehall/backend/services/venue-service/internal/models"
)

func TestNewWithMemoryStorage(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Venue:   config.VenueConfig{Tariff: models.Tariff{BaseRate: decimal.NewFromInt(300)}},
		Auth:    config.AuthConfig{JWTSecret: "secret", BootstrapUser: "admin", BootstrapPassword: "admin"},
	}

	a, err := New(context.Background(), cfg, zap.New(core))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if logs.FilterMessage("bootstrap operator ensured").Len() != 1 {
		t.Fatalf("expected bootstrap operator log")
	}
	if logs.FilterMessage("license not valid").Len() != 1 {
		t.Fatalf("expected license status log")
	}
}

func TestNewRejectsInvalidTariff(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Auth:    config.AuthConfig{JWTSecret: "secret"},
	}
	if _, err := New(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected error for zero base rate")
	}
}

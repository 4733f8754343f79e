//go:build integration

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	libdb "cuehall/backend/libs/db"
	licensedb "cuehall/backend/services/license-service/internal/db"
	"cuehall/backend/services/license-service/internal/models"
)

func startPostgresForTest(t *testing.T) *sql.DB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "licenses_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping test because docker/testcontainers is unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container mapped port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/licenses_test?sslmode=disable", host, port.Port())

	var db *sql.DB
	deadline := time.Now().Add(30 * time.Second)
	for {
		db, err = libdb.NewPostgresDB(dsn)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("postgres did not become ready: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := licensedb.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestOrderRepositoryLifecycle(t *testing.T) {
	db := startPostgresForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	order := &models.Order{
		ID: "o1", MachineID: "mid-1", Tier: "pro", Days: 30,
		Amount: decimal.RequireFromString("499.50"), Status: models.OrderNew,
		Token: "secret", CreatedAt: now,
	}
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	if err := repo.AttachInvoice(ctx, "o1", models.Invoice{ID: "inv-1", CheckoutURL: "https://pay/inv-1"}, now); err != nil {
		t.Fatalf("attach: %v", err)
	}
	byInvoice, err := repo.GetByInvoiceID(ctx, "inv-1")
	if err != nil || byInvoice.ID != "o1" || byInvoice.CheckoutURL != "https://pay/inv-1" {
		t.Fatalf("get by invoice: %+v %v", byInvoice, err)
	}
	if !byInvoice.Amount.Equal(decimal.RequireFromString("499.5")) || byInvoice.Licensed() {
		t.Fatalf("unexpected stored order %+v", byInvoice)
	}

	if err := repo.UpdateStatus(ctx, "o1", models.OrderProcessing, now.Add(time.Minute)); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "missing", models.OrderFailed, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	stored, err := repo.SetLicenseIfEmpty(ctx, "o1", "token-a", now.Add(2*time.Minute))
	if err != nil || !stored {
		t.Fatalf("first license: %v %v", stored, err)
	}
	stored, err = repo.SetLicenseIfEmpty(ctx, "o1", "token-b", now.Add(3*time.Minute))
	if err != nil || stored {
		t.Fatalf("second license must not overwrite: %v %v", stored, err)
	}
	if _, err := repo.SetLicenseIfEmpty(ctx, "missing", "x", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := repo.Get(ctx, "o1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.OrderSuccess || got.License == nil || *got.License != "token-a" {
		t.Fatalf("unexpected licensed order %+v", got)
	}
}

//go:build integration

package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	libredis "cuehall/backend/libs/redis"
	"cuehall/backend/services/venue-service/internal/models"
)

func startRedisForTest(t *testing.T) *DayStatsStore {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
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
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("container mapped port: %v", err)
	}
	client, err := libredis.NewRedisClient(ctx, libredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewDayStatsStore(client, time.Hour)
}

func TestDayStatsStoreLifecycle(t *testing.T) {
	store := startRedisForTest(t)
	ctx := context.Background()
	const date = "2026-03-04"
	rec := func(id, amount, method string) models.SessionRecord {
		return models.SessionRecord{ID: id, Amount: decimal.RequireFromString(amount), DurationMs: 1000, PaymentMethod: method}
	}

	if err := store.Add(ctx, date, rec("r1", "100", models.PaymentCash)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.Get(ctx, date); !errors.Is(err, ErrMiss) {
		t.Fatalf("add must not create the bucket, got %v", err)
	}

	gen, err := store.Generation(ctx, date)
	if err != nil || gen != 1 {
		t.Fatalf("generation: %d %v", gen, err)
	}
	stale := models.DayStats{Date: date, Count: 5, Amount: decimal.NewFromInt(5)}
	if err := store.Put(ctx, stale, nil, gen-1); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Get(ctx, date); !errors.Is(err, ErrMiss) {
		t.Fatalf("stale put must be skipped, got %v", err)
	}

	full := models.DayStats{Date: date, Count: 1, Amount: decimal.NewFromInt(100), Cash: decimal.NewFromInt(100), TotalMs: 1000}
	if err := store.Put(ctx, full, []string{"r1"}, gen); err != nil {
		t.Fatalf("put: %v", err)
	}
	for _, r := range []models.SessionRecord{rec("r1", "100", models.PaymentCash), rec("r2", "49.99", models.PaymentCard)} {
		if err := store.Add(ctx, date, r); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	got, err := store.Get(ctx, date)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Count != 2 || !got.Amount.Equal(decimal.RequireFromString("149.99")) || !got.Card.Equal(decimal.RequireFromString("49.99")) || got.TotalMs != 2000 {
		t.Fatalf("unexpected stats %+v", got)
	}

	if err := store.Invalidate(ctx, date); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := store.Get(ctx, date); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss after invalidate, got %v", err)
	}
}

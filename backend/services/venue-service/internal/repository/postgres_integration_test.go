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
	venuedb "cuehall/backend/services/venue-service/internal/db"
	"cuehall/backend/services/venue-service/internal/models"
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
				"POSTGRES_DB":       "cuehall_test",
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
	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/cuehall_test?sslmode=disable", host, port.Port())

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

	if err := venuedb.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestPostgresRepositories(t *testing.T) {
	db := startPostgresForTest(t)
	ctx := context.Background()

	t.Run("customers apply bonus all or nothing", func(t *testing.T) {
		repo := NewCustomerRepository(db)
		for _, c := range []*models.Customer{
			{ID: "a", Name: "Alice", Phone: "+380501", BonusBalance: decimal.NewFromInt(30)},
			{ID: "b", Name: "Bob", BonusBalance: decimal.NewFromInt(10)},
		} {
			if err := repo.Create(ctx, c); err != nil {
				t.Fatalf("create %s: %v", c.ID, err)
			}
		}
		dup := &models.Customer{ID: "c", Name: "Copy", Phone: "+380501"}
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected phone conflict, got %v", err)
		}

		err := repo.ApplyBonus(ctx, []models.BonusChange{
			{CustomerID: "a", Balance: decimal.NewFromInt(-5)},
			{CustomerID: "b", Balance: decimal.NewFromInt(-20)},
		})
		if !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("expected insufficient balance, got %v", err)
		}
		a, err := repo.Get(ctx, "a")
		if err != nil || !a.BonusBalance.Equal(decimal.NewFromInt(30)) {
			t.Fatalf("batch must roll back: %v %+v", err, a)
		}

		if err := repo.ApplyBonus(ctx, []models.BonusChange{{CustomerID: "ghost", Visits: 1}}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}

		many, err := repo.GetMany(ctx, []string{"b", "ghost", "a"})
		if err != nil || len(many) != 2 || many[0].ID != "b" {
			t.Fatalf("unexpected GetMany result %v %+v", err, many)
		}
	})

	t.Run("single open shift and record log", func(t *testing.T) {
		shifts := NewShiftRepository(db)
		records := NewRecordRepository(db)
		opened := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

		if err := shifts.Create(ctx, &models.Shift{ID: "s1", OpenedAt: opened, OpenedBy: "anna"}); err != nil {
			t.Fatalf("create shift: %v", err)
		}
		if err := shifts.Create(ctx, &models.Shift{ID: "s2", OpenedAt: opened, OpenedBy: "boris"}); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected second open shift to conflict, got %v", err)
		}

		shiftID := "s1"
		rec := &models.SessionRecord{
			ID:            "r1",
			TableID:       "t1",
			TableName:     "T1",
			ShiftID:       &shiftID,
			PaymentMethod: models.PaymentCash,
			Amount:        decimal.RequireFromString("120.50"),
			StartedAt:     opened,
			FinishedAt:    opened.Add(time.Hour),
			DurationMs:    time.Hour.Milliseconds(),
		}
		for i := 0; i < 2; i++ {
			if err := records.Append(ctx, rec); err != nil {
				t.Fatalf("append #%d: %v", i, err)
			}
		}
		list, err := records.ListByShift(ctx, "s1")
		if err != nil || len(list) != 1 || !list[0].Amount.Equal(rec.Amount) {
			t.Fatalf("append must be idempotent: %v %+v", err, list)
		}

		closedAt := opened.Add(8 * time.Hour)
		closed := &models.Shift{ID: "s1", OpenedAt: opened, OpenedBy: "anna", ClosedAt: &closedAt,
			Totals: &models.ShiftTotals{TotalAmount: rec.Amount, Count: 1}}
		if err := shifts.Close(ctx, closed); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := shifts.Close(ctx, closed); !errors.Is(err, ErrConflict) {
			t.Fatalf("closing twice must conflict, got %v", err)
		}
		got, err := shifts.Get(ctx, "s1")
		if err != nil || got.Totals == nil || !got.Totals.TotalAmount.Equal(rec.Amount) {
			t.Fatalf("totals not stored: %v %+v", err, got)
		}
		if _, err := shifts.GetOpen(ctx); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected no open shift, got %v", err)
		}
	})

	t.Run("tables saved together", func(t *testing.T) {
		repo := NewTableRepository(db)
		t1 := &models.Table{ID: "t1", Name: "T1", RelayChannel: 1}
		t2 := &models.Table{ID: "t2", Name: "T2", RelayChannel: 2}
		t1.Timeline.Open(time.Now())
		if err := repo.Save(ctx, t1, t2); err != nil {
			t.Fatalf("save: %v", err)
		}
		tables, err := repo.List(ctx)
		if err != nil || len(tables) != 2 || !tables[0].Timeline.IsOn {
			t.Fatalf("unexpected tables %v %+v", err, tables)
		}
		if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("tariff versions", func(t *testing.T) {
		repo := NewTariffRepository(db)
		if _, err := repo.GetActive(ctx); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected no tariff, got %v", err)
		}
		tariff := &models.Tariff{BaseRate: decimal.NewFromInt(150), Rules: []models.RateRule{
			{Days: []int{1, 2, 3, 4, 5}, From: "18:00", To: "02:00", Rate: decimal.NewFromInt(300)},
		}}
		if err := repo.Save(ctx, tariff); err != nil {
			t.Fatalf("save: %v", err)
		}
		active, err := repo.GetActive(ctx)
		if err != nil || len(active.Rules) != 1 || !active.BaseRate.Equal(decimal.NewFromInt(150)) {
			t.Fatalf("unexpected tariff %v %+v", err, active)
		}
	})
}

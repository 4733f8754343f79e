package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	libredis "cuehall/backend/libs/redis"
	"cuehall/backend/libs/license"
	"cuehall/backend/services/venue-service/internal/clients"
	"cuehall/backend/services/venue-service/internal/config"
	"cuehall/backend/services/venue-service/internal/db"
	"cuehall/backend/services/venue-service/internal/event"
	httpserver "cuehall/backend/services/venue-service/internal/http"
	"cuehall/backend/services/venue-service/internal/http/handlers"
	"cuehall/backend/services/venue-service/internal/http/middleware"
	"cuehall/backend/services/venue-service/internal/metrics"
	"cuehall/backend/services/venue-service/internal/models"
	redisstore "cuehall/backend/services/venue-service/internal/redis"
	"cuehall/backend/services/venue-service/internal/repository"
	"cuehall/backend/services/venue-service/internal/repository/memory"
	"cuehall/backend/services/venue-service/internal/scheduler"
	"cuehall/backend/services/venue-service/internal/service"
	"cuehall/backend/services/venue-service/internal/ws"
)

// App wires venue service dependencies.
type App struct {
	server *httpserver.Server
	cron   *cron.Cron
	bus    *event.Bus
	db     *sql.DB
	redis  *redis.Client
	logger *zap.Logger
}

type stores struct {
	tables    service.TableStore
	customers service.CustomerRepository
	records   service.RecordStore
	shifts    service.ShiftStore
	tariffs   service.TariffRepository
	operators service.OperatorRepository
}

// New constructs application graph and restores persisted state.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{bus: event.NewBus(), logger: logger}

	st, err := a.openStores(cfg)
	if err != nil {
		return nil, err
	}

	var cache service.DayStatsCache
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			// stats fall back to the record store
			logger.Warn("redis unavailable, day stats cache disabled", zap.Error(err))
		} else {
			a.redis = client
			cache = redisstore.NewDayStatsStore(client, cfg.Redis.StatsTTL)
		}
	}

	tariffs, err := service.NewTariffService(st.tariffs, cfg.Venue.Tariff, loc, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("default tariff: %w", err)
	}
	ledger := service.NewBonusLedger(st.customers, logger)
	customers := service.NewCustomerService(st.customers, ledger, logger)
	shifts := service.NewShiftService(st.shifts, st.records, a.bus, nil, logger)
	stats := service.NewStatsService(st.records, cache, loc, nil, logger)

	relay := metrics.InstrumentRelay(clients.NewRelayClient(clients.RelayConfig{
		BaseURL:       cfg.Relay.BaseURL,
		Timeout:       cfg.Relay.Timeout,
		Mock:          cfg.Relay.Mock,
		RatePerSecond: cfg.Relay.RatePerSecond,
	}, nil, logger))

	billing := service.NewBillingService(service.BillingDeps{
		Tables:  st.tables,
		Records: st.records,
		Ledger:  ledger,
		Tariffs: tariffs,
		Shifts:  shifts,
		Relay:   relay,
		Events:  a.bus,
		Config: service.BillingConfig{
			EarnMode:         cfg.Bonus.EarnMode,
			BonusPerHour:     cfg.Bonus.PerHour,
			BonusEarnPercent: cfg.Bonus.EarnPercent,
		},
		Logger: logger,
	})
	shifts.UseSweeper(billing)

	tokens := service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	auth := service.NewAuthService(st.operators, service.NewBcryptHasher(0), tokens, logger)

	var verifier *license.Verifier
	if pem := strings.TrimSpace(cfg.License.PublicKeyPEM); pem != "" {
		verifier, err = license.NewVerifier([]byte(pem))
		if err != nil {
			logger.Warn("license public key rejected", zap.Error(err))
		}
	}
	gate := service.NewLicenseGate(verifier, cfg.License.Token, cfg.License.MachineID, logger)

	if err := restore(ctx, tariffs, shifts, billing); err != nil {
		a.Close()
		return nil, err
	}
	if err := auth.EnsureOperator(ctx, cfg.Auth.BootstrapUser, cfg.Auth.BootstrapPassword, cfg.Auth.BootstrapName); err != nil {
		a.Close()
		return nil, fmt.Errorf("bootstrap operator: %w", err)
	}
	gate.LogStatus()

	feed := ws.NewManager(logger)
	a.subscribe(feed, stats)

	a.cron = scheduler.NewScheduler(scheduler.Deps{
		Watchdog: billing,
		Gauges:   gauges{billing: billing, feed: feed},
	}, loc, logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Login:     handlers.NewLoginHandler(auth, logger),
		Tables:    handlers.NewTablesHandlers(billing, logger),
		Customers: handlers.NewCustomersHandlers(customers, logger),
		Tariff:    handlers.NewTariffHandlers(tariffs, billing, logger),
		Shifts:    handlers.NewShiftsHandlers(shifts, logger),
		DayStats:  handlers.NewDayStatsHandler(stats, logger),
		License:   handlers.NewLicenseHandler(gate),
		Feed:      ws.NewServer(feed, tokens, billing, 0, logger).HandleWS,
		Health:    handlers.NewHealthHandler(time.Now()),
		Metrics:   promhttp.Handler(),
	}, middleware.AuthMiddleware(tokens), logger)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return a, nil
}

func (a *App) openStores(cfg *config.Config) (stores, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		a.logger.Warn("memory storage selected, state is lost on restart")
		return stores{
			tables:    memory.NewTableRepository(),
			customers: memory.NewCustomerRepository(),
			records:   memory.NewRecordRepository(),
			shifts:    memory.NewShiftRepository(),
			tariffs:   memory.NewTariffRepository(),
			operators: memory.NewOperatorRepository(),
		}, nil
	}

	if err := db.Migrate(cfg.Storage.DSN); err != nil {
		return stores{}, fmt.Errorf("migrate: %w", err)
	}
	sqlDB, err := db.NewPostgres(cfg.Storage.DSN)
	if err != nil {
		return stores{}, err
	}
	a.db = sqlDB
	return stores{
		tables:    repository.NewTableRepository(sqlDB),
		customers: repository.NewCustomerRepository(sqlDB),
		records:   repository.NewRecordRepository(sqlDB),
		shifts:    repository.NewShiftRepository(sqlDB),
		tariffs:   repository.NewTariffRepository(sqlDB),
		operators: repository.NewOperatorRepository(sqlDB),
	}, nil
}

func restore(ctx context.Context, tariffs *service.TariffService, shifts *service.ShiftService, billing *service.BillingService) error {
	if err := tariffs.Load(ctx); err != nil {
		return fmt.Errorf("load tariff: %w", err)
	}
	if err := shifts.Restore(ctx); err != nil {
		return fmt.Errorf("restore shift: %w", err)
	}
	if err := billing.Restore(ctx); err != nil {
		return fmt.Errorf("restore tables: %w", err)
	}
	return nil
}

// subscribe attaches metrics, the stats index and the table feed to engine events.
func (a *App) subscribe(feed *ws.Manager, stats *service.StatsService) {
	metrics.Subscribe(a.bus)
	a.bus.Subscribe(event.SessionFinalized, func(payload any) {
		if rec, ok := payload.(models.SessionRecord); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			stats.Index(ctx, rec)
		}
	})
	for _, name := range []string{
		event.TableUpdated,
		event.TableRemoved,
		event.SessionFinalized,
		event.BonusExhausted,
		event.ShiftOpened,
		event.ShiftClosed,
	} {
		a.bus.Subscribe(name, func(payload any) {
			feed.Broadcast(name, payload)
		})
	}
}

// Run starts the scheduler and serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.cron.Start()
	defer func() {
		<-a.cron.Stop().Done()
	}()
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	a.bus.Wait()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}

type gauges struct {
	billing *service.BillingService
	feed    *ws.Manager
}

func (g gauges) RefreshGauges() {
	metrics.SetTablesLit(g.billing.CountOn())
	metrics.SetFeedConnections(g.feed.Count())
}

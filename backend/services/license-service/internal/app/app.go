package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cuehall/backend/libs/license"
	"cuehall/backend/services/license-service/internal/clients"
	"cuehall/backend/services/license-service/internal/config"
	"cuehall/backend/services/license-service/internal/db"
	httpserver "cuehall/backend/services/license-service/internal/http"
	"cuehall/backend/services/license-service/internal/http/handlers"
	"cuehall/backend/services/license-service/internal/http/middleware"
	"cuehall/backend/services/license-service/internal/metrics"
	"cuehall/backend/services/license-service/internal/repository"
	"cuehall/backend/services/license-service/internal/repository/memory"
	"cuehall/backend/services/license-service/internal/service"
)

// App wires license service dependencies.
type App struct {
	server *httpserver.Server
	db     *sql.DB
	logger *zap.Logger
}

// New constructs application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	orders, err := a.openOrders(cfg)
	if err != nil {
		return nil, err
	}

	keyPEM, err := cfg.PrivateKey()
	if err != nil {
		a.Close()
		return nil, err
	}
	signer, err := license.NewSigner(keyPEM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("license signer: %w", err)
	}
	plans, err := service.ParsePlans(cfg.License.Plans)
	if err != nil {
		a.Close()
		return nil, err
	}

	mono := clients.NewMonobankClient(clients.MonobankConfig{
		BaseURL:  cfg.Provider.BaseURL,
		Token:    cfg.Provider.Token,
		Currency: cfg.Provider.Currency,
		Timeout:  cfg.Provider.Timeout,
	}, nil, logger)

	orderService := service.NewOrderService(service.OrderDeps{
		Orders:   orders,
		Provider: mono,
		Verifier: service.NewWebhookVerifier(mono, logger),
		Signer:   signer,
		Plans:    plans,
		Observer: metrics.Recorder{},
		Config: service.OrderConfig{
			RedirectURL:     cfg.Provider.RedirectURL,
			WebhookURL:      cfg.Provider.WebhookURL,
			InvoiceValidity: cfg.Provider.InvoiceValidity,
		},
		Logger: logger,
	})
	logger.Info("license plans loaded", zap.Int("count", len(plans.All())))

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Orders:         handlers.NewOrdersHandlers(orderService, logger),
		Metrics:        promhttp.Handler(),
		CreateLimiter:  middleware.NewRateLimiter(cfg.HTTP.OrdersPerMinute, cfg.HTTP.OrdersBurst),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, logger)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return a, nil
}

func (a *App) openOrders(cfg *config.Config) (service.OrderRepository, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		a.logger.Warn("memory storage selected, orders are lost on restart")
		return memory.NewOrderRepository(), nil
	}
	if err := db.Migrate(cfg.Storage.DSN); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	sqlDB, err := db.NewPostgres(cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	a.db = sqlDB
	return repository.NewOrderRepository(sqlDB), nil
}

// Run serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}

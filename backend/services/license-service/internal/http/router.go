package httpserver

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"cuehall/backend/libs/logging"
	"cuehall/backend/services/license-service/internal/http/handlers"
	"cuehall/backend/services/license-service/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Orders         *handlers.OrdersHandlers
	Metrics        http.Handler
	CreateLimiter  *middleware.RateLimiter
	AllowedOrigins []string
}

// NewRouter wires routes, CORS and access logging.
func NewRouter(deps RouterDeps, logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger)
	router := httprouter.New()

	create := deps.Orders.Create
	if deps.CreateLimiter != nil {
		create = deps.CreateLimiter.Limit(create)
	}

	router.GET("/health", handlers.NewHealthHandler())
	router.GET("/api/plans", deps.Orders.Plans)
	router.POST("/api/orders", create)
	router.GET("/api/orders/:id", deps.Orders.Get)
	router.POST("/api/orders/:id/refresh", deps.Orders.Refresh)
	router.GET("/api/orders/:id/qr", deps.Orders.QR)
	router.POST("/api/mono/webhook", deps.Orders.Webhook)
	if deps.Metrics != nil {
		router.Handler(http.MethodGet, "/metrics", deps.Metrics)
	}

	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, recovered interface{}) {
		logger.Error("http handler panic recovered", zap.String("path", r.URL.Path), zap.Any("panic", recovered))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Order-Token"},
	}).Handler(router)

	return middleware.AccessLog(logger)(corsHandler)
}

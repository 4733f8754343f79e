package httpserver

import (
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"cuehall/backend/libs/logging"
	"cuehall/backend/services/venue-service/internal/http/handlers"
	"cuehall/backend/services/venue-service/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Login     http.HandlerFunc
	Tables    *handlers.TablesHandlers
	Customers *handlers.CustomersHandlers
	Tariff    *handlers.TariffHandlers
	Shifts    *handlers.ShiftsHandlers
	DayStats  http.HandlerFunc
	License   http.HandlerFunc
	Feed      http.HandlerFunc
	Health    http.HandlerFunc
	Metrics   http.Handler
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler, logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger)
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.Health))
	if deps.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, deps.Metrics))
	}
	mux.Handle("/api/auth/login", method(http.MethodPost, deps.Login))
	if deps.Feed != nil {
		mux.Handle("/ws/tables", method(http.MethodGet, deps.Feed))
	}

	authenticated := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, authMiddleware)
	}

	t := deps.Tables
	mux.Handle("/api/tables", methods{
		http.MethodGet:  authenticated(t.List),
		http.MethodPost: authenticated(t.Create),
	})
	mux.Handle("/api/tables/{id}", methods{
		http.MethodGet:    authenticated(t.Get),
		http.MethodDelete: authenticated(t.Delete),
	})
	for path, handler := range map[string]http.HandlerFunc{
		"light-on": t.LightOn,
		"pause":    t.Pause,
		"bonus":    t.Bonus,
		"players":  t.Players,
		"rentals":  t.Rentals,
		"finalize": t.Finalize,
		"reset":    t.Reset,
		"transfer": t.Transfer,
	} {
		mux.Handle("/api/tables/{id}/"+path, method(http.MethodPost, authenticated(handler)))
	}

	c := deps.Customers
	mux.Handle("/api/customers", methods{
		http.MethodGet:  authenticated(c.List),
		http.MethodPost: authenticated(c.Create),
	})
	mux.Handle("/api/customers/{id}", method(http.MethodGet, authenticated(c.Get)))
	mux.Handle("/api/customers/{id}/bonus", method(http.MethodPost, authenticated(c.AddBonus)))

	mux.Handle("/api/tariff", methods{
		http.MethodGet: authenticated(deps.Tariff.Get),
		http.MethodPut: authenticated(deps.Tariff.Update),
	})

	s := deps.Shifts
	mux.Handle("/api/shifts", method(http.MethodGet, authenticated(s.History)))
	mux.Handle("/api/shifts/current", method(http.MethodGet, authenticated(s.Current)))
	mux.Handle("/api/shifts/open", method(http.MethodPost, authenticated(s.Open)))
	mux.Handle("/api/shifts/close", method(http.MethodPost, authenticated(s.Close)))
	mux.Handle("/api/shifts/{id}/records", method(http.MethodGet, authenticated(s.Records)))

	mux.Handle("/api/stats/day", method(http.MethodGet, authenticated(deps.DayStats)))
	mux.Handle("/api/license", method(http.MethodGet, authenticated(deps.License)))

	return middleware.Chain(mux, middleware.Recovery(logger), middleware.AccessLog(logger))
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// methods dispatches one path to a handler per HTTP method.
type methods map[string]http.Handler

func (m methods) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if handler, ok := m[r.Method]; ok {
		handler.ServeHTTP(w, r)
		return
	}
	allowed := make([]string, 0, len(m))
	for name := range m {
		allowed = append(allowed, name)
	}
	sort.Strings(allowed)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// Package http exposes the budgeting JSON API: snapshot reconciliation,
// paid-flag transitions, a live SSE view over budget documents, and the
// expense/income CRUD surfaces.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"budgeteer/internal/auth"
	"budgeteer/internal/cache"
	"budgeteer/internal/core"
	"budgeteer/internal/middleware/ratelimit"
	"budgeteer/internal/middleware/security"
	"budgeteer/internal/middleware/trace"
	"budgeteer/internal/services"
)

type Server struct {
	http.Server

	budgets  *services.BudgetService
	expenses *services.ExpenseService
	income   *services.IncomeService
	authn    auth.Authenticator

	previewCache *cache.LRUCache[core.Budget]
	cacheManager *cache.Manager
	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	ips          *security.IPExtractor

	shutdownOnce sync.Once
}

// Options tunes the server's ambient behavior.
type Options struct {
	Addr               string
	RateLimitPerMinute int
	PreviewCacheSize   int
	PreviewCacheTTL    time.Duration
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(opts Options, budgets *services.BudgetService, expenses *services.ExpenseService, income *services.IncomeService, authn auth.Authenticator) *Server {
	if opts.PreviewCacheSize <= 0 {
		opts.PreviewCacheSize = 256
	}
	if opts.PreviewCacheTTL <= 0 {
		opts.PreviewCacheTTL = 30 * time.Second
	}

	ips := security.NewIPExtractor()

	s := &Server{
		budgets:  budgets,
		expenses: expenses,
		income:   income,
		authn:    authn,

		previewCache: cache.NewLRUCache[core.Budget](opts.PreviewCacheSize, opts.PreviewCacheTTL),
		cacheManager: cache.NewManager(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}),
		tracer: trace.NewMiddleware(ips.ExtractClientIP),
		ips:    ips,
	}
	s.cacheManager.Register(s.previewCache)
	s.cacheManager.StartCleanup(5 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	api := func(methods []string, h http.HandlerFunc) http.Handler {
		return s.requireAuth(requireMethod(methods...)(h))
	}
	mux.Handle("/api/budget", api([]string{http.MethodGet}, s.handleGetBudget))
	mux.Handle("/api/budget/paid", api([]string{http.MethodPost}, s.handleMarkPaid))
	mux.Handle("/api/budget/stream", api([]string{http.MethodGet}, s.handleBudgetStream))
	mux.Handle("/api/budget/preview", api([]string{http.MethodGet}, s.handleBudgetPreview))

	mux.Handle("/api/expenses", api([]string{http.MethodGet, http.MethodPost}, s.handleExpenses))
	mux.Handle("/api/expenses/update", api([]string{http.MethodPost}, s.handleUpdateExpense))
	mux.Handle("/api/expenses/delete", api([]string{http.MethodPost, http.MethodDelete}, s.handleDeleteExpense))

	mux.Handle("/api/income", api([]string{http.MethodGet, http.MethodPost}, s.handleIncome))
	mux.Handle("/api/income/update", api([]string{http.MethodPost}, s.handleUpdateIncome))
	mux.Handle("/api/income/delete", api([]string{http.MethodPost, http.MethodDelete}, s.handleDeleteIncome))

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.clientKey)(handler)
	handler = s.tracer.Middleware(handler)
	handler = security.Headers(handler)

	s.Server = http.Server{
		Addr:    opts.Addr,
		Handler: handler,
	}
	return s
}

// requireAuth resolves the bearer token to a user id and stores it in the
// request context. Unauthenticated requests get 401 before any handler runs.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}
		userID, err := s.authn.UserIDForToken(token)
		if err != nil {
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}
		next(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

// clientKey picks the rate-limit key: the authenticated user when the token
// resolves, the client IP otherwise.
func (s *Server) clientKey(r *http.Request) string {
	if token := auth.BearerToken(r); token != "" {
		if userID, err := s.authn.UserIDForToken(token); err == nil {
			return "user:" + userID
		}
	}
	return "ip:" + s.ips.ExtractClientIP(r)
}

// userID reads the authenticated user id placed by requireAuth.
func userID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// invalidatePreview drops the user's cached previews after a budget write.
func (s *Server) invalidatePreview(uid string) {
	s.previewCache.DeletePrefix(uid + "/")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Shutdown stops the HTTP server and background cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

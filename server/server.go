// Package server exposes the agent list, visa status and health endpoints.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"agentlist/agents"
	"agentlist/config"
	"agentlist/fetcher"
	"agentlist/snapshot"
	"agentlist/visa"

	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// Cache-Control values per mode.
const (
	CacheDevelopment = "no-cache, no-store, must-revalidate"
	CacheProduction  = "public, max-age=300, s-maxage=3600"
)

// ParseMethod is reported in diagnostics.
const ParseMethod = "goquery"

// Server holds the handlers' dependencies.
type Server struct {
	cfg       *config.Config
	fetcher   *fetcher.Fetcher
	snapshots *snapshot.Store // nil disables snapshots
	visa      *visa.Client
	resolver  *net.Resolver
	logger    *zap.Logger
	locale    language.Tag

	now      func() time.Time
	readFile func(string) ([]byte, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithSnapshots enables the last-good snapshot store.
func WithSnapshots(store *snapshot.Store) Option {
	return func(s *Server) { s.snapshots = store }
}

// WithVisaClient overrides the visa client built from the config.
func WithVisaClient(c *visa.Client) Option {
	return func(s *Server) { s.visa = c }
}

// WithFetcher overrides the fetcher built from the config.
func WithFetcher(f *fetcher.Fetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// WithResolver overrides the resolver used by /api/debug-network.
func WithResolver(r *net.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds a Server from cfg. A nil logger discards logs.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	locale, err := language.Parse(cfg.Sort.Locale)
	if err != nil {
		logger.Warn("unknown sort locale, using default",
			zap.String("locale", cfg.Sort.Locale), zap.Error(err))
		locale = agents.DefaultLocale
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		locale: locale,
		fetcher: fetcher.New(fetcher.Options{
			UserAgent:       cfg.Upstream.UserAgent,
			TimeoutSeconds:  cfg.Upstream.TimeoutSeconds,
			BrowserFallback: cfg.Upstream.BrowserFallback,
			ChromePath:      cfg.Upstream.ChromePath,
		}),
		visa: visa.New(visa.Credentials{
			BaseURL:  cfg.Visa.BaseURL,
			Username: cfg.Visa.Username,
			Password: cfg.Visa.Password,
		}, nil, logger.Named("visa")),
		resolver: net.DefaultResolver,
		now:      time.Now,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agent-list", s.handleAgentList)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/visa-statuses", s.handleVisaStatuses)
	mux.HandleFunc("GET /api/debug-network", s.handleDebugNetwork)
	return s.withRequestID(s.withLogging(s.withRecover(mux)))
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", srv.Addr), zap.String("mode", s.cfg.Server.Mode))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) cacheControl() string {
	if s.cfg.IsProduction() {
		return CacheProduction
	}
	return CacheDevelopment
}

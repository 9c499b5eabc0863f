// Package api exposes a repository store over HTTP. Besides file and
// branch management it serves the sync transport a peer replica uses:
// reading a branch head, asking for changesets and pushing them.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"relgit/internal/logging"
	"relgit/internal/metrics"
	"relgit/internal/middleware"
	"relgit/internal/repo"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	// MaxBodySize bounds pushed changesets and uploaded files.
	MaxBodySize = 64 << 20
)

type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

type Server struct {
	store   *repo.Store
	logger  *logging.Logger
	metrics *metrics.Metrics

	// pushMu serializes pushes so that racing replicas are answered
	// NO_SYNC one after the other instead of failing a transaction.
	pushMu sync.Mutex
}

func NewServer(store *repo.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Server{store: store, logger: opts.Logger, metrics: opts.Metrics}
}

// Router builds the full route tree with request id, access log and panic
// recovery applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Logger(s.logger),
		middleware.Recover(s.logger),
	)

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/dump", s.dump)
		r.Get("/repos", s.listRepos)
		r.Post("/repos", s.initRepo)

		r.Route("/repos/{org}/{repo}", func(r chi.Router) {
			r.Get("/", s.getRepo)
			r.Get("/branches", s.listBranches)
			r.Post("/branches", s.checkoutBranch)

			r.Route("/branches/{branch}", func(r chi.Router) {
				r.Get("/head", s.head)
				r.Get("/changes", s.changesSince)
				r.Post("/changes", s.applyChanges)
				r.Get("/log", s.log)
				r.Post("/merge", s.merge)
				r.Get("/files", s.listFiles)
				r.Get("/files/*", s.getFile)
				r.Put("/files/*", s.putFile)
				r.Delete("/files/*", s.deleteFile)
			})
		})
	})
	return r
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("address", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/internal/printer"
	"github.com/funnyzak/mocktap/internal/storage"
	"github.com/funnyzak/mocktap/internal/web"
)

const shutdownTimeout = 30 * time.Second

// Server HTTP server
type Server struct {
	config  *config.Config
	logger  logger.Logger
	store   storage.Store
	handler *Handler
	web     *web.Service
	sweeper *Sweeper
	httpSrv *http.Server

	baseCtx    context.Context
	cancelBase context.CancelFunc
	procWG     sync.WaitGroup
}

// New creates a new server instance on top of an opened store.
func New(cfg *config.Config, log logger.Logger, store storage.Store, p printer.Printer) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		logger:     log,
		store:      store,
		web:        web.NewService(cfg, store, log),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}

	var live HitRecorder
	if cfg.Web.LiveEnable {
		live = s.web
	}

	s.handler = NewHandler(store, p, live, log, &HandlerConfig{
		MockPrefix:   cfg.Server.MockPrefix,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, baseCtx, &s.procWG)

	if cfg.Storage.SweepInterval > 0 {
		s.sweeper = NewSweeper(store.AccessLogs(), log, cfg.Storage.SweepInterval, cfg.Storage.RetentionDays)
	}
	return s
}

// Router builds the route table: health, admin API, then the mock surface.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.SkipClean(true)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.web.RegisterRoutes(router)
	router.PathPrefix(s.config.Server.MockPrefix + "/").Handler(recoverMiddleware(s.logger, s.handler))
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.config.Server.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("Starting HTTP server",
		"addr", s.httpSrv.Addr,
		"mock_prefix", s.config.Server.MockPrefix,
		"admin_path", s.config.Server.AdminPath,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.sweeper != nil {
		group.Go(func() error {
			s.sweeper.Run(groupCtx)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return s.Stop()
	})

	err := group.Wait()
	s.logger.Info("Server exited")
	return err
}

// Stop shuts the HTTP server down and waits for in-flight hit processing.
func (s *Server) Stop() error {
	s.logger.Info("Shutting down server...")

	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err = s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("Server forced to shutdown", "error", err)
		}
	}

	s.web.Close()
	s.procWG.Wait()
	s.cancelBase()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

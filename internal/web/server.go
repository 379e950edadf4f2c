package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"quickswitch/internal/config"
	"quickswitch/internal/util"
)

type Server struct {
	config  *config.Config
	handler *Handler
	server  *http.Server
	logger  *util.Logger
}

func NewServer(cfg *config.Config, handler *Handler, customPort int, logger *util.Logger) *Server {
	mux := http.NewServeMux()
	handler.SetupRoutes(mux)

	port := cfg.Web.Port
	if customPort > 0 {
		port = customPort
	}

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		config:  cfg,
		handler: handler,
		server:  httpServer,
		logger:  logger,
	}
}

func (s *Server) Start() error {
	s.logger.Infof("starting web server on http://%s", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infof("shutting down web server")
	return s.server.Shutdown(ctx)
}

func (s *Server) GetAddress() string {
	return s.server.Addr
}

/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/agentvault/approvald/internal/approval"
	"github.com/agentvault/approvald/internal/config"
)

// Server wires the HTTP listener and request handling stack. It carries only
// the human-facing side of the approval flow: listing pending requests and
// accepting signed decisions. Issuing and consuming stay in-process with the
// agent runtime; the unlock passphrase never transits HTTP.
type Server struct {
	cfg     config.Config
	handler *handler
	http    *http.Server
	logger  *log.Logger
}

// New constructs a Server over an already-wired approval store.
func New(cfg config.Config, store *approval.Store) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	h, err := newHandler(store, logger)
	if err != nil {
		return nil, err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{
		cfg:     cfg,
		handler: h,
		http:    httpSrv,
		logger:  logger,
	}, nil
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("Run approval server on %s.", s.http.Addr)

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully takes down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

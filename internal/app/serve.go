package app

import (
	"context"
	"log/slog"

	"fileup/internal/config"
	"fileup/internal/server"
	"fileup/internal/storage"
)

// ServeApp receives HTTP uploads into the configured storage
type ServeApp struct {
	config *config.Config
	logger *slog.Logger
}

// NewServeApp creates a new serve application
func NewServeApp(cfg *config.Config, logger *slog.Logger) *ServeApp {
	return &ServeApp{config: cfg, logger: logger}
}

// Run serves until ctx is done
func (s *ServeApp) Run(ctx context.Context) error {
	sink, err := storage.New(ctx, s.config.Storage, s.logger)
	if err != nil {
		return err
	}
	return server.New(s.config.Server, sink, s.logger).ListenAndServe(ctx)
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	"fileup/internal/config"
	"fileup/internal/storage"
	"fileup/internal/transport/peer"
	"fileup/internal/ui"
	"fileup/pkg/utils"
)

// ReceiverOptions configures the receiver application behavior
type ReceiverOptions struct {
	DestPath string // directory for the disk backend; ignored by s3 and minio
	Code     string // session code; prompted for when empty
}

// ReceiverApp stores batches uploaded by a peer
type ReceiverApp struct {
	config      *config.Config
	peerService *peer.PeerService
	signaller   Signaller
	console     *ui.ConsoleUI
	logger      *slog.Logger
}

// NewReceiverApp creates a new receiver application
func NewReceiverApp(cfg *config.Config, signaller Signaller, console *ui.ConsoleUI, logger *slog.Logger) *ReceiverApp {
	return &ReceiverApp{
		config:      cfg,
		peerService: peer.NewPeerService(cfg, logger),
		signaller:   signaller,
		console:     console,
		logger:      logger,
	}
}

// Run connects to the sender holding the session code and stores what it
// uploads until the sender closes the channel
func (r *ReceiverApp) Run(ctx context.Context, opts *ReceiverOptions) error {
	storageCfg := r.config.Storage
	if storageCfg.Backend == config.BackendDisk && opts.DestPath != "" {
		dst, err := utils.ResolveDestinationPath(opts.DestPath)
		if err != nil {
			return err
		}
		storageCfg.Dir = dst
	}

	sink, err := storage.New(ctx, storageCfg, r.logger)
	if err != nil {
		return err
	}

	code := opts.Code
	if code == "" {
		if code, err = r.console.InputCode(ctx); err != nil {
			return fmt.Errorf("failed to get code from user: %w", err)
		}
	}
	if !utils.IsValidCode(code) {
		return fmt.Errorf("invalid session code %q", code)
	}

	peerConn, err := r.peerService.NewConnection()
	if err != nil {
		return err
	}
	r.peerService.Watch(peerConn, "receiver")

	channel, handler := peer.CreateReceiverChannel(ctx, r.config, peerConn, sink, r.logger)
	handler.OnFileStored = r.console.ShowStoredFile

	cleanup := func() {
		if err := channel.Close(); err != nil {
			r.logger.Warn("Error closing data channel", "error", err)
		}
		if err := r.peerService.Close(peerConn); err != nil {
			r.logger.Warn("Error closing peer connection", "error", err)
		}
		if err := r.signaller.ClearSession(context.WithoutCancel(ctx), code); err != nil {
			r.logger.Warn("Failed to clear signalling session", "session", code, "error", err)
		}
	}
	defer cleanup()

	if err := r.signaller.Answer(ctx, peerConn, code); err != nil {
		return fmt.Errorf("failed during signalling process: %w", err)
	}

	stopped := channel.Start()
	r.console.ShowMessage(fmt.Sprintf("Connected to session %s, waiting for batches", code))

	var exitErr error
	select {
	case <-stopped:
	case failure := <-r.peerService.Failures():
		exitErr = failure
	case <-ctx.Done():
		exitErr = ctx.Err()
	}

	r.console.ShowReceiveSummary(handler.Stats())
	return exitErr
}

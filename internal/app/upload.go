package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"fileup/internal/config"
	"fileup/internal/file"
	"fileup/internal/transport"
	"fileup/internal/transport/peer"
	"fileup/internal/ui"
	"fileup/internal/upload"
)

// ErrUploadFailed is returned when a job reported any error
var ErrUploadFailed = errors.New("upload finished with errors")

// UploadOptions configures one run of the upload application
type UploadOptions struct {
	Paths     []string
	Recursive bool
	Peer      bool // send to a fileup receive peer instead of an HTTP endpoint
	Progress  bool
}

// UploadApp collects local files and uploads them over HTTP or to a peer
type UploadApp struct {
	config      *config.Config
	files       file.FileService
	peerService *peer.PeerService
	signaller   Signaller
	ui          ui.InteractiveUI
	out         io.Writer
	logger      *slog.Logger
}

// NewUploadApp creates a new upload application. signaller is only used
// for peer uploads and may be nil otherwise.
func NewUploadApp(
	cfg *config.Config,
	files file.FileService,
	signaller Signaller,
	console ui.InteractiveUI,
	out io.Writer,
	logger *slog.Logger,
) *UploadApp {
	return &UploadApp{
		config:      cfg,
		files:       files,
		peerService: peer.NewPeerService(cfg, logger),
		signaller:   signaller,
		ui:          console,
		out:         out,
		logger:      logger,
	}
}

// Run uploads the files under opts.Paths and waits for the job to finish.
// The summary is printed either way; ErrUploadFailed signals reported errors.
func (a *UploadApp) Run(ctx context.Context, opts *UploadOptions) error {
	if len(opts.Paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}

	files, collectErrs := a.files.Collect(opts.Paths, opts.Recursive)
	a.logger.Debug("Collected files", "files", len(files), "unreadable", len(collectErrs))

	progress := ui.NewProgressUI(a.out, opts.Progress)
	hooks := progress.Hooks(nil)
	for _, err := range collectErrs {
		hooks.Error(err)
	}

	uploadOpts := a.config.Upload.Options()
	var t upload.Transport
	if opts.Peer {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		watching, stopWatching := context.WithCancel(context.Background())
		defer stopWatching()
		go a.watchFailures(watching, cancel)

		sender, code, cleanup, err := a.connectPeer(ctx)
		if err != nil {
			return err
		}
		defer func() {
			// our own close must not show up as a failure
			stopWatching()
			cleanup()
		}()
		uploadOpts.URL = "peer://" + code
		t = sender
	} else {
		httpTransport, err := transport.NewHTTPTransport(a.config.Upload.Timeout, a.logger)
		if err != nil {
			return err
		}
		t = httpTransport
	}

	uploader, err := upload.New(uploadOpts, t, hooks, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}

	job, err := uploader.Add(ctx, files)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if job == nil {
		return a.result(progress.Summary())
	}

	// The job drains on cancellation, so the transport is idle before cleanup.
	<-job.Done()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upload interrupted: %w", err)
	}
	return a.result(progress.Summary())
}

func (a *UploadApp) result(s ui.Summary) error {
	if s.OK() {
		return nil
	}
	return fmt.Errorf("%w: %d error(s)", ErrUploadFailed, len(s.Errors))
}

// connectPeer opens a data channel to a receiver found through signalling.
// The returned cleanup closes the channel and the connection and clears
// the session.
func (a *UploadApp) connectPeer(ctx context.Context) (*peer.SenderHandler, string, func(), error) {
	if a.signaller == nil {
		return nil, "", nil, fmt.Errorf("peer uploads need a signalling service")
	}

	peerConn, err := a.peerService.NewConnection()
	if err != nil {
		return nil, "", nil, err
	}
	a.peerService.Watch(peerConn, "sender")

	channel, sender, err := peer.CreateSenderChannel(ctx, a.config, peerConn, a.logger)
	if err != nil {
		_ = a.peerService.Close(peerConn)
		return nil, "", nil, err
	}

	code, err := a.signaller.Offer(ctx, peerConn, a.ui.ShowCode)
	cleanup := func() {
		if err := channel.Close(); err != nil {
			a.logger.Warn("Error closing data channel", "error", err)
		}
		if err := a.peerService.Close(peerConn); err != nil {
			a.logger.Warn("Error closing peer connection", "error", err)
		}
		if code != "" {
			if err := a.signaller.ClearSession(context.WithoutCancel(ctx), code); err != nil {
				a.logger.Warn("Failed to clear signalling session", "session", code, "error", err)
			}
		}
	}
	if err != nil {
		cleanup()
		return nil, "", nil, fmt.Errorf("failed during signalling process: %w", err)
	}

	channel.Start()
	a.ui.ShowMessage("Receiver answered, uploading once the data channel opens")
	return sender, code, cleanup, nil
}

// watchFailures cancels the upload when the peer connection fails, until
// watching is done
func (a *UploadApp) watchFailures(watching context.Context, cancel context.CancelFunc) {
	select {
	case failure := <-a.peerService.Failures():
		a.logger.Error("Peer connection lost", "error", failure)
		cancel()
	case <-watching.Done():
	}
}

package signalling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"fileup/internal/config"
	"fileup/pkg/utils"
)

var ErrNoLocalDescription = errors.New("no local description after ICE gathering")

// SessionStore keeps the offer and answer of a session, addressed by code
type SessionStore interface {
	CreateSession(ctx context.Context, offer string) (code string, err error)
	GetOffer(ctx context.Context, code string) (offer string, err error)
	UpdateAnswer(ctx context.Context, code, answer string) error
	WaitForAnswer(ctx context.Context, code string) (answer string, err error)
	DeleteSession(ctx context.Context, code string) error
}

// Negotiator produces local session descriptions on a peer connection
type Negotiator interface {
	LocalOffer(pc *webrtc.PeerConnection) error
	LocalAnswer(pc *webrtc.PeerConnection) error
	AwaitCandidates(ctx context.Context, pc *webrtc.PeerConnection) error
}

// Service exchanges SDP between an uploading and a receiving peer through a
// SessionStore. Descriptions travel base64 JSON encoded with all candidates
// (no trickle ICE).
type Service struct {
	store  SessionStore
	nego   Negotiator
	logger *slog.Logger
}

func NewService(store SessionStore, nego Negotiator, logger *slog.Logger) *Service {
	return &Service{store: store, nego: nego, logger: logger}
}

// NewFirebaseService connects to the Firebase realtime database from cfg
func NewFirebaseService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	store, err := NewFirebaseClient(ctx, &cfg.Firebase, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase client: %w", err)
	}
	return NewService(store, PionNegotiator{}, logger), nil
}

// Offer publishes the offer of pc, hands the session code to onCode and
// applies the answer once the receiver wrote one. The code is returned even
// when waiting for the answer fails so the caller can clear the session.
func (s *Service) Offer(ctx context.Context, pc *webrtc.PeerConnection, onCode func(code string)) (string, error) {
	if err := s.nego.LocalOffer(pc); err != nil {
		return "", err
	}
	offer, err := s.encodeLocal(ctx, pc)
	if err != nil {
		return "", err
	}

	code, err := s.store.CreateSession(ctx, offer)
	if err != nil {
		return "", fmt.Errorf("failed to publish offer: %w", err)
	}
	s.logger.Debug("Offer published", "session", code)
	if onCode != nil {
		onCode(code)
	}

	answer, err := s.store.WaitForAnswer(ctx, code)
	if err != nil {
		return code, fmt.Errorf("no answer for session %s: %w", code, err)
	}
	if err := applyRemote(pc, answer); err != nil {
		return code, fmt.Errorf("bad answer for session %s: %w", code, err)
	}
	return code, nil
}

// Answer applies the offer stored under code and publishes the answer of pc
func (s *Service) Answer(ctx context.Context, pc *webrtc.PeerConnection, code string) error {
	offer, err := s.store.GetOffer(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to read offer of session %s: %w", code, err)
	}
	if err := applyRemote(pc, offer); err != nil {
		return fmt.Errorf("bad offer for session %s: %w", code, err)
	}

	if err := s.nego.LocalAnswer(pc); err != nil {
		return err
	}
	answer, err := s.encodeLocal(ctx, pc)
	if err != nil {
		return err
	}

	if err := s.store.UpdateAnswer(ctx, code, answer); err != nil {
		return fmt.Errorf("failed to publish answer: %w", err)
	}
	s.logger.Debug("Answer published", "session", code)
	return nil
}

// ClearSession removes the session stored under code
func (s *Service) ClearSession(ctx context.Context, code string) error {
	return s.store.DeleteSession(ctx, code)
}

func (s *Service) encodeLocal(ctx context.Context, pc *webrtc.PeerConnection) (string, error) {
	if err := s.nego.AwaitCandidates(ctx, pc); err != nil {
		return "", fmt.Errorf("ICE gathering did not complete: %w", err)
	}
	local := pc.LocalDescription()
	if local == nil {
		return "", ErrNoLocalDescription
	}
	return utils.Encode(*local)
}

func applyRemote(pc *webrtc.PeerConnection, encoded string) error {
	sd, err := utils.Decode[webrtc.SessionDescription](encoded)
	if err != nil {
		return err
	}
	return pc.SetRemoteDescription(sd)
}

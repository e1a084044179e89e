package app

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Signaller exchanges session descriptions with the remote peer.
// signalling.Service is the production implementation.
type Signaller interface {
	Offer(ctx context.Context, peerConn *webrtc.PeerConnection, onCode func(code string)) (string, error)
	Answer(ctx context.Context, peerConn *webrtc.PeerConnection, code string) error
	ClearSession(ctx context.Context, code string) error
}

package signalling

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PionNegotiator is the Negotiator for pion peer connections
type PionNegotiator struct{}

func (PionNegotiator) LocalOffer(pc *webrtc.PeerConnection) error {
	sd, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return setLocal(pc, sd)
}

func (PionNegotiator) LocalAnswer(pc *webrtc.PeerConnection) error {
	sd, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	return setLocal(pc, sd)
}

// AwaitCandidates blocks until ICE gathering of pc is complete
func (PionNegotiator) AwaitCandidates(ctx context.Context, pc *webrtc.PeerConnection) error {
	gathered := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gathered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func setLocal(pc *webrtc.PeerConnection, sd webrtc.SessionDescription) error {
	if err := pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("failed to apply local %s: %w", sd.Type, err)
	}
	return nil
}

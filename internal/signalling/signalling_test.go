package signalling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileup/pkg/utils"
)

// memoryServer is a SessionStore kept in a map
type memoryServer struct {
	mu       sync.Mutex
	sessions map[string]*Session
	answered chan struct{}
}

func newMemoryServer() *memoryServer {
	return &memoryServer{sessions: map[string]*Session{}, answered: make(chan struct{}, 1)}
}

func (m *memoryServer) CreateSession(ctx context.Context, offer string) (string, error) {
	code, err := utils.GenerateCode(utils.CodeLength)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[code] = &Session{ID: code, Offer: offer}
	return code, nil
}

func (m *memoryServer) session(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *memoryServer) GetOffer(ctx context.Context, id string) (string, error) {
	s, err := m.session(id)
	if err != nil {
		return "", err
	}
	return s.Offer, nil
}

func (m *memoryServer) UpdateAnswer(ctx context.Context, id, answer string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.Answer = answer
	m.mu.Unlock()
	m.answered <- struct{}{}
	return nil
}

func (m *memoryServer) WaitForAnswer(ctx context.Context, id string) (string, error) {
	select {
	case <-m.answered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	s, err := m.session(id)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.Answer, nil
}

func (m *memoryServer) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func newPeer(t *testing.T) *webrtc.PeerConnection {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func TestSignallingExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	server := newMemoryServer()
	svc := NewService(server, PionNegotiator{}, slog.New(slog.DiscardHandler))

	sender := newPeer(t)
	_, err := sender.CreateDataChannel("test", nil)
	require.NoError(t, err)
	receiver := newPeer(t)

	codes := make(chan string, 1)
	senderErr := make(chan error, 1)
	go func() {
		_, err := svc.Offer(ctx, sender, func(code string) { codes <- code })
		senderErr <- err
	}()

	var code string
	select {
	case code = <-codes:
	case <-ctx.Done():
		t.Fatal("no session code published")
	}
	assert.True(t, utils.IsValidCode(code))

	require.NoError(t, svc.Answer(ctx, receiver, code))
	require.NoError(t, <-senderErr)

	require.NotNil(t, sender.RemoteDescription())
	assert.Equal(t, webrtc.SDPTypeAnswer, sender.RemoteDescription().Type)
	require.NotNil(t, receiver.RemoteDescription())
	assert.Equal(t, webrtc.SDPTypeOffer, receiver.RemoteDescription().Type)

	require.NoError(t, svc.ClearSession(ctx, code))
	_, err = server.GetOffer(ctx, code)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReceiverSignalling_UnknownSession(t *testing.T) {
	svc := NewService(newMemoryServer(), PionNegotiator{}, slog.New(slog.DiscardHandler))

	err := svc.Answer(context.Background(), newPeer(t), "AAAAAAAA")

	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReceiverSignalling_BadOffer(t *testing.T) {
	server := newMemoryServer()
	code, err := server.CreateSession(context.Background(), "not base64!")
	require.NoError(t, err)
	svc := NewService(server, PionNegotiator{}, slog.New(slog.DiscardHandler))

	err = svc.Answer(context.Background(), newPeer(t), code)

	assert.ErrorContains(t, err, "bad offer for session")
}

package signalling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"fileup/internal/config"
	"fileup/pkg/utils"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAnswerTimeout   = errors.New("timed out waiting for answer")
	ErrNoOffer         = errors.New("session has no offer")
)

// Session is the record stored per code. Offer and Answer hold complete
// encoded descriptions.
type Session struct {
	ID     string `json:"sessionId"`
	Offer  string `json:"offer"`
	Answer string `json:"answer,omitempty"`
}

// FirebaseClient is a SessionStore on the Firebase realtime database. Each
// session lives at /sessions/<code>.
type FirebaseClient struct {
	sessions      *db.Ref
	logger        *slog.Logger
	pollInterval  time.Duration
	answerTimeout time.Duration
}

func NewFirebaseClient(ctx context.Context, cfg *config.FirebaseConfig, logger *slog.Logger) (*FirebaseClient, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create Firebase app: %w", err)
	}

	database, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open realtime database %s: %w", cfg.DatabaseURL, err)
	}

	return &FirebaseClient{
		sessions:      database.NewRef("sessions"),
		logger:        logger,
		pollInterval:  cfg.PollInterval,
		answerTimeout: cfg.AnswerTimeout,
	}, nil
}

// CreateSession stores offer under a fresh code, which is also what the
// user types on the receiving side
func (f *FirebaseClient) CreateSession(ctx context.Context, offer string) (string, error) {
	code, err := utils.GenerateCode(utils.CodeLength)
	if err != nil {
		return "", err
	}

	if err := f.sessions.Child(code).Set(ctx, Session{ID: code, Offer: offer}); err != nil {
		return "", fmt.Errorf("failed to store session %s: %w", code, err)
	}
	f.logger.Debug("Session stored", "session", code)
	return code, nil
}

func (f *FirebaseClient) load(ctx context.Context, code string) (Session, error) {
	var s Session
	if err := f.sessions.Child(code).Get(ctx, &s); err != nil {
		return Session{}, fmt.Errorf("failed to read session %s: %w", code, err)
	}
	// Get leaves s empty for a missing node
	if s.ID == "" {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, code)
	}
	return s, nil
}

func (f *FirebaseClient) GetOffer(ctx context.Context, code string) (string, error) {
	s, err := f.load(ctx, code)
	if err != nil {
		return "", err
	}
	if s.Offer == "" {
		return "", fmt.Errorf("%w: %s", ErrNoOffer, code)
	}
	return s.Offer, nil
}

func (f *FirebaseClient) UpdateAnswer(ctx context.Context, code, answer string) error {
	if _, err := f.load(ctx, code); err != nil {
		return err
	}
	if err := f.sessions.Child(code).Update(ctx, map[string]any{"answer": answer}); err != nil {
		return fmt.Errorf("failed to store answer of session %s: %w", code, err)
	}
	return nil
}

// WaitForAnswer polls the session every pollInterval until it carries an
// answer. After answerTimeout the session is removed and ErrAnswerTimeout
// returned.
func (f *FirebaseClient) WaitForAnswer(ctx context.Context, code string) (string, error) {
	if _, err := f.load(ctx, code); err != nil {
		return "", err
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(f.answerTimeout)
	defer deadline.Stop()

	f.logger.Info("Waiting for the receiver", "session", code, "timeout", f.answerTimeout)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			if err := f.DeleteSession(ctx, code); err != nil {
				f.logger.Warn("Failed to remove unanswered session", "session", code, "error", err)
			}
			return "", ErrAnswerTimeout
		case <-ticker.C:
		}

		s, err := f.load(ctx, code)
		if err != nil {
			f.logger.Warn("Session poll failed", "session", code, "error", err)
			continue
		}
		if s.Answer != "" {
			return s.Answer, nil
		}
	}
}

// DeleteSession removes the session. A missing session is not an error.
func (f *FirebaseClient) DeleteSession(ctx context.Context, code string) error {
	if _, err := f.load(ctx, code); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := f.sessions.Child(code).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", code, err)
	}
	return nil
}

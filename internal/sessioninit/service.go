// Package sessioninit creates new logical sessions: it verifies the
// persistence layer, creates the conversation record and persists the
// session metadata, failing fast with a stage-specific error.
package sessioninit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/Zereker/docstore/internal/session"
)

// HealthChecker checks the cache and the durable store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) session.HealthReport
}

// ConversationCreator creates the conversation that owns a session.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, req Request) (string, error)
}

// ConversationDeleter is optionally implemented by a ConversationCreator.
// It is used to remove the conversation when the metadata write fails.
type ConversationDeleter interface {
	DeleteConversation(ctx context.Context, id string) error
}

// MetadataStore reads and writes session metadata.
type MetadataStore interface {
	Write(ctx context.Context, key string, value any) error
	Read(ctx context.Context, key string) (any, bool, error)
}

// 确保 session.Store 满足依赖接口
var (
	_ HealthChecker = (*session.Store)(nil)
	_ MetadataStore = (*session.Store)(nil)
)

// Request describes the session to create.
type Request struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Session is the metadata persisted for an initialized session.
type Session struct {
	ID        string         `json:"session_id" mapstructure:"session_id"`
	UserID    string         `json:"user_id" mapstructure:"user_id"`
	Title     string         `json:"title" mapstructure:"title"`
	CreatedAt time.Time      `json:"created_at" mapstructure:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty" mapstructure:"metadata"`
}

// MetadataKey returns the session store key of a session's metadata.
func MetadataKey(sessionID string) string {
	return "session:" + sessionID + ":metadata"
}

// Service runs session initialization.
type Service struct {
	health        HealthChecker
	conversations ConversationCreator
	sessions      MetadataStore
	logger        *slog.Logger
	onStage       func(Stage)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithStageHook calls fn on every stage transition.
func WithStageHook(fn func(Stage)) Option {
	return func(s *Service) { s.onStage = fn }
}

// NewService creates the service.
func NewService(health HealthChecker, conversations ConversationCreator, sessions MetadataStore, opts ...Option) *Service {
	s := &Service{
		health:        health,
		conversations: conversations,
		sessions:      sessions,
		logger:        slog.Default().With("module", "sessioninit"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) enter(stage Stage) {
	s.logger.Debug("session initialization stage", "stage", stage)
	if s.onStage != nil {
		s.onStage(stage)
	}
}

// Initialize runs verifying -> creating -> persisting -> done. There are no
// retries; the first failing stage aborts with its typed error.
func (s *Service) Initialize(ctx context.Context, req Request) (*Session, error) {
	s.enter(StageVerifying)
	if report := s.health.HealthCheck(ctx); !report.Healthy() {
		err := &PersistenceLayerUnavailableError{Report: report}
		s.logger.Warn("session initialization aborted", "stage", StageVerifying, "error", err)
		return nil, err
	}

	s.enter(StageCreating)
	id, err := s.conversations.CreateConversation(ctx, req)
	if err == nil && strings.TrimSpace(id) == "" {
		err = fmt.Errorf("empty conversation id")
	}
	if err != nil {
		s.logger.Warn("session initialization aborted", "stage", StageCreating, "error", err)
		return nil, &SessionCreationFailedError{Err: err}
	}

	s.enter(StagePersisting)
	sess := &Session{
		ID:        id,
		UserID:    req.UserID,
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	if err := s.sessions.Write(ctx, MetadataKey(id), sess); err != nil {
		s.cleanup(ctx, id)
		s.logger.Warn("session initialization aborted", "stage", StagePersisting, "session_id", id, "error", err)
		return nil, &SessionPersistenceFailedError{SessionID: id, Err: err}
	}

	s.enter(StageDone)
	s.logger.Info("session initialized", "session_id", id, "user_id", req.UserID)
	return sess, nil
}

// cleanup removes the conversation of a failed initialization.
func (s *Service) cleanup(ctx context.Context, id string) {
	deleter, ok := s.conversations.(ConversationDeleter)
	if !ok {
		return
	}
	if err := deleter.DeleteConversation(ctx, id); err != nil {
		s.logger.Error("failed to remove conversation", "session_id", id, "error", err)
	}
}

// Lookup returns the persisted metadata of a session.
func (s *Service) Lookup(ctx context.Context, sessionID string) (*Session, bool, error) {
	raw, ok, err := s.sessions.Read(ctx, MetadataKey(sessionID))
	if err != nil || !ok {
		return nil, false, err
	}

	var sess Session
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:     &sess,
	})
	if err != nil {
		return nil, false, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, true, nil
}

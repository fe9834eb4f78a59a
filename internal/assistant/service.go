// Package assistant answers commands on behalf of a signed-in user: it records the
// command in the user's history, resolves it and publishes the resulting turn.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/voice-assistant/internal/events"
	"github.com/ashureev/voice-assistant/internal/intent"
	"github.com/ashureev/voice-assistant/internal/store"
)

// DefaultAssistantName is used until the user names their assistant.
const DefaultAssistantName = "Assistant"

// publishQueueSize bounds the turn events waiting for the publisher.
const publishQueueSize = 256

// ErrUserNotFound is returned when the caller's account no longer exists.
var ErrUserNotFound = errors.New("user not found")

// ErrEmptyCommand is returned for blank commands.
var ErrEmptyCommand = errors.New("command is required")

// Resolver turns an utterance into an intent.
type Resolver interface {
	Resolve(ctx context.Context, utterance, assistantName, userName string) intent.Intent
}

// Publisher receives every resolved turn.
type Publisher interface {
	Publish(ctx context.Context, ev events.TurnEvent) error
}

// Request is one command from a user.
type Request struct {
	UserID    string
	SessionID string
	Source    string
	Command   string
}

// Service implements askToAssistant.
type Service struct {
	repo     store.Repository
	resolver Resolver
	pub      Publisher
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan events.TurnEvent
	done   chan struct{}
}

// NewService creates a Service. pub may be nil. When pub is set, turns are
// published by a background goroutine; call Close to flush it.
func NewService(repo store.Repository, resolver Resolver, pub Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		resolver: resolver,
		pub:      pub,
		logger:   logger.With("component", "assistant"),
		now:      time.Now,
	}
	if pub != nil {
		s.queue = make(chan events.TurnEvent, publishQueueSize)
		s.done = make(chan struct{})
		go s.publishLoop()
	}
	return s
}

// Ask appends the command to the user's history, resolves it and publishes the turn.
// Every intent variant, including error and unknown, is returned without an error;
// an error means the request itself could not be served.
func (s *Service) Ask(ctx context.Context, req Request) (intent.Intent, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return intent.Intent{}, ErrEmptyCommand
	}

	user, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return intent.Intent{}, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return intent.Intent{}, ErrUserNotFound
	}

	if err := s.repo.AppendHistory(ctx, user.ID, command); err != nil {
		return intent.Intent{}, fmt.Errorf("append history: %w", err)
	}

	assistantName := DefaultAssistantName
	if user.HasAssistant() {
		assistantName = user.AssistantName
	}

	start := s.now()
	result := s.resolver.Resolve(ctx, command, assistantName, user.Name)
	elapsed := s.now().Sub(start)

	s.logger.Info("Command resolved",
		"user_id", user.ID,
		"session_id", req.SessionID,
		"source", req.Source,
		"type", result.Type,
		"elapsed", elapsed,
	)

	if s.queue != nil {
		s.enqueue(events.TurnEvent{
			UserID:    user.ID,
			SessionID: req.SessionID,
			Source:    req.Source,
			Command:   command,
			Type:      string(result.Type),
			UserInput: result.UserInput,
			Response:  result.Response,
			LatencyMS: elapsed.Milliseconds(),
			At:        start.UTC(),
		})
	}

	return result, nil
}

// enqueue hands ev to the publish loop, dropping it when the queue is full.
func (s *Service) enqueue(ev events.TurnEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("Publish queue full, dropping turn event", "user_id", ev.UserID)
	}
}

func (s *Service) publishLoop() {
	defer close(s.done)
	for ev := range s.queue {
		if err := s.pub.Publish(context.Background(), ev); err != nil {
			s.logger.Warn("Turn event not published", "user_id", ev.UserID, "error", err)
		}
	}
}

// Close stops accepting turn events and waits until the queued ones are published.
func (s *Service) Close() {
	if s.queue == nil {
		return
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

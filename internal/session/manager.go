// Package session owns the process-wide registry of trading engines. It
// enforces per-user isolation, the concurrent session cap and lifecycle
// guarantees: unregister always waits for the engine's tick loop to exit.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hemalabs/hedgegrid/internal/config"
	"github.com/hemalabs/hedgegrid/internal/engine"
	"github.com/hemalabs/hedgegrid/internal/exchange"
	"github.com/hemalabs/hedgegrid/internal/logger"
	"github.com/hemalabs/hedgegrid/internal/monitoring"
	"github.com/hemalabs/hedgegrid/internal/state"
	"github.com/hemalabs/hedgegrid/internal/webhook"
)

var (
	ErrSessionExists   = errors.New("session already registered for user")
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("maximum concurrent sessions reached")
)

// ExchangeFactory builds the adapter for one user's credentials. Injected so
// tests can supply fakes.
type ExchangeFactory func(creds config.ExchangeCredentials) exchange.Exchange

// RegisterParams is the control-plane input for creating a session.
type RegisterParams struct {
	UserID        string
	UserBotID     string
	Credentials   config.ExchangeCredentials
	Settings      config.SessionSettings
	WebhookURL    string
	WebhookSecret string
}

type session struct {
	userID    string
	userBotID string
	settings  config.SessionSettings
	engine    *engine.Engine
	emitter   *webhook.Emitter // nil when no webhook is configured
	createdAt time.Time
	stoppedAt time.Time // first observation of a terminal status
}

// Info is a session summary for the control API.
type Info struct {
	UserID    string        `json:"userId"`
	UserBotID string        `json:"userBotId"`
	Symbol    string        `json:"symbol"`
	Status    engine.Status `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	TickCount int64         `json:"tickCount"`
}

// Manager is the registry of live sessions, keyed by user id.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*session
	maxSessions int
	newExchange ExchangeFactory
	store       *state.Store
	metrics     *monitoring.Metrics
	logger      zerolog.Logger
}

// NewManager creates an empty registry. Store and metrics are optional.
func NewManager(maxSessions int, factory ExchangeFactory, store *state.Store, metrics *monitoring.Metrics, log zerolog.Logger) *Manager {
	return &Manager{
		sessions:    make(map[string]*session),
		maxSessions: maxSessions,
		newExchange: factory,
		store:       store,
		metrics:     metrics,
		logger:      log.With().Str("component", "session_manager").Logger(),
	}
}

// Register validates the request and creates an idle engine for the user.
func (m *Manager) Register(p RegisterParams) error {
	if p.UserID == "" {
		return errors.New("user id is required")
	}
	if err := p.Credentials.Validate(); err != nil {
		return err
	}
	if err := p.Settings.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[p.UserID]; exists {
		return fmt.Errorf("%w: %s", ErrSessionExists, p.UserID)
	}
	if len(m.sessions) >= m.maxSessions {
		return fmt.Errorf("%w (%d)", ErrTooManySessions, m.maxSessions)
	}

	log := logger.ForSession(m.logger, p.UserID, p.Settings.Symbol)

	var sink webhook.Sink = webhook.NoopSink{}
	var emitter *webhook.Emitter
	if p.WebhookURL != "" {
		var opts []webhook.Option
		if m.metrics != nil {
			opts = append(opts, webhook.WithResultHook(func(result string) {
				m.metrics.WebhookEvents.WithLabelValues(result).Inc()
			}))
		}
		emitter = webhook.NewEmitter(p.WebhookURL, p.WebhookSecret, log, opts...)
		sink = emitter
	}

	eng := engine.New(engine.Params{
		UserID:    p.UserID,
		UserBotID: p.UserBotID,
		Settings:  p.Settings,
		Exchange:  m.newExchange(p.Credentials),
		Sink:      sink,
		Store:     m.store,
		Metrics:   m.metrics,
		Logger:    log,
	})

	m.sessions[p.UserID] = &session{
		userID:    p.UserID,
		userBotID: p.UserBotID,
		settings:  p.Settings,
		engine:    eng,
		emitter:   emitter,
		createdAt: time.Now().UTC(),
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	log.Info().Msg("session registered")
	log.Debug().Msg("session settings\n" + p.Settings.Summary())
	return nil
}

func (m *Manager) get(userID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, userID)
	}
	return s, nil
}

// Start launches a registered session's tick loop.
func (m *Manager) Start(ctx context.Context, userID string) error {
	s, err := m.get(userID)
	if err != nil {
		return err
	}
	return s.engine.Start(ctx)
}

// Stop requests a cooperative stop. Idempotent; stopping a session twice is
// a no-op.
func (m *Manager) Stop(userID string) error {
	s, err := m.get(userID)
	if err != nil {
		return err
	}
	s.engine.Stop()
	return nil
}

// Status returns a session summary.
func (m *Manager) Status(userID string) (Info, error) {
	s, err := m.get(userID)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

func (s *session) info() Info {
	return Info{
		UserID:    s.userID,
		UserBotID: s.userBotID,
		Symbol:    s.settings.Symbol,
		Status:    s.engine.Status(),
		CreatedAt: s.createdAt,
		TickCount: s.engine.TickCount(),
	}
}

// Unregister stops a session, waits for its tick loop to exit, closes its
// webhook emitter and removes it. Idempotent: unknown users return nil.
func (m *Manager) Unregister(ctx context.Context, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, userID)
	m.mu.Unlock()

	s.engine.Stop()
	if s.engine.Status() != engine.StatusIdle {
		select {
		case <-s.engine.Done():
		case <-ctx.Done():
			m.logger.Error().Str("user", userID).Msg("engine missed its stop deadline, force terminating")
			s.engine.ForceTerminate()
			<-s.engine.Done()
		}
	}
	if s.emitter != nil {
		s.emitter.Close()
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
	}
	m.logger.Info().Str("user", userID).Msg("session unregistered")
	return nil
}

// ListAll returns summaries for every registered session.
func (m *Manager) ListAll() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// Usage reports current and maximum session counts.
func (m *Manager) Usage() (current, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), m.maxSessions
}

// ForceClosePositions closes all of a session's positions immediately.
func (m *Manager) ForceClosePositions(ctx context.Context, userID string) error {
	s, err := m.get(userID)
	if err != nil {
		return err
	}
	return s.engine.ForceClosePositions(ctx)
}

// Shutdown stops every session in parallel and waits up to the context
// deadline. Sessions still running past the deadline are force terminated
// and end in ERROR.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			s.engine.Stop()
			if s.engine.Status() == engine.StatusIdle {
				return
			}
			select {
			case <-s.engine.Done():
			case <-ctx.Done():
				m.logger.Error().Str("user", s.userID).Msg("session missed shutdown deadline, force terminating")
				s.engine.ForceTerminate()
				<-s.engine.Done()
			}
			if s.emitter != nil {
				s.emitter.Close()
			}
		}(s)
	}
	wg.Wait()
	m.logger.Info().Int("sessions", len(all)).Msg("shutdown complete")
}

// CleanupStopped unregisters sessions that have sat in a terminal status for
// longer than age. Returns how many were removed.
func (m *Manager) CleanupStopped(ctx context.Context, age time.Duration) int {
	now := time.Now().UTC()

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		status := s.engine.Status()
		if status != engine.StatusStopped && status != engine.StatusError {
			s.stoppedAt = time.Time{}
			continue
		}
		if s.stoppedAt.IsZero() {
			s.stoppedAt = now
			continue
		}
		if now.Sub(s.stoppedAt) >= age {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.Unregister(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("user", id).Msg("cleanup unregister failed")
		}
	}
	return len(expired)
}

package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/roundup-invest/receipt-review/config"
	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/internal/auth"
	"github.com/roundup-invest/receipt-review/internal/workflow"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/pkg/receiptapi"
	"github.com/roundup-invest/receipt-review/types"
	"go.uber.org/zap"
)

// Session is one user's review workflow held by the server.
type Session struct {
	ID          string
	Workflow    *workflow.Workflow
	Credentials *auth.SessionProvider
	CreatedAt   time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns the time of the last request on the session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// WorkflowFactory builds the workflow of a new session. credentials always
// hold the bearer token of the latest request on that session.
type WorkflowFactory func(sessionID string, credentials auth.CredentialProvider) *workflow.Workflow

// NewWorkflowFactory returns the production factory: a receipt API client per
// session, the shared ticker cache and the queued learning submitter.
func NewWorkflowFactory(cfg *config.Config, search *TickerSearchService, learning *LearningService) WorkflowFactory {
	log := logger.GetLogger().Named("sessions")
	return func(sessionID string, credentials auth.CredentialProvider) *workflow.Workflow {
		client := receiptapi.NewClient(cfg.Backend.BaseURL, credentials, receiptapi.WithTimeout(cfg.Backend.Timeout()))
		opts := workflow.Options{
			Client:         client,
			SearchBackend:  client,
			MaxUploadBytes: cfg.Workflow.MaxUploadBytes,
			Search:         workflow.SearchOptionsFromConfig(cfg.Workflow),
			OnTransactionProcessed: func(result types.TransactionResult) {
				log.Infow("Transaction processed", "sessionId", sessionID, "transactionId", result.TransactionID, "receiptId", result.Receipt.ID)
			},
		}
		if search != nil {
			opts.SearchBackend = search.Backend(client)
		}
		if learning != nil {
			opts.Learning = learning.For(client)
		}
		return workflow.New(opts)
	}
}

type sessionMetrics struct {
	active  prometheus.Gauge
	expired prometheus.Counter
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	ssMetricsInstance *sessionMetrics
	ssMetricsOnce     sync.Once
	ssDefaultRegistry = prometheus.DefaultRegisterer
)

func newSessionMetrics() *sessionMetrics {
	ssMetricsOnce.Do(func() {
		ssMetricsInstance = &sessionMetrics{
			active: promauto.With(ssDefaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "receipt_sessions_active",
				Help: "Open review sessions",
			}),
			expired: promauto.With(ssDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "receipt_sessions_expired_total",
				Help: "Sessions closed after being idle past their TTL",
			}),
		}
	})
	return ssMetricsInstance
}

func resetSessionMetricsForTesting() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	ssDefaultRegistry = reg
	ssMetricsInstance = nil
	ssMetricsOnce = sync.Once{}
	return reg
}

// SessionService owns the open review sessions and expires idle ones.
type SessionService struct {
	cfg     config.SessionConfig
	factory WorkflowFactory
	log     *zap.SugaredLogger
	metrics *sessionMetrics
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewSessionService(cfg config.SessionConfig, factory WorkflowFactory) *SessionService {
	return &SessionService{
		cfg:      cfg,
		factory:  factory,
		log:      logger.GetLogger().Named("sessions"),
		metrics:  newSessionMetrics(),
		now:      time.Now,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Create opens a session for the holder of token.
func (s *SessionService) Create(token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		return nil, errors.NewError(errors.ConflictError, "session_limit", "Too many open review sessions", http.StatusServiceUnavailable)
	}

	id := uuid.NewString()
	creds := auth.NewSessionProvider(token)
	now := s.now()
	session := &Session{
		ID:          id,
		Workflow:    s.factory(id, creds),
		Credentials: creds,
		CreatedAt:   now,
		lastSeen:    now,
	}
	s.sessions[id] = session
	s.metrics.active.Set(float64(len(s.sessions)))
	s.log.Infow("Session created", "sessionId", id)
	return session, nil
}

// Get returns the session and records activity on it. A non-empty token
// replaces the session's credentials.
func (s *SessionService) Get(id, token string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("Session", id)
	}
	session.touch(s.now())
	if token != "" {
		session.Credentials.Set(token)
	}
	return session, nil
}

// Delete closes the session and its workflow.
func (s *SessionService) Delete(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		s.metrics.active.Set(float64(len(s.sessions)))
	}
	s.mu.Unlock()
	if !ok {
		return errors.NotFound("Session", id)
	}
	session.Workflow.Close()
	s.log.Infow("Session closed", "sessionId", id)
	return nil
}

// Count returns the number of open sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Capacity returns the configured session limit, 0 when unlimited.
func (s *SessionService) Capacity() int {
	return s.cfg.MaxSessions
}

// Start runs the expiry janitor until ctx is done or Stop is called.
func (s *SessionService) Start(ctx context.Context) {
	interval := s.cfg.JanitorInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.expire()
			}
		}
	}()
}

// Stop halts the janitor and closes every session.
func (s *SessionService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.metrics.active.Set(0)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Workflow.Close()
	}
}

// expire closes sessions idle for longer than the TTL.
func (s *SessionService) expire() int {
	ttl := s.cfg.TTL()
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	var stale []*Session
	s.mu.Lock()
	for id, session := range s.sessions {
		if session.LastSeen().Before(cutoff) {
			stale = append(stale, session)
			delete(s.sessions, id)
		}
	}
	s.metrics.active.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	for _, session := range stale {
		session.Workflow.Close()
		s.metrics.expired.Inc()
		s.log.Infow("Session expired", "sessionId", session.ID, "lastSeen", session.LastSeen())
	}
	return len(stale)
}

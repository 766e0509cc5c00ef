// Package session implements the session and question state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

var _ interfaces.SessionManager = (*Manager)(nil)

const maxCodeAttempts = 8

// Store is the persistence the manager needs.
type Store interface {
	interfaces.SessionStore
	interfaces.QuestionBank
}

type Options struct {
	// AllowConcurrent permits more than one active session at a time.
	AllowConcurrent bool
	// DefaultModel is used when a session is created without a model.
	DefaultModel string
}

// Manager serializes every transition of a session behind that session's
// mutex and publishes exactly one event per successful transition, after
// the commit. Reads never take the per-session mutex.
type Manager struct {
	store     Store
	publisher interfaces.Publisher
	opts      Options

	createMu sync.Mutex

	locksMu sync.Mutex
	locks   map[int64]*sessionLock

	activeSessions map[int64]*types.Session
	mu             sync.RWMutex

	now     func() time.Time
	newCode func() string
}

// NewManager creates a manager. publisher may be nil, in which case no
// events are emitted.
func NewManager(store Store, publisher interfaces.Publisher, opts Options) *Manager {
	if opts.DefaultModel == "" {
		opts.DefaultModel = types.DefaultAIModel
	}
	return &Manager{
		store:          store,
		publisher:      publisher,
		opts:           opts,
		locks:          make(map[int64]*sessionLock),
		activeSessions: make(map[int64]*types.Session),
		now:            time.Now,
		newCode:        newJoinCode,
	}
}

// LoadActiveSessions loads all active sessions from the database into memory.
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range sessions {
		m.activeSessions[s.ID] = s
	}

	log.Printf("Loaded %d active sessions", len(sessions))
	return nil
}

// sessionLock is dropped from the map once nobody holds or awaits it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (m *Manager) lockSession(sessionID int64) func() {
	m.locksMu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.locksMu.Unlock()
	}
}

func (m *Manager) publish(event types.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(event); err != nil {
		log.Printf("Failed to publish event: kind=%s session=%d err=%v", event.Kind(), event.Session(), err)
	}
}

// CreateSession opens a new session with a fresh join code. Unless
// concurrent sessions are allowed, it fails while another session is active.
func (m *Manager) CreateSession(ctx context.Context, aiModel string) (*types.Session, error) {
	aiModel = strings.TrimSpace(aiModel)
	if aiModel == "" {
		aiModel = m.opts.DefaultModel
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	if !m.opts.AllowConcurrent {
		active, err := m.store.ListActiveSessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to check active sessions: %w", err)
		}
		if len(active) > 0 {
			return nil, fmt.Errorf("%w: session %d", ErrActiveSessionExists, active[0].ID)
		}
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		s := &types.Session{
			Code:      m.newCode(),
			AIModel:   aiModel,
			Status:    types.SessionStatusActive,
			CreatedAt: m.now(),
		}
		err := m.store.CreateSession(ctx, s)
		if errors.Is(err, interfaces.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		m.mu.Lock()
		m.activeSessions[s.ID] = s
		m.mu.Unlock()

		log.Printf("Created session: id=%d code=%s model=%s", s.ID, s.Code, s.AIModel)
		return copySession(s), nil
	}
	return nil, ErrCodeExhausted
}

func copySession(s *types.Session) *types.Session {
	c := *s
	return &c
}

// GetSession checks the active cache first and falls back to the store.
func (m *Manager) GetSession(ctx context.Context, sessionID int64) (*types.Session, error) {
	m.mu.RLock()
	if s, ok := m.activeSessions[sessionID]; ok {
		m.mu.RUnlock()
		return copySession(s), nil
	}
	m.mu.RUnlock()

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

func (m *Manager) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	code = types.NormalizeCode(code)
	if !types.IsValidCode(code) {
		return nil, ErrSessionNotFound
	}
	s, err := m.store.GetSessionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

func (m *Manager) ListSessions(ctx context.Context) ([]*types.Session, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	return sessions, nil
}

// GetSessionQuestion returns one launched question, open or closed.
func (m *Manager) GetSessionQuestion(ctx context.Context, sessionQuestionID int64) (*types.SessionQuestion, error) {
	return m.store.GetSessionQuestion(ctx, sessionQuestionID)
}

// requireActive must be called with the session lock held.
func (m *Manager) requireActive(ctx context.Context, sessionID int64) error {
	s, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.IsActive() {
		return ErrSessionClosed
	}
	return nil
}

// LaunchQuestion snapshots a template into a new open question. Questions
// that are already open stay open.
func (m *Manager) LaunchQuestion(ctx context.Context, sessionID, templateID int64) (*types.SessionQuestion, error) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	if err := m.requireActive(ctx, sessionID); err != nil {
		return nil, err
	}

	tpl, err := m.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	q := m.snapshot(sessionID, tpl, m.now())
	if err := m.store.InsertSessionQuestions(ctx, []*types.SessionQuestion{q}); err != nil {
		return nil, fmt.Errorf("failed to launch question: %w", err)
	}

	log.Printf("Launched question: session=%d question=%d template=%d", sessionID, q.ID, templateID)
	m.publish(types.QuestionLaunched{SessionID: sessionID, SessionQuestionIDs: []int64{q.ID}})
	return q, nil
}

// LaunchCollection launches every template of a collection at once and
// announces them in a single event.
func (m *Manager) LaunchCollection(ctx context.Context, sessionID, collectionID int64) ([]*types.SessionQuestion, error) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	if err := m.requireActive(ctx, sessionID); err != nil {
		return nil, err
	}

	members, err := m.store.CollectionMembers(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: collection %d", ErrEmptyCollection, collectionID)
	}

	at := m.now()
	questions := make([]*types.SessionQuestion, 0, len(members))
	for _, templateID := range members {
		tpl, err := m.store.GetTemplate(ctx, templateID)
		if err != nil {
			return nil, err
		}
		questions = append(questions, m.snapshot(sessionID, tpl, at))
	}

	if err := m.store.InsertSessionQuestions(ctx, questions); err != nil {
		return nil, fmt.Errorf("failed to launch collection: %w", err)
	}

	ids := make([]int64, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}

	log.Printf("Launched collection: session=%d collection=%d questions=%d", sessionID, collectionID, len(ids))
	m.publish(types.QuestionLaunched{SessionID: sessionID, SessionQuestionIDs: ids})
	return questions, nil
}

func (m *Manager) snapshot(sessionID int64, tpl *types.QuestionTemplate, at time.Time) *types.SessionQuestion {
	return &types.SessionQuestion{
		SessionID:       sessionID,
		TemplateID:      tpl.ID,
		Text:            tpl.Text,
		GradingCriteria: tpl.GradingCriteria,
		Status:          types.QuestionStatusOpen,
		LaunchedAt:      at,
	}
}

// CloseQuestion closes one open question. Closing an already closed
// question fails and leaves it unchanged.
func (m *Manager) CloseQuestion(ctx context.Context, sessionQuestionID int64) (*types.SessionQuestion, error) {
	q, err := m.store.GetSessionQuestion(ctx, sessionQuestionID)
	if err != nil {
		return nil, err
	}

	unlock := m.lockSession(q.SessionID)
	defer unlock()

	if err := m.store.CloseSessionQuestion(ctx, sessionQuestionID, m.now()); err != nil {
		if errors.Is(err, interfaces.ErrInvalidState) {
			return nil, ErrQuestionClosed
		}
		return nil, err
	}

	closed, err := m.store.GetSessionQuestion(ctx, sessionQuestionID)
	if err != nil {
		return nil, err
	}

	log.Printf("Closed question: session=%d question=%d", q.SessionID, sessionQuestionID)
	m.publish(types.QuestionClosed{SessionID: q.SessionID, SessionQuestionID: sessionQuestionID})
	return closed, nil
}

// CloseAllOpenQuestions closes every open question of a session in one
// transaction. With nothing open it returns an empty slice and emits nothing.
func (m *Manager) CloseAllOpenQuestions(ctx context.Context, sessionID int64) ([]int64, error) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	ids, err := m.store.CloseOpenQuestions(ctx, sessionID, m.now())
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []int64{}, nil
	}

	log.Printf("Closed all open questions: session=%d count=%d", sessionID, len(ids))
	m.publish(types.QuestionsClosedAll{SessionID: sessionID, SessionQuestionIDs: ids})
	return ids, nil
}

// EndSession closes the session and all of its open questions together.
func (m *Manager) EndSession(ctx context.Context, sessionID int64) error {
	unlock := m.lockSession(sessionID)
	defer unlock()

	closedQuestions, err := m.store.CloseSession(ctx, sessionID, m.now())
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			return ErrSessionNotFound
		case errors.Is(err, interfaces.ErrInvalidState):
			return ErrSessionClosed
		}
		return fmt.Errorf("failed to end session: %w", err)
	}

	m.mu.Lock()
	delete(m.activeSessions, sessionID)
	m.mu.Unlock()

	log.Printf("Ended session: id=%d closed_questions=%d", sessionID, len(closedQuestions))
	m.publish(types.SessionEnded{SessionID: sessionID})
	return nil
}

// ActiveQuestionsFor lists the open questions of an active session, oldest
// first. A closed session reads as not found, which tells a polling student
// to leave.
func (m *Manager) ActiveQuestionsFor(ctx context.Context, sessionID int64) ([]*types.SessionQuestion, error) {
	s, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsActive() {
		return nil, ErrSessionEnded
	}

	questions, err := m.store.ListSessionQuestions(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []*types.SessionQuestion{}
	}
	return questions, nil
}

// WithOpenQuestion runs fn while holding the question's session lock, and
// only if the question is still open at that moment. No close can
// interleave with fn.
func (m *Manager) WithOpenQuestion(ctx context.Context, sessionQuestionID int64, fn func(*types.SessionQuestion) error) error {
	q, err := m.store.GetSessionQuestion(ctx, sessionQuestionID)
	if err != nil {
		return err
	}

	unlock := m.lockSession(q.SessionID)
	defer unlock()

	q, err = m.store.GetSessionQuestion(ctx, sessionQuestionID)
	if err != nil {
		return err
	}
	if !q.IsOpen() {
		return ErrQuestionClosed
	}
	return fn(q)
}

// ValidateJoin reports whether a session accepts new connections.
func (m *Manager) ValidateJoin(ctx context.Context, sessionID int64) error {
	s, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.IsActive() {
		return ErrSessionClosed
	}
	return nil
}

func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"active_sessions": len(m.activeSessions),
	}
}

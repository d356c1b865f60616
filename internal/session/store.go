// Package session owns live browser sessions: per-session HTTP+WebSocket
// servers, insertion-ordered question queues, and the blocking consumers
// that wait for answers.
//
// The store keeps two waiter registries, one keyed by question id (fan-out
// to every GetAnswer caller) and one keyed by session id (FIFO handoff to
// GetNextAnswer callers). Waiters are registered while the store mutex is
// held, so a response processed after registration can never be missed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/common/constants"
	"github.com/ideate/ideate/internal/common/identifier"
	"github.com/ideate/ideate/internal/common/logger"
	"github.com/ideate/ideate/internal/events"
	"github.com/ideate/ideate/internal/events/bus"
	"github.com/ideate/ideate/internal/waiter"
	apiv1 "github.com/ideate/ideate/pkg/api/v1"
	ws "github.com/ideate/ideate/pkg/websocket"
)

var (
	// ErrSessionNotFound is returned when an operation names an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBrowserOpenFailed is returned when the platform browser could not be
	// launched; session creation is rolled back before it is returned.
	ErrBrowserOpenFailed = errors.New("failed to open browser")
)

// Opener launches the platform browser at a URL.
type Opener interface {
	Open(url string) error
}

// Config controls how the store binds session servers and whether it
// launches a browser for them.
type Config struct {
	// Host is the bind address for session servers. Empty means 127.0.0.1.
	Host string

	// Port pins the first session server port. Zero picks an ephemeral
	// port; a pinned port that is already taken also falls back to an
	// ephemeral one.
	Port int

	// SkipBrowser disables browser launching entirely.
	SkipBrowser bool

	// HeaderTimeout bounds header reads on session servers. Zero means no
	// limit. It never applies past the WebSocket upgrade.
	HeaderTimeout time.Duration

	// UI is the HTML bundle served at GET / of every session server.
	UI []byte
}

// answerDelivery is the payload handed to question-scoped waiters.
type answerDelivery struct {
	cancelled bool
	response  map[string]interface{}
}

// Store manages every live session in the process.
type Store struct {
	mu sync.Mutex

	cfg    Config
	opener Opener
	bus    bus.EventBus
	logger *logger.Logger

	sessions      map[string]*Session
	questionIndex map[string]string // question id -> session id

	questionWaiters *waiter.Registry
	sessionWaiters  *waiter.Registry
}

// NewStore creates a session store. The opener may be nil when browser
// launching is disabled; the event bus may be nil to skip publishing.
func NewStore(cfg Config, opener Opener, eventBus bus.EventBus, log *logger.Logger) *Store {
	return &Store{
		cfg:             cfg,
		opener:          opener,
		bus:             eventBus,
		logger:          log.WithFields(zap.String("component", "session-store")),
		sessions:        make(map[string]*Session),
		questionIndex:   make(map[string]string),
		questionWaiters: waiter.NewRegistry(),
		sessionWaiters:  waiter.NewRegistry(),
	}
}

// StartSession binds a server, registers the session with any seed questions
// inserted pending in order, and launches the browser at its URL. A browser
// launch failure rolls the whole thing back and returns ErrBrowserOpenFailed.
func (s *Store) StartSession(ctx context.Context, title string, seeds []apiv1.SeedQuestion) (*apiv1.StartSessionResult, error) {
	id := identifier.NewSessionID()

	srv, err := newServer(s, id, s.cfg, s.logger)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        id,
		Title:     title,
		Port:      srv.Port(),
		URL:       srv.URL(),
		CreatedAt: time.Now().UTC(),
		questions: make(map[string]*Question),
		server:    srv,
	}

	questionIDs := make([]string, 0, len(seeds))
	s.mu.Lock()
	s.sessions[id] = sess
	for _, seed := range seeds {
		q := s.insertQuestionLocked(sess, seed.Type, seed.Config)
		questionIDs = append(questionIDs, q.ID)
	}
	s.mu.Unlock()

	// Serve before launching so the browser finds the page on first load.
	srv.Start()

	if !s.cfg.SkipBrowser && s.opener != nil {
		if err := s.opener.Open(sess.URL); err != nil {
			s.mu.Lock()
			for _, qid := range questionIDs {
				delete(s.questionIndex, qid)
			}
			delete(s.sessions, id)
			s.mu.Unlock()
			srv.Stop()
			s.logger.WithSessionID(id).WithError(err).Error("Failed to open browser")
			return nil, fmt.Errorf("%w: %v", ErrBrowserOpenFailed, err)
		}
	}

	s.logger.WithSessionID(id).Info("Session started",
		zap.String("url", sess.URL),
		zap.Int("seed_questions", len(questionIDs)))
	s.publishEvent(ctx, events.BuildSessionSubject(events.SessionStarted, id), events.SessionStarted, map[string]interface{}{
		"session_id":     id,
		"title":          title,
		"url":            sess.URL,
		"question_count": len(questionIDs),
	})

	return &apiv1.StartSessionResult{SessionID: id, URL: sess.URL, QuestionIDs: questionIDs}, nil
}

// EndSession tears a session down: the browser gets an end frame, the server
// stops, and every question of the session is unlinked along with its
// waiters. Returns false when the session is unknown. Individual questions
// keep their status; blocked consumers run into their timeouts.
func (s *Store) EndSession(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	var cl *client
	if sess.wsConnected {
		cl = sess.wsClient
	}
	for _, qid := range sess.questionOrder {
		delete(s.questionIndex, qid)
		s.questionWaiters.Clear(qid)
	}
	s.sessionWaiters.Clear(sessionID)
	delete(s.sessions, sessionID)
	srv := sess.server
	s.mu.Unlock()

	if cl != nil {
		cl.sendFrame(ws.NewEndFrame())
		cl.close()
	}
	if srv != nil {
		srv.Stop()
	}

	s.logger.WithSessionID(sessionID).Info("Session ended")
	s.publishEvent(ctx, events.BuildSessionSubject(events.SessionEnded, sessionID), events.SessionEnded, map[string]interface{}{
		"session_id": sessionID,
	})
	return true
}

// PushQuestion inserts a pending question and delivers it to the attached
// client. Without a client the browser is reopened best-effort so the
// question is picked up through the connect replay.
func (s *Store) PushQuestion(ctx context.Context, sessionID string, qtype apiv1.QuestionType, config map[string]interface{}) (string, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	q := s.insertQuestionLocked(sess, qtype, config)
	var cl *client
	if sess.wsConnected {
		cl = sess.wsClient
	}
	url := sess.URL
	s.mu.Unlock()

	if cl != nil {
		cl.sendFrame(ws.NewQuestionFrame(q.ID, string(qtype), config))
	} else if !s.cfg.SkipBrowser && s.opener != nil {
		go func() {
			if err := s.opener.Open(url); err != nil {
				s.logger.WithSessionID(sessionID).WithError(err).Debug("Browser reopen failed")
			}
		}()
	}

	s.logger.WithSessionID(sessionID).WithQuestionID(q.ID).Debug("Question pushed",
		zap.String("type", string(qtype)))
	s.publishEvent(ctx, events.BuildQuestionSubject(events.QuestionPushed, q.ID), events.QuestionPushed, map[string]interface{}{
		"question_id": q.ID,
		"session_id":  sessionID,
		"type":        string(qtype),
	})
	return q.ID, nil
}

// GetAnswer reports the state of one question, optionally blocking until it
// is answered, cancelled, or the timeout elapses. A missing question reports
// cancelled. Every concurrent blocking caller receives the answer.
func (s *Store) GetAnswer(ctx context.Context, req apiv1.GetAnswerRequest) (*apiv1.GetAnswerResult, error) {
	s.mu.Lock()
	q := s.lookupQuestionLocked(req.QuestionID)
	if q == nil {
		s.mu.Unlock()
		return &apiv1.GetAnswerResult{
			Completed: false,
			Status:    apiv1.QuestionStatusCancelled,
			Reason:    string(apiv1.QuestionStatusCancelled),
		}, nil
	}
	switch q.Status {
	case apiv1.QuestionStatusAnswered:
		resp := q.Response
		s.mu.Unlock()
		return &apiv1.GetAnswerResult{
			Completed: true,
			Status:    apiv1.QuestionStatusAnswered,
			Response:  resp,
		}, nil
	case apiv1.QuestionStatusCancelled, apiv1.QuestionStatusTimeout:
		status := q.Status
		s.mu.Unlock()
		return &apiv1.GetAnswerResult{
			Completed: false,
			Status:    status,
			Reason:    string(status),
		}, nil
	}
	if !req.Block {
		s.mu.Unlock()
		return &apiv1.GetAnswerResult{
			Completed: false,
			Status:    apiv1.QuestionStatusPending,
			Reason:    string(apiv1.QuestionStatusPending),
		}, nil
	}

	// Register under the store lock: a response being processed right now
	// will either see the question still pending (and fire this waiter) or
	// we would have observed it answered above.
	ch := make(chan answerDelivery, 1)
	cancel := s.questionWaiters.Register(req.QuestionID, func(payload interface{}) {
		if d, ok := payload.(answerDelivery); ok {
			select {
			case ch <- d:
			default:
			}
		}
	})
	s.mu.Unlock()

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = constants.AnswerWaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		return answerResult(d), nil

	case <-timer.C:
		cancel()
		// A delivery may have raced the expiry; it wins.
		select {
		case d := <-ch:
			return answerResult(d), nil
		default:
		}
		s.mu.Lock()
		if q := s.lookupQuestionLocked(req.QuestionID); q != nil && q.Status == apiv1.QuestionStatusPending {
			q.Status = apiv1.QuestionStatusTimeout
		}
		s.mu.Unlock()
		return &apiv1.GetAnswerResult{
			Completed: false,
			Status:    apiv1.QuestionStatusTimeout,
			Reason:    string(apiv1.QuestionStatusTimeout),
		}, nil

	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

func answerResult(d answerDelivery) *apiv1.GetAnswerResult {
	if d.cancelled {
		return &apiv1.GetAnswerResult{
			Completed: false,
			Status:    apiv1.QuestionStatusCancelled,
			Reason:    string(apiv1.QuestionStatusCancelled),
		}
	}
	return &apiv1.GetAnswerResult{
		Completed: true,
		Status:    apiv1.QuestionStatusAnswered,
		Response:  d.response,
	}
}

// GetNextAnswer hands out the next unretrieved answer of a session in
// insertion order, optionally blocking for one to arrive. Concurrent
// blocking callers receive distinct answers in arrival order. With no
// answered and no pending questions (or an unknown session) it reports
// none_pending.
func (s *Store) GetNextAnswer(ctx context.Context, req apiv1.GetNextAnswerRequest) (*apiv1.NextAnswerResult, error) {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = constants.AnswerWaitTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		s.mu.Lock()
		sess, ok := s.sessions[req.SessionID]
		if !ok {
			s.mu.Unlock()
			return &apiv1.NextAnswerResult{Completed: false, Status: apiv1.NextAnswerStatusNonePending}, nil
		}
		if q := sess.nextUnretrievedLocked(); q != nil {
			q.Retrieved = true
			res := &apiv1.NextAnswerResult{
				Completed:    true,
				QuestionID:   q.ID,
				QuestionType: q.Type,
				Status:       apiv1.NextAnswerStatusAnswered,
				Response:     q.Response,
			}
			s.mu.Unlock()
			return res, nil
		}
		if !sess.hasPendingLocked() {
			s.mu.Unlock()
			return &apiv1.NextAnswerResult{Completed: false, Status: apiv1.NextAnswerStatusNonePending}, nil
		}
		if !req.Block {
			s.mu.Unlock()
			return &apiv1.NextAnswerResult{Completed: false, Status: apiv1.NextAnswerStatusPending}, nil
		}

		ch := make(chan string, 1)
		cancel := s.sessionWaiters.Register(req.SessionID, func(payload interface{}) {
			if qid, ok := payload.(string); ok {
				select {
				case ch <- qid:
				default:
				}
			}
		})
		s.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			cancel()
			return &apiv1.NextAnswerResult{Completed: false, Status: apiv1.NextAnswerStatusTimeout}, nil
		}
		timer := time.NewTimer(remaining)

		select {
		case qid := <-ch:
			timer.Stop()
			if res := s.consumeAnswered(qid); res != nil {
				return res, nil
			}
			// The delivered question disappeared under us; rescan.
			continue

		case <-timer.C:
			cancel()
			select {
			case qid := <-ch:
				if res := s.consumeAnswered(qid); res != nil {
					return res, nil
				}
			default:
			}
			return &apiv1.NextAnswerResult{Completed: false, Status: apiv1.NextAnswerStatusTimeout}, nil

		case <-ctx.Done():
			timer.Stop()
			cancel()
			return nil, ctx.Err()
		}
	}
}

// consumeAnswered marks the question retrieved and builds its result, or
// returns nil when it is no longer an unretrieved answer (for example after
// its session ended).
func (s *Store) consumeAnswered(questionID string) *apiv1.NextAnswerResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.lookupQuestionLocked(questionID)
	if q == nil || q.Status != apiv1.QuestionStatusAnswered || q.Retrieved {
		return nil
	}
	q.Retrieved = true
	return &apiv1.NextAnswerResult{
		Completed:    true,
		QuestionID:   q.ID,
		QuestionType: q.Type,
		Status:       apiv1.NextAnswerStatusAnswered,
		Response:     q.Response,
	}
}

// CancelQuestion moves a pending question to cancelled, withdraws it from
// the browser, and resolves every blocked GetAnswer caller. Returns false
// when the question is unknown or not pending.
func (s *Store) CancelQuestion(ctx context.Context, questionID string) bool {
	s.mu.Lock()
	q := s.lookupQuestionLocked(questionID)
	if q == nil || q.Status != apiv1.QuestionStatusPending {
		s.mu.Unlock()
		return false
	}
	q.Status = apiv1.QuestionStatusCancelled
	sessionID := q.SessionID
	var cl *client
	if sess := s.sessions[sessionID]; sess != nil && sess.wsConnected {
		cl = sess.wsClient
	}
	s.mu.Unlock()

	if cl != nil {
		cl.sendFrame(ws.NewCancelFrame(questionID))
	}
	s.questionWaiters.NotifyAll(questionID, answerDelivery{cancelled: true})

	s.logger.WithSessionID(sessionID).WithQuestionID(questionID).Debug("Question cancelled")
	s.publishEvent(ctx, events.BuildQuestionSubject(events.QuestionCancelled, questionID), events.QuestionCancelled, map[string]interface{}{
		"question_id": questionID,
		"session_id":  sessionID,
	})
	return true
}

// ListQuestions projects questions across all sessions (or one, when
// sessionID is non-empty) sorted by creation time, newest first.
func (s *Store) ListQuestions(sessionID string) []apiv1.QuestionSummary {
	s.mu.Lock()
	summaries := make([]apiv1.QuestionSummary, 0)
	for _, sess := range s.sessions {
		if sessionID != "" && sess.ID != sessionID {
			continue
		}
		for _, qid := range sess.questionOrder {
			q := sess.questions[qid]
			summaries = append(summaries, apiv1.QuestionSummary{
				ID:         q.ID,
				Type:       q.Type,
				Status:     q.Status,
				CreatedAt:  q.CreatedAt,
				AnsweredAt: q.AnsweredAt,
			})
		}
	}
	s.mu.Unlock()

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries
}

// Shutdown ends every live session. Used at process teardown.
func (s *Store) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.EndSession(ctx, id)
	}
}

// handleResponse records a browser answer and wakes the waiters: every
// question-scoped waiter receives the answer, the oldest session-scoped
// waiter receives the question id. Responses for unknown or non-pending
// questions are ignored.
func (s *Store) handleResponse(sessionID, questionID string, answer map[string]interface{}) {
	s.mu.Lock()
	q := s.lookupQuestionLocked(questionID)
	if q == nil || q.SessionID != sessionID || q.Status != apiv1.QuestionStatusPending {
		s.mu.Unlock()
		s.logger.WithSessionID(sessionID).WithQuestionID(questionID).Debug("Ignoring response for unknown or settled question")
		return
	}
	now := time.Now().UTC()
	q.Status = apiv1.QuestionStatusAnswered
	q.Response = answer
	q.AnsweredAt = &now
	qtype := q.Type
	s.mu.Unlock()

	s.questionWaiters.NotifyAll(questionID, answerDelivery{response: answer})
	s.sessionWaiters.NotifyFirst(sessionID, questionID)

	s.logger.WithSessionID(sessionID).WithQuestionID(questionID).Debug("Answer recorded",
		zap.String("type", string(qtype)))
	s.publishEvent(context.Background(), events.BuildQuestionSubject(events.QuestionAnswered, questionID), events.QuestionAnswered, map[string]interface{}{
		"question_id": questionID,
		"session_id":  sessionID,
		"type":        string(qtype),
	})
}

func (s *Store) insertQuestionLocked(sess *Session, qtype apiv1.QuestionType, config map[string]interface{}) *Question {
	q := &Question{
		ID:        identifier.NewQuestionID(),
		SessionID: sess.ID,
		Type:      qtype,
		Config:    config,
		Status:    apiv1.QuestionStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	sess.questions[q.ID] = q
	sess.questionOrder = append(sess.questionOrder, q.ID)
	s.questionIndex[q.ID] = sess.ID
	return q
}

func (s *Store) lookupQuestionLocked(questionID string) *Question {
	sessionID, ok := s.questionIndex[questionID]
	if !ok {
		return nil
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return sess.questions[questionID]
}

func (s *Store) publishEvent(ctx context.Context, subject, eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, subject, bus.NewEvent(eventType, "session-store", data)); err != nil {
		s.logger.WithError(err).Debug("Failed to publish event", zap.String("subject", subject))
	}
}

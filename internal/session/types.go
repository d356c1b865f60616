package session

import (
	"time"

	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

// Question is one prompt pushed to a session's browser client.
// Status transitions are pending -> answered | cancelled | timeout;
// terminal states are final. All fields are guarded by the store mutex.
type Question struct {
	ID        string
	SessionID string
	Type      apiv1.QuestionType
	Config    map[string]interface{}
	Status    apiv1.QuestionStatus
	Response  map[string]interface{}

	// Retrieved marks the answer as delivered to a session-scoped
	// consumer, enforcing at-most-once delivery through GetNextAnswer.
	Retrieved bool

	CreatedAt  time.Time
	AnsweredAt *time.Time
}

// Session is one live browser session: an HTTP+WebSocket server on its own
// port and an insertion-ordered queue of questions. At most one WebSocket
// client is attached at a time; the session owns its server and both are
// torn down together by EndSession.
type Session struct {
	ID        string
	Title     string
	Port      int
	URL       string
	CreatedAt time.Time

	questions     map[string]*Question
	questionOrder []string

	wsConnected bool
	wsClient    *client

	server *server
}

func (s *Session) hasPendingLocked() bool {
	for _, id := range s.questionOrder {
		if s.questions[id].Status == apiv1.QuestionStatusPending {
			return true
		}
	}
	return false
}

// nextUnretrievedLocked returns the first answered question whose answer has
// not yet been handed to a session-scoped consumer, in insertion order.
func (s *Session) nextUnretrievedLocked() *Question {
	for _, id := range s.questionOrder {
		q := s.questions[id]
		if q.Status == apiv1.QuestionStatusAnswered && !q.Retrieved {
			return q
		}
	}
	return nil
}

func (s *Session) pendingQuestionsLocked() []*Question {
	var pending []*Question
	for _, id := range s.questionOrder {
		if q := s.questions[id]; q.Status == apiv1.QuestionStatusPending {
			pending = append(pending, q)
		}
	}
	return pending
}

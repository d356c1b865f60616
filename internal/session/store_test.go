package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideate/ideate/internal/common/logger"
	"github.com/ideate/ideate/internal/events/bus"
	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	s := NewStore(Config{SkipBrowser: true, UI: []byte("<html></html>")}, nil, nil, log)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func startTestSession(t *testing.T, s *Store, seeds ...apiv1.SeedQuestion) *apiv1.StartSessionResult {
	t.Helper()
	result, err := s.StartSession(context.Background(), "test session", seeds)
	require.NoError(t, err)
	return result
}

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (o *recordingOpener) Open(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.urls = append(o.urls, url)
	return nil
}

func TestStore_StartSessionWithSeeds(t *testing.T) {
	s := newTestStore(t)

	result := startTestSession(t, s,
		apiv1.SeedQuestion{Type: apiv1.QuestionTypeAskText, Config: map[string]interface{}{"question": "Which services?"}},
		apiv1.SeedQuestion{Type: apiv1.QuestionTypeConfirm, Config: map[string]interface{}{"question": "Proceed?"}},
	)

	assert.True(t, strings.HasPrefix(result.SessionID, "ses_"))
	assert.Contains(t, result.URL, "http://localhost:")
	require.Len(t, result.QuestionIDs, 2)
	for _, qid := range result.QuestionIDs {
		assert.True(t, strings.HasPrefix(qid, "q_"))
	}

	questions := s.ListQuestions(result.SessionID)
	require.Len(t, questions, 2)
	for _, q := range questions {
		assert.Equal(t, apiv1.QuestionStatusPending, q.Status)
	}
}

func TestStore_StartSessionLaunchesBrowser(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	opener := &recordingOpener{}
	s := NewStore(Config{UI: []byte("<html></html>")}, opener, nil, log)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	result := startTestSession(t, s)

	opener.mu.Lock()
	defer opener.mu.Unlock()
	require.Len(t, opener.urls, 1)
	assert.Equal(t, result.URL, opener.urls[0])
}

func TestStore_StartSessionBrowserFailureRollsBack(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	opener := &recordingOpener{err: errors.New("no display")}
	s := NewStore(Config{UI: []byte("<html></html>")}, opener, nil, log)

	_, err = s.StartSession(context.Background(), "doomed",
		[]apiv1.SeedQuestion{{Type: apiv1.QuestionTypeAskText, Config: map[string]interface{}{"question": "?"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBrowserOpenFailed))

	assert.Empty(t, s.ListQuestions(""))
	s.mu.Lock()
	assert.Empty(t, s.sessions)
	assert.Empty(t, s.questionIndex)
	s.mu.Unlock()
}

func TestStore_PushQuestionUnknownSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PushQuestion(context.Background(), "ses_missing", apiv1.QuestionTypeConfirm, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestStore_GetAnswerNonBlocking(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s)

	qid, err := s.PushQuestion(context.Background(), result.SessionID, apiv1.QuestionTypeConfirm,
		map[string]interface{}{"question": "OK?"})
	require.NoError(t, err)

	res, err := s.GetAnswer(context.Background(), apiv1.GetAnswerRequest{QuestionID: qid})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.QuestionStatusPending, res.Status)
	assert.Equal(t, "pending", res.Reason)

	// Unknown questions report cancelled.
	res, err = s.GetAnswer(context.Background(), apiv1.GetAnswerRequest{QuestionID: "q_missing"})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.QuestionStatusCancelled, res.Status)
}

func TestStore_GetAnswerAlreadyAnswered(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s)

	qid, err := s.PushQuestion(context.Background(), result.SessionID, apiv1.QuestionTypeAskText,
		map[string]interface{}{"question": "Which services?"})
	require.NoError(t, err)

	s.handleResponse(result.SessionID, qid, map[string]interface{}{"text": "api, worker"})

	res, err := s.GetAnswer(context.Background(), apiv1.GetAnswerRequest{QuestionID: qid})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, apiv1.QuestionStatusAnswered, res.Status)
	assert.Equal(t, "api, worker", res.Response["text"])
}

func TestStore_GetAnswerTimeout(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s)

	qid, err := s.PushQuestion(context.Background(), result.SessionID, apiv1.QuestionTypeConfirm,
		map[string]interface{}{"question": "OK?"})
	require.NoError(t, err)

	start := time.Now()
	res, err := s.GetAnswer(context.Background(), apiv1.GetAnswerRequest{
		QuestionID: qid,
		Block:      true,
		TimeoutMs:  100,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.QuestionStatusTimeout, res.Status)

	// The question itself carries the terminal status now.
	questions := s.ListQuestions(result.SessionID)
	require.Len(t, questions, 1)
	assert.Equal(t, apiv1.QuestionStatusTimeout, questions[0].Status)

	// A later call sees the terminal state immediately.
	res, err = s.GetAnswer(context.Background(), apiv1.GetAnswerRequest{QuestionID: qid})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.QuestionStatusTimeout, res.Status)
}

func TestStore_GetAnswerCancelUnblocksWaiters(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s)

	qid, err := s.PushQuestion(context.Background(), result.SessionID, apiv1.QuestionTypeConfirm,
		map[string]interface{}{"question": "OK?"})
	require.NoError(t, err)

	results := make(chan *apiv1.GetAnswerResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := s.GetAnswer(context.Background(), apiv1.GetAnswerRequest{
				QuestionID: qid,
				Block:      true,
				TimeoutMs:  5000,
			})
			assert.NoError(t, err)
			results <- res
		}()
	}

	require.Eventually(t, func() bool {
		return s.questionWaiters.Len(qid) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, s.CancelQuestion(context.Background(), qid))

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			require.NotNil(t, res)
			assert.False(t, res.Completed)
			assert.Equal(t, apiv1.QuestionStatusCancelled, res.Status)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter was not unblocked by cancel")
		}
	}
}

func TestStore_GetAnswerFanOut(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s)

	qid, err := s.PushQuestion(context.Background(), result.SessionID, apiv1.QuestionTypePickOne,
		map[string]interface{}{"question": "JSON or plain?"})
	require.NoError(t, err)

	results := make(chan *apiv1.GetAnswerResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := s.GetAnswer(context.Background(), apiv1.GetAnswerRequest{
				QuestionID: qid,
				Block:      true,
				TimeoutMs:  5000,
			})
			assert.NoError(t, err)
			results <- res
		}()
	}

	require.Eventually(t, func() bool {
		return s.questionWaiters.Len(qid) == 2
	}, 2*time.Second, 10*time.Millisecond)

	s.handleResponse(result.SessionID, qid, map[string]interface{}{"selected": "j"})

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			require.NotNil(t, res)
			assert.True(t, res.Completed)
			assert.Equal(t, apiv1.QuestionStatusAnswered, res.Status)
			assert.Equal(t, "j", res.Response["selected"])
		case <-time.After(2 * time.Second):
			t.Fatal("waiter did not receive the answer")
		}
	}
}

func TestStore_CancelQuestionTwice(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s)

	qid, err := s.PushQuestion(context.Background(), result.SessionID, apiv1.QuestionTypeConfirm,
		map[string]interface{}{"question": "OK?"})
	require.NoError(t, err)

	assert.True(t, s.CancelQuestion(context.Background(), qid))
	assert.False(t, s.CancelQuestion(context.Background(), qid))
	assert.False(t, s.CancelQuestion(context.Background(), "q_missing"))
}

func TestStore_GetNextAnswerScan(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s)
	ctx := context.Background()

	q1, err := s.PushQuestion(ctx, result.SessionID, apiv1.QuestionTypeAskText, map[string]interface{}{"question": "first"})
	require.NoError(t, err)
	q2, err := s.PushQuestion(ctx, result.SessionID, apiv1.QuestionTypeAskText, map[string]interface{}{"question": "second"})
	require.NoError(t, err)

	// Second question answered first: the scan returns it, not the pending first.
	s.handleResponse(result.SessionID, q2, map[string]interface{}{"text": "two"})

	res, err := s.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{SessionID: result.SessionID})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, q2, res.QuestionID)
	assert.Equal(t, apiv1.QuestionTypeAskText, res.QuestionType)
	assert.Equal(t, "two", res.Response["text"])

	// q2 is retrieved; q1 still pending.
	res, err = s.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{SessionID: result.SessionID})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.NextAnswerStatusPending, res.Status)

	s.handleResponse(result.SessionID, q1, map[string]interface{}{"text": "one"})

	res, err = s.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{SessionID: result.SessionID})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, q1, res.QuestionID)

	// Everything answered and retrieved.
	res, err = s.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{SessionID: result.SessionID})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.NextAnswerStatusNonePending, res.Status)
}

func TestStore_GetNextAnswerNonePending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{SessionID: "ses_missing"})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.NextAnswerStatusNonePending, res.Status)

	result := startTestSession(t, s)
	res, err = s.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{SessionID: result.SessionID})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.NextAnswerStatusNonePending, res.Status)
}

func TestStore_GetNextAnswerFIFO(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s)
	ctx := context.Background()

	q1, err := s.PushQuestion(ctx, result.SessionID, apiv1.QuestionTypeAskText, map[string]interface{}{"question": "first"})
	require.NoError(t, err)
	q2, err := s.PushQuestion(ctx, result.SessionID, apiv1.QuestionTypeAskText, map[string]interface{}{"question": "second"})
	require.NoError(t, err)

	first := make(chan *apiv1.NextAnswerResult, 1)
	second := make(chan *apiv1.NextAnswerResult, 1)

	go func() {
		res, err := s.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{SessionID: result.SessionID, Block: true, TimeoutMs: 5000})
		assert.NoError(t, err)
		first <- res
	}()
	require.Eventually(t, func() bool {
		return s.sessionWaiters.Len(result.SessionID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	go func() {
		res, err := s.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{SessionID: result.SessionID, Block: true, TimeoutMs: 5000})
		assert.NoError(t, err)
		second <- res
	}()
	require.Eventually(t, func() bool {
		return s.sessionWaiters.Len(result.SessionID) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Answers arrive in order q1 then q2; waiters resolve in registration order.
	s.handleResponse(result.SessionID, q1, map[string]interface{}{"text": "one"})
	select {
	case res := <-first:
		require.NotNil(t, res)
		assert.True(t, res.Completed)
		assert.Equal(t, q1, res.QuestionID)
	case <-time.After(2 * time.Second):
		t.Fatal("first waiter did not resolve")
	}

	s.handleResponse(result.SessionID, q2, map[string]interface{}{"text": "two"})
	select {
	case res := <-second:
		require.NotNil(t, res)
		assert.True(t, res.Completed)
		assert.Equal(t, q2, res.QuestionID)
	case <-time.After(2 * time.Second):
		t.Fatal("second waiter did not resolve")
	}
}

func TestStore_GetNextAnswerBlockingTimeout(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s)

	_, err := s.PushQuestion(context.Background(), result.SessionID, apiv1.QuestionTypeConfirm,
		map[string]interface{}{"question": "OK?"})
	require.NoError(t, err)

	res, err := s.GetNextAnswer(context.Background(), apiv1.GetNextAnswerRequest{
		SessionID: result.SessionID,
		Block:     true,
		TimeoutMs: 100,
	})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.NextAnswerStatusTimeout, res.Status)
}

func TestStore_EndSession(t *testing.T) {
	s := newTestStore(t)
	result := startTestSession(t, s,
		apiv1.SeedQuestion{Type: apiv1.QuestionTypeConfirm, Config: map[string]interface{}{"question": "OK?"}})
	ctx := context.Background()

	assert.True(t, s.EndSession(ctx, result.SessionID))
	assert.False(t, s.EndSession(ctx, result.SessionID))

	// Questions of an ended session report cancelled.
	res, err := s.GetAnswer(ctx, apiv1.GetAnswerRequest{QuestionID: result.QuestionIDs[0]})
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, apiv1.QuestionStatusCancelled, res.Status)

	assert.Empty(t, s.ListQuestions(result.SessionID))
}

func TestStore_ListQuestionsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := startTestSession(t, s)
	b := startTestSession(t, s)

	var pushed []string
	for i, target := range []string{a.SessionID, b.SessionID, a.SessionID} {
		qid, err := s.PushQuestion(ctx, target, apiv1.QuestionTypeAskText,
			map[string]interface{}{"question": "q"})
		require.NoError(t, err)
		pushed = append(pushed, qid)
		if i < 2 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	all := s.ListQuestions("")
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, pushed[2], all[0].ID)
	assert.Equal(t, pushed[1], all[1].ID)
	assert.Equal(t, pushed[0], all[2].ID)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i-1].CreatedAt.Before(all[i].CreatedAt))
	}

	onlyA := s.ListQuestions(a.SessionID)
	require.Len(t, onlyA, 2)
	assert.Equal(t, pushed[2], onlyA[0].ID)
	assert.Equal(t, pushed[0], onlyA[1].ID)
}

func TestStore_PublishesAnswerEvents(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(func() { eventBus.Close() })

	s := NewStore(Config{SkipBrowser: true, UI: []byte("<html></html>")}, nil, eventBus, log)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	answered := make(chan *bus.Event, 1)
	sub, err := eventBus.Subscribe("question.answered.*", func(ctx context.Context, event *bus.Event) error {
		select {
		case answered <- event:
		default:
		}
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	result := startTestSession(t, s)
	qid, err := s.PushQuestion(context.Background(), result.SessionID, apiv1.QuestionTypeThumbs,
		map[string]interface{}{"question": "Good?"})
	require.NoError(t, err)

	s.handleResponse(result.SessionID, qid, map[string]interface{}{"choice": "up"})

	select {
	case event := <-answered:
		assert.Equal(t, "question.answered", event.Type)
		assert.Equal(t, qid, event.Data["question_id"])
		assert.Equal(t, result.SessionID, event.Data["session_id"])
	case <-time.After(time.Second):
		t.Fatal("answer event was not published")
	}
}

// Package integration provides end-to-end integration tests for the ideate
// service.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

// TestAnswerFansOutToAllWaiters verifies that every consumer blocked on the
// same question receives the answer, not just the first one.
func TestAnswerFansOutToAllWaiters(t *testing.T) {
	ts := NewTestStack(t)
	defer ts.Close()
	ctx := context.Background()

	started, err := ts.Sessions.StartSession(ctx, "Fan-out check", []apiv1.SeedQuestion{
		{Type: apiv1.QuestionTypeConfirm, Config: map[string]interface{}{"question": "Proceed?"}},
	})
	require.NoError(t, err)
	questionID := started.QuestionIDs[0]

	client := NewBrowserClient(t, started.URL)
	defer client.Close()

	_, err = client.NextQuestion(2 * time.Second)
	require.NoError(t, err)

	const waiters = 3
	results := make([]*apiv1.GetAnswerResult, waiters)
	errs := make([]error, waiters)

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ts.Sessions.GetAnswer(ctx, apiv1.GetAnswerRequest{
				QuestionID: questionID,
				Block:      true,
				TimeoutMs:  5000,
			})
		}(i)
	}

	// Give the waiters a moment to register so the answer actually fans out
	// instead of being observed as already answered.
	time.Sleep(100 * time.Millisecond)
	client.Answer(questionID, map[string]interface{}{"choice": "yes"})

	wg.Wait()
	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.True(t, results[i].Completed)
		assert.Equal(t, "yes", results[i].Response["choice"])
	}
}

// TestNewBrowserTabReplacesOld verifies that a second connection takes over
// the session: it gets the pending questions replayed and the first
// connection is closed by the server.
func TestNewBrowserTabReplacesOld(t *testing.T) {
	ts := NewTestStack(t)
	defer ts.Close()
	ctx := context.Background()

	started, err := ts.Sessions.StartSession(ctx, "Takeover check", []apiv1.SeedQuestion{
		{Type: apiv1.QuestionTypeAskText, Config: map[string]interface{}{"question": "Which tab wins?"}},
	})
	require.NoError(t, err)
	questionID := started.QuestionIDs[0]

	first := NewBrowserClient(t, started.URL)
	defer first.Close()

	frame, err := first.NextQuestion(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, questionID, frame.ID)

	second := NewBrowserClient(t, started.URL)
	defer second.Close()

	// The still-pending question is replayed to the fresh tab.
	frame, err = second.NextQuestion(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, questionID, frame.ID)

	// The stale tab's connection is closed by the server.
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first connection was not closed after takeover")
	}

	second.Answer(questionID, map[string]interface{}{"text": "the second one"})

	res, err := ts.Sessions.GetAnswer(ctx, apiv1.GetAnswerRequest{
		QuestionID: questionID,
		Block:      true,
		TimeoutMs:  5000,
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "the second one", res.Response["text"])
}

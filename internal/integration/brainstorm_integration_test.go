// Package integration provides end-to-end integration tests for the ideate
// service.
package integration

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

var (
	sessionIDRe        = regexp.MustCompile(`Brainstorm (\S+) started`)
	participantURLRe   = regexp.MustCompile(`Participant view: (\S+)`)
	browserSessionIDRe = regexp.MustCompile(`browser_session_id=(\S+) to`)
)

// startedBrainstorm carries the identifiers parsed out of the create summary,
// the same way a coding agent would read them off the tool result.
type startedBrainstorm struct {
	sessionID        string
	browserSessionID string
	url              string
}

func createBrainstorm(t *testing.T, ts *TestStack, req apiv1.CreateBrainstormRequest) startedBrainstorm {
	t.Helper()

	summary, err := ts.Brainstorms.CreateBrainstorm(context.Background(), req)
	require.NoError(t, err)

	sid := sessionIDRe.FindStringSubmatch(summary)
	require.Len(t, sid, 2, "summary should name the session: %s", summary)
	url := participantURLRe.FindStringSubmatch(summary)
	require.Len(t, url, 2, "summary should name the participant URL: %s", summary)
	bsid := browserSessionIDRe.FindStringSubmatch(summary)
	require.Len(t, bsid, 2, "summary should name the browser session: %s", summary)

	return startedBrainstorm{sessionID: sid[1], browserSessionID: bsid[1], url: url[1]}
}

// runParticipant answers every question the way a decisive participant would:
// text prompts get the given reply, priority follow-ups take momentum,
// confirms say yes, and the closing plan gets the given review. Returns a
// channel that closes when the plan review has been submitted.
func runParticipant(client *BrowserClient, textReply string, seedPick string, review map[string]interface{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			frame, err := client.NextQuestion(5 * time.Second)
			if err != nil {
				return
			}
			switch apiv1.QuestionType(frame.QuestionType) {
			case apiv1.QuestionTypeAskText:
				client.Answer(frame.ID, map[string]interface{}{"text": textReply})
			case apiv1.QuestionTypePickOne:
				question, _ := frame.Config["question"].(string)
				if strings.Contains(question, "optimize for") {
					client.Answer(frame.ID, map[string]interface{}{"selected": "momentum"})
				} else {
					client.Answer(frame.ID, map[string]interface{}{"selected": seedPick})
				}
			case apiv1.QuestionTypeConfirm:
				client.Answer(frame.ID, map[string]interface{}{"choice": "yes"})
			case apiv1.QuestionTypeShowPlan:
				client.Answer(frame.ID, review)
				return
			}
		}
	}()
	return done
}

func TestBrainstormEndToEnd(t *testing.T) {
	ts := NewTestStack(t)
	defer ts.Close()
	ctx := context.Background()

	started := createBrainstorm(t, ts, apiv1.CreateBrainstormRequest{
		Request: "Design the export pipeline",
		Branches: []apiv1.BranchSpec{
			{
				ID:    "storage",
				Scope: "Storage format",
				InitialQuestion: apiv1.SeedQuestion{
					Type:   apiv1.QuestionTypeAskText,
					Config: map[string]interface{}{"question": "How should exports be stored?"},
				},
			},
			{
				ID:    "transport",
				Scope: "Delivery transport",
				InitialQuestion: apiv1.SeedQuestion{
					Type: apiv1.QuestionTypePickOne,
					Config: map[string]interface{}{
						"question": "How should exports be delivered?",
						"options": []map[string]interface{}{
							{"id": "sftp", "label": "SFTP drop"},
							{"id": "s3", "label": "S3 bucket"},
						},
					},
				},
			},
		},
	})

	client := NewBrowserClient(t, started.url)
	defer client.Close()

	reviewed := runParticipant(client, "append-only JSONL files", "s3", map[string]interface{}{
		"approved":    true,
		"annotations": map[string]interface{}{"storage": "consider compression"},
	})

	result, err := ts.Brainstorms.AwaitComplete(ctx, started.sessionID, started.browserSessionID)
	require.NoError(t, err)

	assert.Contains(t, result, "All 2 branches are done.")
	assert.Contains(t, result, "- storage (Storage format): append-only JSONL files (momentum)")
	assert.Contains(t, result, "- transport (Delivery transport): s3 (momentum)")
	assert.Contains(t, result, "Plan approved by the participant.")
	assert.Contains(t, result, "Feedback: storage: consider compression")

	select {
	case <-reviewed:
	case <-time.After(2 * time.Second):
		t.Fatal("participant never saw the plan review")
	}

	findings, err := ts.Brainstorms.EndBrainstorm(ctx, started.sessionID)
	require.NoError(t, err)
	assert.Contains(t, findings, `Findings for "Design the export pipeline"`)

	// The browser session was torn down with the brainstorm.
	require.NoError(t, client.WaitEnd(2*time.Second))

	// The outcome is archived and the working state is gone.
	recs, err := ts.Archive.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, started.sessionID, recs[0].ID)
	assert.Equal(t, "Design the export pipeline", recs[0].Request)
	assert.Equal(t, 2, recs[0].BranchCount)
	assert.True(t, recs[0].Approved)
	assert.Contains(t, recs[0].Findings, "s3 (momentum)")

	stats, err := ts.Archive.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Approved)

	ids, err := ts.State.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBrainstormPlanRejected(t *testing.T) {
	ts := NewTestStack(t)
	defer ts.Close()
	ctx := context.Background()

	started := createBrainstorm(t, ts, apiv1.CreateBrainstormRequest{
		Request: "Shape the public API",
		Branches: []apiv1.BranchSpec{
			{
				ID:    "api",
				Scope: "API shape",
				InitialQuestion: apiv1.SeedQuestion{
					Type:   apiv1.QuestionTypeAskText,
					Config: map[string]interface{}{"question": "What should the endpoint return?"},
				},
			},
		},
	})

	client := NewBrowserClient(t, started.url)
	defer client.Close()

	reviewed := runParticipant(client, "a paginated list", "", map[string]interface{}{
		"approved": false,
		"feedback": "needs a retry story",
	})

	result, err := ts.Brainstorms.AwaitComplete(ctx, started.sessionID, started.browserSessionID)
	require.NoError(t, err)

	assert.Contains(t, result, "Plan not approved by the participant.")
	assert.Contains(t, result, "Feedback: needs a retry story")

	select {
	case <-reviewed:
	case <-time.After(2 * time.Second):
		t.Fatal("participant never saw the plan review")
	}

	_, err = ts.Brainstorms.EndBrainstorm(ctx, started.sessionID)
	require.NoError(t, err)

	recs, err := ts.Archive.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Approved)
}

// Package brainstorm drives multi-branch brainstorms: it couples the durable
// branch state with a live browser session, routes every participant answer
// to its branch, probes each branch for completion, and runs the closing
// plan-review interaction.
package brainstorm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ideate/ideate/internal/common/constants"
	"github.com/ideate/ideate/internal/common/identifier"
	"github.com/ideate/ideate/internal/common/logger"
	"github.com/ideate/ideate/internal/events"
	"github.com/ideate/ideate/internal/events/bus"
	"github.com/ideate/ideate/internal/probe"
	"github.com/ideate/ideate/internal/state"
	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

// ErrNotFound reports an unknown brainstorm session.
var ErrNotFound = errors.New("brainstorm not found")

// Sessions is the slice of the browser session store the orchestrator drives.
type Sessions interface {
	StartSession(ctx context.Context, title string, seeds []apiv1.SeedQuestion) (*apiv1.StartSessionResult, error)
	EndSession(ctx context.Context, sessionID string) bool
	PushQuestion(ctx context.Context, sessionID string, qtype apiv1.QuestionType, config map[string]interface{}) (string, error)
	GetNextAnswer(ctx context.Context, req apiv1.GetNextAnswerRequest) (*apiv1.NextAnswerResult, error)
}

// Prober evaluates a branch snapshot after each recorded answer.
type Prober interface {
	Evaluate(branch *state.Branch) (*probe.Verdict, error)
}

// Archiver records completed brainstorms for later recall.
type Archiver interface {
	Record(ctx context.Context, rec apiv1.BrainstormRecord) error
}

// Service is the brainstorm orchestrator.
type Service struct {
	state        *state.Store
	sessions     Sessions
	probe        Prober
	archive      Archiver     // optional
	bus          bus.EventBus // optional
	templatesDir string
	logger       *logger.Logger

	// Plan-review outcomes, kept until end_brainstorm archives them.
	mu       sync.Mutex
	approved map[string]bool
}

// NewService creates the orchestrator. The archiver and event bus may be nil.
func NewService(st *state.Store, sessions Sessions, prober Prober, archive Archiver, eventBus bus.EventBus, templatesDir string, log *logger.Logger) *Service {
	return &Service{
		state:        st,
		sessions:     sessions,
		probe:        prober,
		archive:      archive,
		bus:          eventBus,
		templatesDir: templatesDir,
		logger:       log,
		approved:     make(map[string]bool),
	}
}

// CreateBrainstorm initializes branch state, opens a browser session seeded
// with one question per branch, and links the two. It returns a summary the
// caller can relay, naming the branches and the participant URL.
func (s *Service) CreateBrainstorm(ctx context.Context, req apiv1.CreateBrainstormRequest) (string, error) {
	if strings.TrimSpace(req.Request) == "" {
		return "", fmt.Errorf("request text is required")
	}
	if len(req.Branches) == 0 {
		return "", fmt.Errorf("at least one branch is required")
	}

	sessionID := identifier.NewSessionID()
	if err := s.state.CreateSession(ctx, sessionID, req.Request, req.Branches); err != nil {
		return "", fmt.Errorf("create brainstorm state: %w", err)
	}

	seeds := make([]apiv1.SeedQuestion, 0, len(req.Branches))
	for _, b := range req.Branches {
		cfg := cloneConfig(b.InitialQuestion.Config)
		existing, _ := cfg["context"].(string)
		// Tag the branch scope on-screen so the participant can tell the
		// parallel strands apart.
		cfg["context"] = strings.TrimSpace("[" + b.Scope + "] " + existing)
		seeds = append(seeds, apiv1.SeedQuestion{Type: b.InitialQuestion.Type, Config: cfg})
	}

	result, err := s.sessions.StartSession(ctx, req.Request, seeds)
	if err != nil {
		_ = s.state.DeleteSession(ctx, sessionID)
		return "", fmt.Errorf("start browser session: %w", err)
	}

	if err := s.state.SetBrowserSessionID(ctx, sessionID, result.SessionID); err != nil {
		return "", err
	}
	for i, b := range req.Branches {
		text, _ := b.InitialQuestion.Config["question"].(string)
		q := state.BranchQuestion{
			ID:     result.QuestionIDs[i],
			Type:   b.InitialQuestion.Type,
			Text:   text,
			Config: b.InitialQuestion.Config,
		}
		if err := s.state.AddQuestionToBranch(ctx, sessionID, b.ID, q); err != nil {
			return "", err
		}
	}

	s.logger.WithSessionID(sessionID).Info("Brainstorm created")
	s.publishEvent(ctx, events.BuildBrainstormSubject(events.BrainstormCreated, sessionID), events.BrainstormCreated, map[string]interface{}{
		"session_id":   sessionID,
		"request":      req.Request,
		"branch_count": len(req.Branches),
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Brainstorm %s started with %d branches:\n", sessionID, len(req.Branches))
	for _, b := range req.Branches {
		fmt.Fprintf(&sb, "- %s: %s\n", b.ID, b.Scope)
	}
	fmt.Fprintf(&sb, "Participant view: %s\n", result.URL)
	fmt.Fprintf(&sb, "Call await_brainstorm_complete with session_id=%s and browser_session_id=%s to drive the exploration.",
		sessionID, result.SessionID)
	return sb.String(), nil
}

// AwaitComplete consumes answers from the browser session and routes each to
// its branch until every branch is done or the wait budget runs out. When all
// branches finish it pushes the assembled plan for participant review and
// reports the outcome. On a partial run it returns an in-progress summary;
// calling again resumes.
func (s *Service) AwaitComplete(ctx context.Context, sessionID, browserSessionID string) (string, error) {
	doc, err := s.state.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", ErrNotFound
	}
	if browserSessionID == "" {
		browserSessionID = doc.BrowserSessionID
	}

	var g errgroup.Group
loop:
	for i := 0; i < constants.MaxAwaitIterations; i++ {
		complete, err := s.state.IsSessionComplete(ctx, sessionID)
		if err != nil || complete {
			break
		}

		res, err := s.sessions.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{
			SessionID: browserSessionID,
			Block:     true,
			TimeoutMs: constants.AnswerWaitTimeout.Milliseconds(),
		})
		if err != nil {
			// Browser session gone; no further answers will arrive.
			s.logger.WithSessionID(sessionID).WithError(err).Warn("Answer wait aborted")
			break
		}

		if !res.Completed {
			switch res.Status {
			case apiv1.NextAnswerStatusNonePending:
				// In-flight routing may still push follow-ups; let it land
				// before deciding the session has stalled.
				_ = g.Wait()
				continue
			case apiv1.NextAnswerStatusTimeout:
				break loop
			default:
				continue
			}
		}

		questionID, response := res.QuestionID, res.Response
		g.Go(func() error {
			if err := s.processAnswer(ctx, sessionID, browserSessionID, questionID, response); err != nil {
				s.logger.WithSessionID(sessionID).WithQuestionID(questionID).WithError(err).Warn("Answer processing failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	doc, err = s.state.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", ErrNotFound
	}

	if !allDone(doc) {
		return inProgressSummary(doc), nil
	}
	return s.reviewPlan(ctx, doc, browserSessionID)
}

// processAnswer routes one retrieved answer to its branch and advances the
// branch: record, re-read, probe, then either complete the branch or push the
// probe's follow-up question.
func (s *Service) processAnswer(ctx context.Context, sessionID, browserSessionID, questionID string, response map[string]interface{}) error {
	doc, err := s.state.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if doc == nil {
		s.logger.WithSessionID(sessionID).WithQuestionID(questionID).Debug("Dropping answer for deleted brainstorm")
		return nil
	}
	if doc.FindBranchByQuestion(questionID) == nil {
		s.logger.WithQuestionID(questionID).Debug("Answer does not belong to any branch")
		return nil
	}

	if err := s.state.RecordAnswer(ctx, sessionID, questionID, response); err != nil {
		return fmt.Errorf("record answer: %w", err)
	}

	// Probe the snapshot that includes this answer.
	doc, err = s.state.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	branch := doc.FindBranchByQuestion(questionID)
	if branch == nil || branch.Status == apiv1.BranchStatusDone {
		return nil
	}

	verdict, err := s.evaluate(branch)
	if err != nil {
		return fmt.Errorf("probe branch %s: %w", branch.ID, err)
	}
	if verdict == nil {
		return nil
	}

	if verdict.Done {
		if err := s.state.CompleteBranch(ctx, sessionID, branch.ID, verdict.Finding); err != nil {
			return fmt.Errorf("complete branch %s: %w", branch.ID, err)
		}
		s.logger.WithSessionID(sessionID).WithBranchID(branch.ID).Info("Branch completed")
		s.publishEvent(ctx, events.BuildBrainstormSubject(events.BranchCompleted, sessionID), events.BranchCompleted, map[string]interface{}{
			"session_id": sessionID,
			"branch_id":  branch.ID,
			"finding":    verdict.Finding,
		})
		return nil
	}

	if verdict.Question == nil {
		// The branch still waits on an earlier unanswered question.
		return nil
	}

	newID, err := s.sessions.PushQuestion(ctx, browserSessionID, verdict.Question.Type, verdict.Question.Config)
	if err != nil {
		return fmt.Errorf("push follow-up: %w", err)
	}
	text, _ := verdict.Question.Config["question"].(string)
	q := state.BranchQuestion{
		ID:     newID,
		Type:   verdict.Question.Type,
		Text:   text,
		Config: verdict.Question.Config,
	}
	if err := s.state.AddQuestionToBranch(ctx, sessionID, branch.ID, q); err != nil {
		return fmt.Errorf("attach follow-up: %w", err)
	}
	return nil
}

// evaluate shields the loop from a panicking probe implementation.
func (s *Service) evaluate(branch *state.Branch) (verdict *probe.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	return s.probe.Evaluate(branch)
}

// reviewPlan pushes the assembled plan to the participant and waits for the
// review response. If the browser session is already gone the findings are
// returned unreviewed.
func (s *Service) reviewPlan(ctx context.Context, doc *state.Document, browserSessionID string) (string, error) {
	config := map[string]interface{}{
		"title":    "Brainstorm Plan",
		"sections": planSections(doc),
	}

	reviewID, err := s.sessions.PushQuestion(ctx, browserSessionID, apiv1.QuestionTypeShowPlan, config)
	if err != nil {
		s.logger.WithSessionID(doc.SessionID).WithError(err).Info("Plan review skipped, browser session closed")
		return s.finalSummary(doc, nil), nil
	}

	var review *apiv1.NextAnswerResult
	for i := 0; i < constants.MaxAwaitIterations; i++ {
		res, err := s.sessions.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{
			SessionID: browserSessionID,
			Block:     true,
			TimeoutMs: constants.PlanReviewTimeout.Milliseconds(),
		})
		if err != nil || !res.Completed {
			break
		}
		if res.QuestionID == reviewID {
			review = res
			break
		}
		// A late answer for an already-done branch; nothing left to route.
		s.logger.WithSessionID(doc.SessionID).WithQuestionID(res.QuestionID).Debug("Discarding late answer during plan review")
	}

	approved, _ := interpretReview(review)
	s.mu.Lock()
	s.approved[doc.SessionID] = approved
	s.mu.Unlock()

	return s.finalSummary(doc, review), nil
}

// EndBrainstorm tears a brainstorm down: it closes the browser session if one
// is live, archives the outcome, deletes the persisted state, and returns the
// findings.
func (s *Service) EndBrainstorm(ctx context.Context, sessionID string) (string, error) {
	doc, err := s.state.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", ErrNotFound
	}

	if doc.BrowserSessionID != "" {
		s.sessions.EndSession(ctx, doc.BrowserSessionID)
	}

	findings := findingsText(doc)

	s.mu.Lock()
	approved := s.approved[sessionID]
	delete(s.approved, sessionID)
	s.mu.Unlock()

	if s.archive != nil {
		rec := apiv1.BrainstormRecord{
			ID:          sessionID,
			Request:     doc.Request,
			BranchCount: len(doc.Branches),
			Findings:    findings,
			Approved:    approved,
			CreatedAt:   doc.CreatedAt,
			CompletedAt: time.Now().UTC(),
		}
		if err := s.archive.Record(ctx, rec); err != nil {
			s.logger.WithSessionID(sessionID).WithError(err).Warn("Failed to archive brainstorm")
		}
	}

	if err := s.state.DeleteSession(ctx, sessionID); err != nil {
		return "", fmt.Errorf("delete brainstorm state: %w", err)
	}

	s.logger.WithSessionID(sessionID).Info("Brainstorm ended")
	s.publishEvent(ctx, events.BuildBrainstormSubject(events.BrainstormCompleted, sessionID), events.BrainstormCompleted, map[string]interface{}{
		"session_id": sessionID,
		"approved":   approved,
	})
	return findings, nil
}

// SessionSummary renders each branch's status, transcript, and finding.
func (s *Service) SessionSummary(ctx context.Context, sessionID string) (string, error) {
	doc, err := s.state.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", ErrNotFound
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Brainstorm %s: %s\n", doc.SessionID, doc.Request)
	for _, b := range doc.OrderedBranches() {
		fmt.Fprintf(&sb, "\n[%s] %s (%s)\n", b.ID, b.Scope, b.Status)
		if len(b.Questions) == 0 {
			sb.WriteString("  (no answers)\n")
			continue
		}
		for i := range b.Questions {
			q := &b.Questions[i]
			fmt.Fprintf(&sb, "  Q: %s\n", q.Text)
			if q.Answered() {
				fmt.Fprintf(&sb, "  A: %s\n", probe.SummarizeAnswer(q.Answer))
			} else {
				sb.WriteString("  A: (no answer)\n")
			}
		}
		if b.Finding != "" {
			fmt.Fprintf(&sb, "  Finding: %s\n", b.Finding)
		}
	}
	return sb.String(), nil
}

func (s *Service) publishEvent(ctx context.Context, subject, eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, subject, bus.NewEvent(eventType, "brainstorm", data)); err != nil {
		s.logger.WithError(err).Debug("Failed to publish event")
	}
}

// planSections renders one reviewable section per branch behind a leading
// section restating the original request.
func planSections(doc *state.Document) []apiv1.PlanSection {
	sections := make([]apiv1.PlanSection, 0, len(doc.BranchOrder)+1)
	sections = append(sections, apiv1.PlanSection{
		ID:      "request",
		Title:   "Original Request",
		Content: doc.Request,
	})
	for _, b := range doc.OrderedBranches() {
		sections = append(sections, apiv1.PlanSection{
			ID:      b.ID,
			Title:   b.Scope,
			Content: fmt.Sprintf("Finding: %s\n\nDiscussion: %s", b.Finding, transcript(b)),
		})
	}
	return sections
}

func transcript(b *state.Branch) string {
	if len(b.Questions) == 0 {
		return "(no answers)"
	}
	lines := make([]string, 0, len(b.Questions))
	for i := range b.Questions {
		q := &b.Questions[i]
		if q.Answered() {
			lines = append(lines, fmt.Sprintf("%s -> %s", q.Text, probe.SummarizeAnswer(q.Answer)))
		} else {
			lines = append(lines, fmt.Sprintf("%s -> (no answer)", q.Text))
		}
	}
	return strings.Join(lines, "; ")
}

// interpretReview extracts the approval flag and written feedback from a plan
// review response. Accepts either the show_plan shape (approved boolean plus
// per-section annotations) or a plain confirm shape.
func interpretReview(res *apiv1.NextAnswerResult) (bool, string) {
	if res == nil || res.Response == nil {
		return false, ""
	}
	resp := res.Response
	approved := resp["approved"] == true || resp["choice"] == "yes"

	if notes, ok := resp["annotations"].(map[string]interface{}); ok && len(notes) > 0 {
		parts := make([]string, 0, len(notes))
		for id, note := range notes {
			parts = append(parts, fmt.Sprintf("%s: %v", id, note))
		}
		sort.Strings(parts)
		return approved, strings.Join(parts, "; ")
	}
	if fb, ok := resp["feedback"].(string); ok && fb != "" {
		return approved, fb
	}
	if txt, ok := resp["text"].(string); ok && txt != "" {
		return approved, txt
	}
	return approved, ""
}

func allDone(doc *state.Document) bool {
	for _, b := range doc.Branches {
		if b.Status != apiv1.BranchStatusDone {
			return false
		}
	}
	return true
}

func inProgressSummary(doc *state.Document) string {
	branches := doc.OrderedBranches()
	done := 0
	for _, b := range branches {
		if b.Status == apiv1.BranchStatusDone {
			done++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Brainstorm %s in progress: %d of %d branches done.\n", doc.SessionID, done, len(branches))
	for _, b := range branches {
		if b.Status == apiv1.BranchStatusDone {
			fmt.Fprintf(&sb, "- %s (done): %s\n", b.ID, b.Finding)
		} else {
			fmt.Fprintf(&sb, "- %s (exploring): %d of %d questions answered\n", b.ID, b.AnsweredCount(), len(b.Questions))
		}
	}
	sb.WriteString("Call await_brainstorm_complete again to resume.")
	return sb.String()
}

func (s *Service) finalSummary(doc *state.Document, review *apiv1.NextAnswerResult) string {
	approved, feedback := interpretReview(review)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Brainstorm %s complete. All %d branches are done.\n\n", doc.SessionID, len(doc.Branches))
	sb.WriteString(findingsText(doc))
	sb.WriteString("\n\n")
	switch {
	case review == nil:
		sb.WriteString("Plan review did not complete; findings are unreviewed.")
	case approved:
		sb.WriteString("Plan approved by the participant.")
	default:
		sb.WriteString("Plan not approved by the participant.")
	}
	if feedback != "" {
		fmt.Fprintf(&sb, "\nFeedback: %s", feedback)
	}
	fmt.Fprintf(&sb, "\nCall end_brainstorm with session_id=%s to archive and clean up.", doc.SessionID)
	return sb.String()
}

func findingsText(doc *state.Document) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Findings for %q:\n", doc.Request)
	for _, b := range doc.OrderedBranches() {
		finding := b.Finding
		if finding == "" {
			finding = "(no finding)"
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", b.ID, b.Scope, finding)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// cloneConfig copies the top level of a question config so per-branch edits
// do not leak into the caller's request.
func cloneConfig(config map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(config)+1)
	for k, v := range config {
		out[k] = v
	}
	return out
}

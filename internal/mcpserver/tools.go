package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/archive"
	"github.com/ideate/ideate/internal/brainstorm"
	"github.com/ideate/ideate/internal/common/logger"
	"github.com/ideate/ideate/internal/session"
	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

// Services are the in-process backends the tools call into. Archive may be
// nil, which disables brainstorm_history.
type Services struct {
	Brainstorms *brainstorm.Service
	Sessions    *session.Store
	Archive     *archive.Store
}

func registerTools(s *server.MCPServer, svc Services, log *logger.Logger) {
	// Brainstorm tools
	s.AddTool(
		mcp.NewTool("create_brainstorm",
			mcp.WithDescription(
				"Start a brainstorm with the user: several exploration branches are opened in the user's browser, "+
					"each seeded with one question. Use 2-4 branches, each covering one independent aspect of the request. "+
					"Returns the session_id and browser_session_id needed by the other brainstorm tools.",
			),
			mcp.WithString("request",
				mcp.Required(),
				mcp.Description("The original request or problem statement being explored"),
			),
			mcp.WithArray("branches",
				mcp.Required(),
				mcp.Description("Exploration branches. Each needs: id (short slug), scope (one line on what the branch explores), "+
					"and initial_question with type (e.g. ask_text, pick_one, confirm) and its config object (question text, options, ...)"),
			),
		),
		createBrainstormHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("await_brainstorm_complete",
			mcp.WithDescription(
				"Block while the user answers brainstorm questions, routing each answer to its branch and pushing "+
					"follow-ups until every branch concludes with a finding. Returns either an in-progress summary "+
					"(call again to resume) or the final findings after the plan review.",
			),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The brainstorm session ID from create_brainstorm"),
			),
			mcp.WithString("browser_session_id",
				mcp.Description("The browser session ID from create_brainstorm (optional, defaults to the one on record)"),
			),
		),
		awaitBrainstormHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("get_session_summary",
			mcp.WithDescription("Summarize a brainstorm: every branch with its questions, answers, and findings so far."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The brainstorm session ID"),
			),
		),
		sessionSummaryHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("end_brainstorm",
			mcp.WithDescription(
				"Finish a brainstorm: close the browser session, archive the outcome, and delete the working state. "+
					"Returns the collected findings. Call after await_brainstorm_complete reports completion.",
			),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The brainstorm session ID"),
			),
		),
		endBrainstormHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("create_brainstorm_from_template",
			mcp.WithDescription("Start a brainstorm from a named YAML template in the templates directory."),
			mcp.WithString("template",
				mcp.Required(),
				mcp.Description("The template name (file name without extension)"),
			),
			mcp.WithString("request",
				mcp.Description("Replacement request text; the template's own request is used when omitted"),
			),
		),
		createFromTemplateHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("brainstorm_history",
			mcp.WithDescription("List archived brainstorms, newest first, with aggregate stats. Optionally filter by request text."),
			mcp.WithString("query",
				mcp.Description("Filter: only brainstorms whose request contains this text"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum records to return (default 20)"),
			),
		),
		historyHandler(svc, log),
	)

	// Session tools
	s.AddTool(
		mcp.NewTool("start_session",
			mcp.WithDescription(
				"Open a standalone interactive session in the user's browser, outside any brainstorm. "+
					"Questions are then pushed with push_question and consumed with get_answer or get_next_answer.",
			),
			mcp.WithString("title",
				mcp.Description("Optional session label shown in the browser"),
			),
			mcp.WithArray("seed_questions",
				mcp.Description("Optional questions to insert immediately, each with type and config"),
			),
		),
		startSessionHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("end_session",
			mcp.WithDescription("End an interactive session and shut down its server. Pending questions are cancelled."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to end"),
			),
		),
		endSessionHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("push_question",
			mcp.WithDescription(
				"Push one question into a session for the user to answer in the browser. "+
					"Types: pick_one, pick_many, confirm, ask_text, ask_image, ask_file, ask_code, show_options, "+
					"show_diff, show_plan, review_section, rank, rate, thumbs, emoji_react, slider. "+
					"Returns the question_id for get_answer.",
			),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to push into"),
			),
			mcp.WithString("type",
				mcp.Required(),
				mcp.Description("The question type"),
			),
			mcp.WithObject("config",
				mcp.Description("Type-specific configuration (question text, options, sections, ...)"),
			),
		),
		pushQuestionHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("get_answer",
			mcp.WithDescription("Get the answer to one question, optionally blocking until the user responds."),
			mcp.WithString("question_id",
				mcp.Required(),
				mcp.Description("The question ID from push_question"),
			),
			mcp.WithBoolean("block",
				mcp.Description("Wait for the answer instead of returning the current status (default true)"),
			),
			mcp.WithNumber("timeout_ms",
				mcp.Description("Blocking wait budget in milliseconds (default 300000)"),
			),
		),
		getAnswerHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("get_next_answer",
			mcp.WithDescription(
				"Get the next unretrieved answer from any question in a session, optionally blocking. "+
					"Each answer is delivered at most once.",
			),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to consume answers from"),
			),
			mcp.WithBoolean("block",
				mcp.Description("Wait for an answer instead of returning immediately (default true)"),
			),
			mcp.WithNumber("timeout_ms",
				mcp.Description("Blocking wait budget in milliseconds (default 300000)"),
			),
		),
		getNextAnswerHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("cancel_question",
			mcp.WithDescription("Cancel a pending question. The browser dismisses it and any blocked waiter returns cancelled."),
			mcp.WithString("question_id",
				mcp.Required(),
				mcp.Description("The question ID to cancel"),
			),
		),
		cancelQuestionHandler(svc, log),
	)

	s.AddTool(
		mcp.NewTool("list_questions",
			mcp.WithDescription("List a session's questions with their statuses, in insertion order."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to list"),
			),
		),
		listQuestionsHandler(svc, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 13))
}

func createBrainstormHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		request, err := req.RequireString("request")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		branches, err := parseBranches(req.GetArguments()["branches"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		summary, err := svc.Brainstorms.CreateBrainstorm(ctx, apiv1.CreateBrainstormRequest{
			Request:  request,
			Branches: branches,
		})
		if err != nil {
			log.Error("failed to create brainstorm", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create brainstorm: %v", err)), nil
		}
		return mcp.NewToolResultText(summary), nil
	}
}

func awaitBrainstormHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		browserSessionID := req.GetString("browser_session_id", "")

		summary, err := svc.Brainstorms.AwaitComplete(ctx, sessionID, browserSessionID)
		if errors.Is(err, brainstorm.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("No brainstorm with session_id %s", sessionID)), nil
		}
		if err != nil {
			log.Error("failed to await brainstorm", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to await brainstorm: %v", err)), nil
		}
		return mcp.NewToolResultText(summary), nil
	}
}

func sessionSummaryHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		summary, err := svc.Brainstorms.SessionSummary(ctx, sessionID)
		if errors.Is(err, brainstorm.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("No brainstorm with session_id %s", sessionID)), nil
		}
		if err != nil {
			log.Error("failed to summarize brainstorm", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to summarize brainstorm: %v", err)), nil
		}
		return mcp.NewToolResultText(summary), nil
	}
}

func endBrainstormHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		findings, err := svc.Brainstorms.EndBrainstorm(ctx, sessionID)
		if errors.Is(err, brainstorm.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("No brainstorm with session_id %s", sessionID)), nil
		}
		if err != nil {
			log.Error("failed to end brainstorm", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to end brainstorm: %v", err)), nil
		}
		return mcp.NewToolResultText(findings), nil
	}
}

func createFromTemplateHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("template")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		override := req.GetString("request", "")

		summary, err := svc.Brainstorms.CreateFromTemplate(ctx, name, override)
		if errors.Is(err, brainstorm.ErrTemplateNotFound) {
			available, _ := svc.Brainstorms.Templates()
			return mcp.NewToolResultError(fmt.Sprintf("No template named %q. Available: %v", name, available)), nil
		}
		if err != nil {
			log.Error("failed to create brainstorm from template", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create brainstorm from template: %v", err)), nil
		}
		return mcp.NewToolResultText(summary), nil
	}
}

func historyHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if svc.Archive == nil {
			return mcp.NewToolResultError("Brainstorm history is not enabled (no archive database configured)"), nil
		}

		query := req.GetString("query", "")
		limit := int(argInt64(req.GetArguments(), "limit", 0))

		records, err := svc.Archive.Search(ctx, query, limit)
		if err != nil {
			log.Error("failed to query brainstorm history", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to query history: %v", err)), nil
		}
		stats, err := svc.Archive.Stats(ctx)
		if err != nil {
			log.Error("failed to compute history stats", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to compute stats: %v", err)), nil
		}

		formatted, _ := json.MarshalIndent(records, "", "  ")
		header := fmt.Sprintf("%d archived brainstorms, %d approved, average duration %.0fms.\n",
			stats.Total, stats.Approved, stats.AvgDurationMs)
		return mcp.NewToolResultText(header + string(formatted)), nil
	}
}

func startSessionHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title := req.GetString("title", "")

		seeds, err := parseSeeds(req.GetArguments()["seed_questions"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := svc.Sessions.StartSession(ctx, title, seeds)
		if err != nil {
			log.Error("failed to start session", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start session: %v", err)), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func endSessionHandler(svc Services, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if svc.Sessions.EndSession(ctx, sessionID) {
			return mcp.NewToolResultText(fmt.Sprintf("Session %s ended.", sessionID)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Session %s was not found or already ended.", sessionID)), nil
	}
}

func pushQuestionHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		qtype, err := req.RequireString("type")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !apiv1.ValidQuestionType(qtype) {
			return mcp.NewToolResultError(fmt.Sprintf("Unknown question type %q", qtype)), nil
		}

		config, err := parseConfig(req.GetArguments()["config"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		questionID, err := svc.Sessions.PushQuestion(ctx, sessionID, apiv1.QuestionType(qtype), config)
		if errors.Is(err, session.ErrSessionNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("No session with id %s", sessionID)), nil
		}
		if err != nil {
			log.Error("failed to push question", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to push question: %v", err)), nil
		}

		formatted, _ := json.MarshalIndent(map[string]string{"question_id": questionID}, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func getAnswerHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		questionID, err := req.RequireString("question_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := req.GetArguments()

		result, err := svc.Sessions.GetAnswer(ctx, apiv1.GetAnswerRequest{
			QuestionID: questionID,
			Block:      argBool(args, "block", true),
			TimeoutMs:  argInt64(args, "timeout_ms", 0),
		})
		if err != nil {
			log.Error("failed to get answer", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get answer: %v", err)), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func getNextAnswerHandler(svc Services, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := req.GetArguments()

		result, err := svc.Sessions.GetNextAnswer(ctx, apiv1.GetNextAnswerRequest{
			SessionID: sessionID,
			Block:     argBool(args, "block", true),
			TimeoutMs: argInt64(args, "timeout_ms", 0),
		})
		if err != nil {
			log.Error("failed to get next answer", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get next answer: %v", err)), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func cancelQuestionHandler(svc Services, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		questionID, err := req.RequireString("question_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if svc.Sessions.CancelQuestion(ctx, questionID) {
			return mcp.NewToolResultText(fmt.Sprintf("Question %s cancelled.", questionID)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Question %s was not pending; nothing to cancel.", questionID)), nil
	}
}

func listQuestionsHandler(svc Services, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		questions := svc.Sessions.ListQuestions(sessionID)
		formatted, _ := json.MarshalIndent(questions, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

// parseBranches decodes and validates the branches argument of
// create_brainstorm.
func parseBranches(raw interface{}) ([]apiv1.BranchSpec, error) {
	if raw == nil {
		return nil, fmt.Errorf("branches is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid branches: %v", err)
	}
	var branches []apiv1.BranchSpec
	if err := json.Unmarshal(data, &branches); err != nil {
		return nil, fmt.Errorf("invalid branches: %v", err)
	}
	if len(branches) == 0 {
		return nil, fmt.Errorf("at least one branch is required")
	}

	seen := make(map[string]bool, len(branches))
	for i, b := range branches {
		if b.ID == "" || b.Scope == "" {
			return nil, fmt.Errorf("branch %d requires id and scope", i)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("duplicate branch id %q", b.ID)
		}
		seen[b.ID] = true
		if !apiv1.ValidQuestionType(string(b.InitialQuestion.Type)) {
			return nil, fmt.Errorf("branch %q has unknown question type %q", b.ID, b.InitialQuestion.Type)
		}
	}
	return branches, nil
}

// parseSeeds decodes the optional seed_questions argument of start_session.
func parseSeeds(raw interface{}) ([]apiv1.SeedQuestion, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid seed_questions: %v", err)
	}
	var seeds []apiv1.SeedQuestion
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("invalid seed_questions: %v", err)
	}
	for i, seed := range seeds {
		if !apiv1.ValidQuestionType(string(seed.Type)) {
			return nil, fmt.Errorf("seed question %d has unknown type %q", i, seed.Type)
		}
	}
	return seeds, nil
}

// parseConfig coerces the optional config argument into a map.
func parseConfig(raw interface{}) (map[string]interface{}, error) {
	if raw == nil {
		return map[string]interface{}{}, nil
	}
	config, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("config must be an object")
	}
	return config, nil
}

func argBool(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func argInt64(args map[string]interface{}, key string, def int64) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return def
	}
}

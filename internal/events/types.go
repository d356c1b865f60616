// Package events provides event types and utilities for the ideate event system.
package events

// Event types for browser sessions
const (
	SessionStarted = "session.started"
	SessionEnded   = "session.ended"
)

// Event types for questions
const (
	QuestionPushed    = "question.pushed"
	QuestionAnswered  = "question.answered"
	QuestionCancelled = "question.cancelled"
)

// Event types for brainstorms
const (
	BrainstormCreated   = "brainstorm.created"
	BrainstormCompleted = "brainstorm.completed"
	BranchCompleted     = "branch.completed"
)

// BuildSessionSubject creates a session lifecycle subject for a specific session
func BuildSessionSubject(eventType, sessionID string) string {
	return eventType + "." + sessionID
}

// BuildSessionWildcardSubject creates a wildcard subscription for one session event type
func BuildSessionWildcardSubject(eventType string) string {
	return eventType + ".*"
}

// BuildQuestionSubject creates a question event subject for a specific question
func BuildQuestionSubject(eventType, questionID string) string {
	return eventType + "." + questionID
}

// BuildQuestionWildcardSubject creates a wildcard subscription for one question event type
func BuildQuestionWildcardSubject(eventType string) string {
	return eventType + ".*"
}

// BuildBrainstormSubject creates a brainstorm event subject for a specific brainstorm
func BuildBrainstormSubject(eventType, brainstormID string) string {
	return eventType + "." + brainstormID
}

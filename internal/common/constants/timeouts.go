// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// AnswerWaitTimeout is the default maximum time a blocking answer
	// retrieval waits for the participant before giving up.
	AnswerWaitTimeout = 5 * time.Minute

	// PlanReviewTimeout is the maximum time to wait for the participant
	// to review the assembled plan at the end of a brainstorm.
	PlanReviewTimeout = 10 * time.Minute

	// SessionShutdownTimeout is the maximum time to wait for a session
	// HTTP server to drain on teardown.
	SessionShutdownTimeout = 5 * time.Second
)

// MaxAwaitIterations caps the orchestrator answer loop so an abandoned
// browser cannot spin the service forever.
const MaxAwaitIterations = 50

package v1

// StartSessionResult reports a freshly started browser session.
type StartSessionResult struct {
	SessionID   string   `json:"session_id"`
	URL         string   `json:"url"`
	QuestionIDs []string `json:"question_ids,omitempty"`
}

// GetAnswerRequest asks for the answer to one question.
type GetAnswerRequest struct {
	QuestionID string `json:"question_id"`
	Block      bool   `json:"block,omitempty"`

	// TimeoutMs bounds a blocking wait. Zero selects the default.
	TimeoutMs int64 `json:"timeout,omitempty"`
}

// GetAnswerResult is the outcome of a get_answer call.
// Status is one of: answered, pending, cancelled, timeout.
type GetAnswerResult struct {
	Completed bool                   `json:"completed"`
	Status    QuestionStatus         `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
	Response  map[string]interface{} `json:"response,omitempty"`
}

// GetNextAnswerRequest asks for the next unretrieved answer in a session.
type GetNextAnswerRequest struct {
	SessionID string `json:"session_id"`
	Block     bool   `json:"block,omitempty"`
	TimeoutMs int64  `json:"timeout,omitempty"`
}

// NextAnswerResult is the outcome of a get_next_answer call.
// Status is one of: answered, pending, none_pending, timeout.
type NextAnswerResult struct {
	Completed    bool                   `json:"completed"`
	QuestionID   string                 `json:"question_id,omitempty"`
	QuestionType QuestionType           `json:"question_type,omitempty"`
	Status       string                 `json:"status"`
	Response     map[string]interface{} `json:"response,omitempty"`
}

// Next-answer statuses that are not plain question statuses.
const (
	NextAnswerStatusNonePending = "none_pending"
	NextAnswerStatusPending     = "pending"
	NextAnswerStatusAnswered    = "answered"
	NextAnswerStatusTimeout     = "timeout"
)

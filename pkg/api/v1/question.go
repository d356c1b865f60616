package v1

import "time"

// QuestionType identifies one of the fixed interaction types the browser
// client knows how to render.
type QuestionType string

const (
	QuestionTypePickOne       QuestionType = "pick_one"
	QuestionTypePickMany      QuestionType = "pick_many"
	QuestionTypeConfirm       QuestionType = "confirm"
	QuestionTypeAskText       QuestionType = "ask_text"
	QuestionTypeAskImage      QuestionType = "ask_image"
	QuestionTypeAskFile       QuestionType = "ask_file"
	QuestionTypeAskCode       QuestionType = "ask_code"
	QuestionTypeShowOptions   QuestionType = "show_options"
	QuestionTypeShowDiff      QuestionType = "show_diff"
	QuestionTypeShowPlan      QuestionType = "show_plan"
	QuestionTypeReviewSection QuestionType = "review_section"
	QuestionTypeRank          QuestionType = "rank"
	QuestionTypeRate          QuestionType = "rate"
	QuestionTypeThumbs        QuestionType = "thumbs"
	QuestionTypeEmojiReact    QuestionType = "emoji_react"
	QuestionTypeSlider        QuestionType = "slider"
)

var questionTypes = map[QuestionType]bool{
	QuestionTypePickOne:       true,
	QuestionTypePickMany:      true,
	QuestionTypeConfirm:       true,
	QuestionTypeAskText:       true,
	QuestionTypeAskImage:      true,
	QuestionTypeAskFile:       true,
	QuestionTypeAskCode:       true,
	QuestionTypeShowOptions:   true,
	QuestionTypeShowDiff:      true,
	QuestionTypeShowPlan:      true,
	QuestionTypeReviewSection: true,
	QuestionTypeRank:          true,
	QuestionTypeRate:          true,
	QuestionTypeThumbs:        true,
	QuestionTypeEmojiReact:    true,
	QuestionTypeSlider:        true,
}

// ValidQuestionType reports whether s names a known question type.
func ValidQuestionType(s string) bool {
	return questionTypes[QuestionType(s)]
}

// QuestionStatus represents the lifecycle state of a question.
type QuestionStatus string

const (
	QuestionStatusPending   QuestionStatus = "pending"
	QuestionStatusAnswered  QuestionStatus = "answered"
	QuestionStatusCancelled QuestionStatus = "cancelled"
	QuestionStatusTimeout   QuestionStatus = "timeout"
)

// Terminal reports whether the status is final.
func (s QuestionStatus) Terminal() bool {
	return s == QuestionStatusAnswered || s == QuestionStatusCancelled || s == QuestionStatusTimeout
}

// SeedQuestion describes a question to insert when a session starts.
type SeedQuestion struct {
	Type   QuestionType           `json:"type"`
	Config map[string]interface{} `json:"config"`
}

// QuestionSummary is the projection returned by question listings.
type QuestionSummary struct {
	ID         string         `json:"id"`
	Type       QuestionType   `json:"type"`
	Status     QuestionStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	AnsweredAt *time.Time     `json:"answered_at,omitempty"`
}

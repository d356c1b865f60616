package state

import (
	"time"

	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

// BranchQuestion is one question asked within a branch, together with its
// answer once one is recorded.
type BranchQuestion struct {
	ID         string                 `json:"id"`
	Type       apiv1.QuestionType     `json:"type"`
	Text       string                 `json:"text,omitempty"`
	Config     map[string]interface{} `json:"config,omitempty"`
	Answer     map[string]interface{} `json:"answer,omitempty"`
	AnsweredAt *time.Time             `json:"answered_at,omitempty"`
}

// Answered reports whether an answer has been recorded.
func (q *BranchQuestion) Answered() bool {
	return q.Answer != nil
}

// Branch is one strand of exploration: a scope, its Q&A history, and the
// finding that concludes it. A done branch is never mutated again.
type Branch struct {
	ID        string             `json:"id"`
	Scope     string             `json:"scope"`
	Status    apiv1.BranchStatus `json:"status"`
	Questions []BranchQuestion   `json:"questions"`
	Finding   string             `json:"finding,omitempty"`
}

// AnsweredCount returns how many of the branch's questions carry answers.
func (b *Branch) AnsweredCount() int {
	n := 0
	for i := range b.Questions {
		if b.Questions[i].Answered() {
			n++
		}
	}
	return n
}

// HasUnanswered reports whether any question still waits for an answer.
func (b *Branch) HasUnanswered() bool {
	for i := range b.Questions {
		if !b.Questions[i].Answered() {
			return true
		}
	}
	return false
}

// Document is the durable record of one brainstorm: the original request,
// the live browser session it is bound to, and the branch graph.
// BranchOrder fixes iteration order and is always a permutation of the
// Branches keys.
type Document struct {
	SessionID        string             `json:"session_id"`
	Request          string             `json:"request"`
	BrowserSessionID string             `json:"browser_session_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	Branches         map[string]*Branch `json:"branches"`
	BranchOrder      []string           `json:"branch_order"`
}

// OrderedBranches returns the branches in BranchOrder.
func (d *Document) OrderedBranches() []*Branch {
	out := make([]*Branch, 0, len(d.BranchOrder))
	for _, id := range d.BranchOrder {
		if b, ok := d.Branches[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// FindBranchByQuestion returns the branch holding the given question id,
// or nil when no branch does.
func (d *Document) FindBranchByQuestion(questionID string) *Branch {
	for _, id := range d.BranchOrder {
		b, ok := d.Branches[id]
		if !ok {
			continue
		}
		for i := range b.Questions {
			if b.Questions[i].ID == questionID {
				return b
			}
		}
	}
	return nil
}

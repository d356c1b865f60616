// Package probe decides how a brainstorm branch advances: given the
// branch's Q&A history it returns either a follow-up question or a done
// verdict carrying the branch's finding.
//
// The Engine here is rules-based and fully deterministic. An LLM-backed
// probe can stand in anywhere the Engine is used as long as it produces the
// same Verdict shape.
package probe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ideate/ideate/internal/common/stringutil"
	"github.com/ideate/ideate/internal/state"
	apiv1 "github.com/ideate/ideate/pkg/api/v1"
)

// FollowUp is the next question a branch should ask.
type FollowUp struct {
	Type   apiv1.QuestionType
	Config map[string]interface{}
}

// Verdict is the probe's decision for one branch. Done carries the finding;
// otherwise Question may name a follow-up, or be nil when the branch still
// waits on an unanswered question.
type Verdict struct {
	Done     bool
	Finding  string
	Question *FollowUp
}

// Engine evaluates branches by fixed rules:
//
//  1. any unanswered question: wait (not done, no follow-up)
//  2. three or more answers: done
//  3. last answer was confirm yes: done
//  4. last answer was confirm no: ask what needs more discussion
//  5. otherwise a depth-based follow-up (priority pick, then a confirm),
//     and done once those are exhausted
type Engine struct{}

// NewEngine returns the rules engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate applies the rules to a snapshot of the branch.
func (e *Engine) Evaluate(branch *state.Branch) (*Verdict, error) {
	if branch == nil {
		return nil, fmt.Errorf("cannot evaluate nil branch")
	}

	if branch.HasUnanswered() {
		return &Verdict{Done: false}, nil
	}

	answered := branch.AnsweredCount()
	if answered >= 3 {
		return &Verdict{Done: true, Finding: Synthesize(branch)}, nil
	}

	if last := lastAnswered(branch); last != nil && last.Type == apiv1.QuestionTypeConfirm {
		choice, _ := last.Answer["choice"].(string)
		switch choice {
		case "yes":
			return &Verdict{Done: true, Finding: Synthesize(branch)}, nil
		case "no":
			return &Verdict{Done: false, Question: discussFollowUp(branch.Scope)}, nil
		}
	}

	switch answered {
	case 1:
		return &Verdict{Done: false, Question: priorityFollowUp(branch.Scope)}, nil
	case 2:
		return &Verdict{Done: false, Question: confirmFollowUp(branch.Scope)}, nil
	default:
		return &Verdict{Done: true, Finding: Synthesize(branch)}, nil
	}
}

func priorityFollowUp(scope string) *FollowUp {
	return &FollowUp{
		Type: apiv1.QuestionTypePickOne,
		Config: map[string]interface{}{
			"question": fmt.Sprintf("What should '%s' optimize for?", scope),
			"options": []map[string]interface{}{
				{"id": "momentum", "label": "Momentum: the quickest workable path"},
				{"id": "simplicity", "label": "Simplicity: the fewest moving parts"},
				{"id": "flexibility", "label": "Flexibility: room to change later"},
			},
		},
	}
}

func confirmFollowUp(scope string) *FollowUp {
	return &FollowUp{
		Type: apiv1.QuestionTypeConfirm,
		Config: map[string]interface{}{
			"question": fmt.Sprintf("Is the direction clear for '%s'?", scope),
		},
	}
}

func discussFollowUp(scope string) *FollowUp {
	return &FollowUp{
		Type: apiv1.QuestionTypeAskText,
		Config: map[string]interface{}{
			"question": fmt.Sprintf("What aspect of '%s' needs more discussion?", scope),
		},
	}
}

func lastAnswered(branch *state.Branch) *state.BranchQuestion {
	for i := len(branch.Questions) - 1; i >= 0; i-- {
		if branch.Questions[i].Answered() {
			return &branch.Questions[i]
		}
	}
	return nil
}

// Synthesize condenses a branch's answers into its finding: the first
// answer's summary is the headline, the remaining summaries (minus bare
// affirmations) follow as qualifiers.
func Synthesize(branch *state.Branch) string {
	var summaries []string
	for i := range branch.Questions {
		q := &branch.Questions[i]
		if q.Answered() {
			summaries = append(summaries, SummarizeAnswer(q.Answer))
		}
	}
	if len(summaries) == 0 {
		return "unspecified"
	}

	headline := summaries[0]
	var qualifiers []string
	for _, s := range summaries[1:] {
		if isAffirmation(s) {
			continue
		}
		qualifiers = append(qualifiers, s)
	}
	if len(qualifiers) == 0 {
		return headline
	}
	return fmt.Sprintf("%s (%s)", headline, strings.Join(qualifiers, "; "))
}

// SummarizeAnswer derives a short human summary from an answer payload by
// probing well-known fields, then falling back to the first non-nil value
// in key order so the result is deterministic.
func SummarizeAnswer(answer map[string]interface{}) string {
	if len(answer) == 0 {
		return "unspecified"
	}

	if v, ok := answer["selected"]; ok {
		switch sel := v.(type) {
		case []interface{}:
			parts := make([]string, 0, len(sel))
			for _, item := range sel {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		case []string:
			if len(sel) > 0 {
				return strings.Join(sel, ", ")
			}
		case string:
			if sel != "" {
				return sel
			}
		}
	}
	if v, ok := answer["choice"].(string); ok && v != "" {
		return v
	}
	if v, ok := answer["text"].(string); ok && v != "" {
		return stringutil.TruncateStringWithEllipsis(v, 100)
	}
	if v, ok := answer["value"]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}

	keys := make([]string, 0, len(answer))
	for k := range answer {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if answer[k] != nil {
			return fmt.Sprintf("%v", answer[k])
		}
	}
	return "unspecified"
}

var affirmations = map[string]bool{
	"yes":              true,
	"ok":               true,
	"okay":             true,
	"sure":             true,
	"yep":              true,
	"yup":              true,
	"confirmed":        true,
	"approve":          true,
	"approved":         true,
	"lgtm":             true,
	"sounds good":      true,
	"ready to proceed": true,
}

func isAffirmation(s string) bool {
	return affirmations[strings.ToLower(strings.TrimSpace(s))]
}

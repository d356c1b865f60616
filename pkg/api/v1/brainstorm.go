package v1

import "time"

// BranchStatus represents the exploration state of a brainstorm branch.
type BranchStatus string

const (
	BranchStatusExploring BranchStatus = "exploring"
	BranchStatusDone      BranchStatus = "done"
)

// BranchSpec declares one exploration branch when creating a brainstorm.
type BranchSpec struct {
	ID              string       `json:"id"`
	Scope           string       `json:"scope"`
	InitialQuestion SeedQuestion `json:"initial_question"`
}

// CreateBrainstormRequest starts a multi-branch brainstorm.
type CreateBrainstormRequest struct {
	Request  string       `json:"request"`
	Branches []BranchSpec `json:"branches"`
}

// PlanSection is one reviewable section of the final brainstorm plan.
type PlanSection struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// BrainstormRecord is an archived, completed brainstorm.
type BrainstormRecord struct {
	ID          string    `json:"id"`
	Request     string    `json:"request"`
	BranchCount int       `json:"branch_count"`
	Findings    string    `json:"findings"`
	Approved    bool      `json:"approved"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}

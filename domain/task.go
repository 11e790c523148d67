package domain

import "strings"

// Priority levels accepted on a task.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// PriorityRank returns the sort rank of a priority value. Unknown or
// missing priorities rank below low.
func PriorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Task is a single task record in the read model. Owner is carried in the
// partition key at the storage layer and never changes after creation.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	DueDate     string   `json:"dueDate,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Completed   bool     `json:"completed"`
	Owner       string   `json:"-"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// TaskDraft carries the user-supplied fields of a task being created.
type TaskDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// TaskUpdate is a partial task mutation. Nil fields are left unchanged.
type TaskUpdate struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Priority    *string   `json:"priority,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	Labels      *[]string `json:"labels,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
}

// Empty reports whether the update carries no fields at all.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Category == nil &&
		u.Priority == nil && u.DueDate == nil && u.Labels == nil && u.Completed == nil
}

// TaskPatch identifies a task and the cascade fields to merge into it.
// Used by batched category and label rewrites.
type TaskPatch struct {
	ID       string
	Category *string
	Labels   *[]string
}

// NormalizeLabels trims labels and removes duplicates while preserving the
// first-seen order.
func NormalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// HasLabel reports whether the task carries the given label.
func (t Task) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if l == name {
			return true
		}
	}
	return false
}

package domain

// Sort keys accepted in a selection.
const (
	SortCreated  = "created"
	SortDueDate  = "dueDate"
	SortPriority = "priority"
)

// PriorityFilterAll passes every priority through.
const PriorityFilterAll = "all"

// Selection is the session-local view state: which category is selected,
// the free-text search query, the priority filter, and the sort key. It is
// never persisted.
type Selection struct {
	Category string `json:"category"`
	Search   string `json:"search"`
	Priority string `json:"priority"`
	SortBy   string `json:"sortBy"`
}

// DefaultSelection returns the state a fresh session starts with.
func DefaultSelection() Selection {
	return Selection{
		Category: CategoryAll,
		Priority: PriorityFilterAll,
		SortBy:   SortCreated,
	}
}

// Normalize replaces unknown filter and sort values with their defaults so
// a malformed selection degrades instead of hiding everything.
func (s Selection) Normalize() Selection {
	if s.Category == "" {
		s.Category = CategoryAll
	}
	switch s.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		s.Priority = PriorityFilterAll
	}
	switch s.SortBy {
	case SortCreated, SortDueDate, SortPriority:
	default:
		s.SortBy = SortCreated
	}
	return s
}

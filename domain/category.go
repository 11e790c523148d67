package domain

// Category is a user-defined task grouping. Name is unique per owner,
// compared case-insensitively at creation time.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Owner     string `json:"-"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Built-in pseudo-category identifiers. These are computed view filters,
// not persisted records.
const (
	CategoryAll       = "all"
	CategoryToday     = "today"
	CategoryUpcoming  = "upcoming"
	CategoryCompleted = "completed"
)

// BuiltinCategory is a fixed, non-persisted category shown in every sidebar.
type BuiltinCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BuiltinCategories lists the fixed pseudo-categories in display order.
func BuiltinCategories() []BuiltinCategory {
	return []BuiltinCategory{
		{ID: CategoryAll, Name: "All Tasks"},
		{ID: CategoryToday, Name: "Today"},
		{ID: CategoryUpcoming, Name: "Upcoming"},
		{ID: CategoryCompleted, Name: "Completed"},
	}
}

// IsBuiltinCategory reports whether id names one of the fixed
// pseudo-categories.
func IsBuiltinCategory(id string) bool {
	switch id {
	case CategoryAll, CategoryToday, CategoryUpcoming, CategoryCompleted:
		return true
	}
	return false
}

package domain

// Collections whose changes are announced on the change feed.
const (
	CollectionTasks      = "tasks"
	CollectionCategories = "categories"
	CollectionUsers      = "users"
)

// ChangeEvent is enqueued after every committed mutation. The change pump
// turns it into a pub/sub notification so live sessions re-fetch their
// snapshots. It carries no record data: consumers always replay the full
// snapshot.
type ChangeEvent struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	Collection string `json:"collection"`
	Time       int64  `json:"time"`
}

// Valid reports whether the event identifies a user and a known collection.
func (e ChangeEvent) Valid() bool {
	if e.UserID == "" {
		return false
	}
	switch e.Collection {
	case CollectionTasks, CollectionCategories, CollectionUsers:
		return true
	}
	return false
}

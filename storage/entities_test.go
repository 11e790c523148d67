package storage

import (
	"encoding/json"
	"reflect"
	"testing"

	"taskmaster/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	draft := domain.TaskDraft{
		Title:       "Buy milk",
		Description: "2 liters",
		Category:    "Errands",
		Priority:    domain.PriorityHigh,
		DueDate:     "2025-01-01",
		Labels:      []string{"shopping", "urgent"},
	}
	ent := taskEntityFrom("u1", "t1", draft, 1234)

	data, err := json.Marshal(ent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded taskEntity
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	task := decoded.toTask()
	if task.ID != "t1" || task.Owner != "u1" || task.Title != "Buy milk" {
		t.Fatalf("unexpected task: %#v", task)
	}
	if task.Completed {
		t.Fatalf("new task must not be completed")
	}
	if task.CreatedAt != 1234 || task.UpdatedAt != 1234 {
		t.Fatalf("unexpected timestamps: %#v", task)
	}
	if !reflect.DeepEqual(task.Labels, []string{"shopping", "urgent"}) {
		t.Fatalf("unexpected labels: %#v", task.Labels)
	}
}

func TestTaskEntityFromDeduplicatesLabels(t *testing.T) {
	draft := domain.TaskDraft{Title: "x", Labels: []string{"a", "b", "a", " ", "b"}}
	ent := taskEntityFrom("u1", "t1", draft, 1)
	if got := decodeLabels(ent.Labels); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected labels: %#v", got)
	}
}

func TestTaskUpdateEntityCarriesOnlySetFields(t *testing.T) {
	title := "New title"
	done := true
	ent := taskUpdateEntityFrom("u1", "t1", domain.TaskUpdate{Title: &title, Completed: &done}, 99)

	want := map[string]any{
		"PartitionKey": "u1",
		"RowKey":       "t1",
		"UpdatedAt":    int64(99),
		"Title":        "New title",
		"Completed":    true,
	}
	if !reflect.DeepEqual(ent, want) {
		t.Fatalf("unexpected merge payload: %#v", ent)
	}
}

func TestTaskPatchEntityClearsCategory(t *testing.T) {
	empty := ""
	ent := taskPatchEntityFrom("u1", domain.TaskPatch{ID: "t1", Category: &empty}, 5)
	if ent["Category"] != "" {
		t.Fatalf("expected cleared category, got %#v", ent["Category"])
	}
	if _, ok := ent["Labels"]; ok {
		t.Fatalf("labels must not appear when not patched: %#v", ent)
	}
}

func TestDecodeLabelsDegradesOnGarbage(t *testing.T) {
	if got := decodeLabels("not json"); got != nil {
		t.Fatalf("expected nil, got %#v", got)
	}
	if got := decodeLabels(""); got != nil {
		t.Fatalf("expected nil for empty, got %#v", got)
	}
}

func TestUserEntityRoundTrip(t *testing.T) {
	p := domain.UserProfile{
		ID:           "u1",
		Email:        "ada@example.com",
		DisplayName:  "Ada",
		PasswordHash: "$2a$10$hash",
		Settings:     domain.Settings{Theme: "dark", Notifications: true},
		CreatedAt:    1,
		LastLogin:    2,
		UpdatedAt:    3,
	}
	got := userEntityFrom(p).toProfile()
	if !reflect.DeepEqual(got, p) {
		t.Fatalf("profile round trip mismatch: %#v", got)
	}
}

func TestOwnerFilterEscapesQuotes(t *testing.T) {
	if got := ownerFilter("o'brien"); got != "PartitionKey eq 'o''brien'" {
		t.Fatalf("unexpected filter: %s", got)
	}
}

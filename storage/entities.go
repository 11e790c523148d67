package storage

import (
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskmaster/domain"
)

// Table entity shapes. Labels are stored as a JSON-encoded array because
// table properties are scalar.

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Category    string `json:"Category"`
	Priority    string `json:"Priority"`
	DueDate     string `json:"DueDate"`
	Labels      string `json:"Labels"`
	Completed   bool   `json:"Completed"`
	CreatedAt   int64  `json:"CreatedAt"`
	UpdatedAt   int64  `json:"UpdatedAt"`
}

func taskEntityFrom(owner, id string, draft domain.TaskDraft, now int64) taskEntity {
	return taskEntity{
		Entity:      aztables.Entity{PartitionKey: owner, RowKey: id},
		Title:       draft.Title,
		Description: draft.Description,
		Category:    draft.Category,
		Priority:    draft.Priority,
		DueDate:     draft.DueDate,
		Labels:      encodeLabels(draft.Labels),
		Completed:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (e taskEntity) toTask() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Category:    e.Category,
		Priority:    e.Priority,
		DueDate:     e.DueDate,
		Labels:      decodeLabels(e.Labels),
		Completed:   e.Completed,
		Owner:       e.PartitionKey,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// taskUpdateEntityFrom builds a merge payload carrying only the fields the
// update sets, so untouched properties survive the merge.
func taskUpdateEntityFrom(owner, id string, upd domain.TaskUpdate, now int64) map[string]any {
	ent := map[string]any{
		"PartitionKey": owner,
		"RowKey":       id,
		"UpdatedAt":    now,
	}
	if upd.Title != nil {
		ent["Title"] = *upd.Title
	}
	if upd.Description != nil {
		ent["Description"] = *upd.Description
	}
	if upd.Category != nil {
		ent["Category"] = *upd.Category
	}
	if upd.Priority != nil {
		ent["Priority"] = *upd.Priority
	}
	if upd.DueDate != nil {
		ent["DueDate"] = *upd.DueDate
	}
	if upd.Labels != nil {
		ent["Labels"] = encodeLabels(*upd.Labels)
	}
	if upd.Completed != nil {
		ent["Completed"] = *upd.Completed
	}
	return ent
}

func taskPatchEntityFrom(owner string, p domain.TaskPatch, now int64) map[string]any {
	ent := map[string]any{
		"PartitionKey": owner,
		"RowKey":       p.ID,
		"UpdatedAt":    now,
	}
	if p.Category != nil {
		ent["Category"] = *p.Category
	}
	if p.Labels != nil {
		ent["Labels"] = encodeLabels(*p.Labels)
	}
	return ent
}

type categoryEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	CreatedAt int64  `json:"CreatedAt"`
	UpdatedAt int64  `json:"UpdatedAt"`
}

func (e categoryEntity) toCategory() domain.Category {
	return domain.Category{
		ID:        e.RowKey,
		Name:      e.Name,
		Owner:     e.PartitionKey,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

type categoryUpdateEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	UpdatedAt int64  `json:"UpdatedAt"`
}

type userEntity struct {
	aztables.Entity
	Email         string `json:"Email"`
	DisplayName   string `json:"DisplayName"`
	PasswordHash  string `json:"PasswordHash"`
	Theme         string `json:"Theme"`
	Notifications bool   `json:"Notifications"`
	EmailUpdates  bool   `json:"EmailUpdates"`
	CreatedAt     int64  `json:"CreatedAt"`
	LastLogin     int64  `json:"LastLogin"`
	UpdatedAt     int64  `json:"UpdatedAt"`
}

func userEntityFrom(p domain.UserProfile) userEntity {
	return userEntity{
		Entity:        aztables.Entity{PartitionKey: p.ID, RowKey: p.ID},
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		PasswordHash:  p.PasswordHash,
		Theme:         p.Settings.Theme,
		Notifications: p.Settings.Notifications,
		EmailUpdates:  p.Settings.EmailUpdates,
		CreatedAt:     p.CreatedAt,
		LastLogin:     p.LastLogin,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (e userEntity) toProfile() domain.UserProfile {
	return domain.UserProfile{
		ID:           e.RowKey,
		Email:        e.Email,
		DisplayName:  e.DisplayName,
		PasswordHash: e.PasswordHash,
		Settings: domain.Settings{
			Theme:         e.Theme,
			Notifications: e.Notifications,
			EmailUpdates:  e.EmailUpdates,
		},
		CreatedAt: e.CreatedAt,
		LastLogin: e.LastLogin,
		UpdatedAt: e.UpdatedAt,
	}
}

func encodeLabels(labels []string) string {
	labels = domain.NormalizeLabels(labels)
	if len(labels) == 0 {
		return "[]"
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeLabels(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var labels []string
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil
	}
	return labels
}

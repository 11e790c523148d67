// Package storage persists task, category, and user records in Azure Table
// Storage (one partition per owner) and carries change events on an Azure
// Storage Queue. Entities are marshalled into typed records at this
// boundary; nothing above it sees raw table payloads.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"

	"taskmaster/domain"
)

// transactionLimit is the Azure Tables cap on entities per transaction.
const transactionLimit = 100

// Store provides access to the underlying persistence mechanisms.
type Store struct {
	tasksTable      *aztables.Client
	categoriesTable *aztables.Client
	usersTable      *aztables.Client
	changeQueue     *azqueue.QueueClient

	now func() time.Time
}

// New creates a Store from the given connection string and table/queue names.
func New(connStr, tasksTable, categoriesTable, usersTable, changeQueue string) (*Store, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, changeQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Store{
		tasksTable:      svc.NewClient(tasksTable),
		categoriesTable: svc.NewClient(categoriesTable),
		usersTable:      svc.NewClient(usersTable),
		changeQueue:     cq,
		now:             time.Now,
	}, nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func ownerFilter(owner string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(owner, "'", "''") + "'"
}

func notFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// FetchTasks retrieves every task owned by the given user.
func (s *Store) FetchTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := ownerFilter(owner)
	pager := s.tasksTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.toTask())
		}
	}
	return tasks, nil
}

// FetchCategories retrieves every category owned by the given user.
func (s *Store) FetchCategories(ctx context.Context, owner string) ([]domain.Category, error) {
	filter := ownerFilter(owner)
	pager := s.categoriesTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	categories := []domain.Category{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent categoryEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			categories = append(categories, ent.toCategory())
		}
	}
	return categories, nil
}

// InsertTask stores a new task with server-assigned timestamps and returns
// its id.
func (s *Store) InsertTask(ctx context.Context, owner string, draft domain.TaskDraft) (string, error) {
	id := uuid.NewString()
	ent := taskEntityFrom(owner, id, draft, s.nowMillis())
	payload, err := json.Marshal(ent)
	if err != nil {
		return "", err
	}
	if _, err := s.tasksTable.AddEntity(ctx, payload, nil); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateTask merges the non-nil fields of upd into an existing task and
// re-stamps its update time.
func (s *Store) UpdateTask(ctx context.Context, owner, id string, upd domain.TaskUpdate) error {
	payload, err := json.Marshal(taskUpdateEntityFrom(owner, id, upd, s.nowMillis()))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.tasksTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if notFound(err) {
		return domain.ErrNotFound
	}
	return err
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, owner, id string) error {
	_, err := s.tasksTable.DeleteEntity(ctx, owner, id, nil)
	if notFound(err) {
		return domain.ErrNotFound
	}
	return err
}

// InsertCategory stores a new category and returns its id.
func (s *Store) InsertCategory(ctx context.Context, owner, name string) (string, error) {
	id := uuid.NewString()
	now := s.nowMillis()
	ent := categoryEntity{
		Entity:    aztables.Entity{PartitionKey: owner, RowKey: id},
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return "", err
	}
	if _, err := s.categoriesTable.AddEntity(ctx, payload, nil); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateCategory renames a category and re-stamps its update time.
func (s *Store) UpdateCategory(ctx context.Context, owner, id, name string) error {
	ent := categoryUpdateEntity{
		Entity:    aztables.Entity{PartitionKey: owner, RowKey: id},
		Name:      name,
		UpdatedAt: s.nowMillis(),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.categoriesTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if notFound(err) {
		return domain.ErrNotFound
	}
	return err
}

// DeleteCategory removes a category record. Task references are cleared
// separately via PatchTasks.
func (s *Store) DeleteCategory(ctx context.Context, owner, id string) error {
	_, err := s.categoriesTable.DeleteEntity(ctx, owner, id, nil)
	if notFound(err) {
		return domain.ErrNotFound
	}
	return err
}

// PatchTasks merges the given cascade patches into their tasks as
// all-or-nothing table transactions, chunked to the service limit.
func (s *Store) PatchTasks(ctx context.Context, owner string, patches []domain.TaskPatch) error {
	if len(patches) == 0 {
		return nil
	}
	now := s.nowMillis()
	actions := make([]aztables.TransactionAction, 0, len(patches))
	for _, p := range patches {
		payload, err := json.Marshal(taskPatchEntityFrom(owner, p, now))
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
		})
	}
	return submitChunked(ctx, s.tasksTable, actions, "task batch")
}

func submitChunked(ctx context.Context, table *aztables.Client, actions []aztables.TransactionAction, what string) error {
	for start := 0; start < len(actions); start += transactionLimit {
		end := start + transactionLimit
		if end > len(actions) {
			end = len(actions)
		}
		if _, err := table.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
	}
	return nil
}

func deleteActions(owner string, ids []string) ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(ids))
	for _, id := range ids {
		payload, err := json.Marshal(aztables.Entity{PartitionKey: owner, RowKey: id})
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeDelete,
			Entity:     payload,
		})
	}
	return actions, nil
}

// DeleteAllTasks removes every task owned by the user in transactional
// chunks.
func (s *Store) DeleteAllTasks(ctx context.Context, owner string) error {
	tasks, err := s.FetchTasks(ctx, owner)
	if err != nil {
		return err
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	actions, err := deleteActions(owner, ids)
	if err != nil {
		return err
	}
	return submitChunked(ctx, s.tasksTable, actions, "task batch")
}

// DeleteAllCategories removes every category owned by the user.
func (s *Store) DeleteAllCategories(ctx context.Context, owner string) error {
	categories, err := s.FetchCategories(ctx, owner)
	if err != nil {
		return err
	}
	ids := make([]string, len(categories))
	for i, c := range categories {
		ids[i] = c.ID
	}
	actions, err := deleteActions(owner, ids)
	if err != nil {
		return err
	}
	return submitChunked(ctx, s.categoriesTable, actions, "category batch")
}

// GetProfile retrieves a user profile, or nil when it does not exist.
func (s *Store) GetProfile(ctx context.Context, id string) (*domain.UserProfile, error) {
	ent, err := s.usersTable.GetEntity(ctx, id, id, nil)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ue userEntity
	if err := json.Unmarshal(ent.Value, &ue); err != nil {
		return nil, err
	}
	p := ue.toProfile()
	return &p, nil
}

// GetProfileByEmail looks a profile up by email, or nil when no account
// uses it.
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	filter := "Email eq '" + strings.ReplaceAll(email, "'", "''") + "'"
	pager := s.usersTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ue userEntity
			if err := json.Unmarshal(e, &ue); err != nil {
				return nil, err
			}
			p := ue.toProfile()
			return &p, nil
		}
	}
	return nil, nil
}

// InsertProfile stores a new user profile.
func (s *Store) InsertProfile(ctx context.Context, p domain.UserProfile) error {
	payload, err := json.Marshal(userEntityFrom(p))
	if err != nil {
		return err
	}
	_, err = s.usersTable.AddEntity(ctx, payload, nil)
	return err
}

func (s *Store) mergeProfile(ctx context.Context, ent any) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.usersTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if notFound(err) {
		return domain.ErrNotFound
	}
	return err
}

// StampLastLogin records a successful sign-in on the profile.
func (s *Store) StampLastLogin(ctx context.Context, id string) error {
	return s.mergeProfile(ctx, struct {
		aztables.Entity
		LastLogin int64 `json:"LastLogin"`
	}{
		Entity:    aztables.Entity{PartitionKey: id, RowKey: id},
		LastLogin: s.nowMillis(),
	})
}

// UpdateProfileName changes the profile display name.
func (s *Store) UpdateProfileName(ctx context.Context, id, displayName string) error {
	return s.mergeProfile(ctx, struct {
		aztables.Entity
		DisplayName string `json:"DisplayName"`
		UpdatedAt   int64  `json:"UpdatedAt"`
	}{
		Entity:      aztables.Entity{PartitionKey: id, RowKey: id},
		DisplayName: displayName,
		UpdatedAt:   s.nowMillis(),
	})
}

// UpdateProfileSettings replaces the profile settings toggles.
func (s *Store) UpdateProfileSettings(ctx context.Context, id string, settings domain.Settings) error {
	return s.mergeProfile(ctx, struct {
		aztables.Entity
		Theme         string `json:"Theme"`
		Notifications bool   `json:"Notifications"`
		EmailUpdates  bool   `json:"EmailUpdates"`
		UpdatedAt     int64  `json:"UpdatedAt"`
	}{
		Entity:        aztables.Entity{PartitionKey: id, RowKey: id},
		Theme:         settings.Theme,
		Notifications: settings.Notifications,
		EmailUpdates:  settings.EmailUpdates,
		UpdatedAt:     s.nowMillis(),
	})
}

// DeleteProfile removes the user profile document.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	_, err := s.usersTable.DeleteEntity(ctx, id, id, nil)
	if notFound(err) {
		return domain.ErrNotFound
	}
	return err
}

// EnqueueChange publishes a change event on the change queue.
func (s *Store) EnqueueChange(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time == 0 {
		ev.Time = s.nowMillis()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.changeQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// DequeueChange retrieves a single message from the change queue, or nil
// when the queue is empty.
func (s *Store) DequeueChange(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.changeQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// DeleteChange removes a processed message from the change queue.
func (s *Store) DeleteChange(ctx context.Context, id, receipt string) error {
	_, err := s.changeQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}

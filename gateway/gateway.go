package gateway

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// DeleteAccountPhrase must be typed verbatim to confirm account deletion.
const DeleteAccountPhrase = "DELETE"

// Store is the persistence surface the gateway mutates.
type Store interface {
	FetchTasks(ctx context.Context, owner string) ([]domain.Task, error)
	FetchCategories(ctx context.Context, owner string) ([]domain.Category, error)

	InsertTask(ctx context.Context, owner string, draft domain.TaskDraft) (string, error)
	UpdateTask(ctx context.Context, owner, id string, upd domain.TaskUpdate) error
	DeleteTask(ctx context.Context, owner, id string) error
	PatchTasks(ctx context.Context, owner string, patches []domain.TaskPatch) error
	DeleteAllTasks(ctx context.Context, owner string) error

	InsertCategory(ctx context.Context, owner, name string) (string, error)
	UpdateCategory(ctx context.Context, owner, id, name string) error
	DeleteCategory(ctx context.Context, owner, id string) error
	DeleteAllCategories(ctx context.Context, owner string) error

	UpdateProfileName(ctx context.Context, id, displayName string) error
	UpdateProfileSettings(ctx context.Context, id string, settings domain.Settings) error

	EnqueueChange(ctx context.Context, ev domain.ChangeEvent) error
}

// Identities removes accounts from the identity provider.
type Identities interface {
	DeleteIdentity(ctx context.Context, userID string) error
}

// Confirmer asks the client to approve a destructive operation before the
// gateway performs it.
type Confirmer interface {
	Confirm(ctx context.Context, req domain.ConfirmationRequest) (bool, error)
}

// Notifier receives user-facing notifications emitted by gateway
// operations.
type Notifier func(domain.Notification)

// Gateway validates and applies mutations. Every successful write enqueues
// a change notification so read models and live sessions catch up; an
// enqueue failure is logged but never fails the mutation that already
// committed.
type Gateway struct {
	store      Store
	identities Identities
	confirmer  Confirmer
	notify     Notifier
	logger     *log.Logger
}

// New creates a gateway. Confirmer and notifier may be nil: a nil
// confirmer approves everything, a nil notifier drops notifications.
func New(store Store, identities Identities, confirmer Confirmer, notify Notifier, logger *log.Logger) *Gateway {
	if store == nil {
		panic("gateway.New: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Gateway{
		store:      store,
		identities: identities,
		confirmer:  confirmer,
		notify:     notify,
		logger:     logger,
	}
}

// AddTask validates and stores a new task.
func (g *Gateway) AddTask(ctx context.Context, owner string, draft domain.TaskDraft) (string, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		g.error("Please enter a task title")
		return "", domain.ErrEmptyTitle
	}
	if draft.Priority == "" {
		draft.Priority = domain.PriorityMedium
	}

	id, err := g.store.InsertTask(ctx, owner, draft)
	if err != nil {
		g.error("Failed to add task")
		return "", fmt.Errorf("unable to add task: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionTasks)
	g.success("Task added successfully!")
	return id, nil
}

// UpdateTask applies a partial update to an existing task.
func (g *Gateway) UpdateTask(ctx context.Context, owner, id string, upd domain.TaskUpdate) error {
	if upd.Title != nil {
		trimmed := strings.TrimSpace(*upd.Title)
		if trimmed == "" {
			g.error("Please enter a task title")
			return domain.ErrEmptyTitle
		}
		upd.Title = &trimmed
	}
	if upd.Empty() {
		return nil
	}

	if err := g.store.UpdateTask(ctx, owner, id, upd); err != nil {
		g.error("Failed to update task")
		return fmt.Errorf("unable to update task: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionTasks)
	g.success("Task updated!")
	return nil
}

// ToggleComplete sets the completion flag on a task.
func (g *Gateway) ToggleComplete(ctx context.Context, owner, id string, completed bool) error {
	if err := g.store.UpdateTask(ctx, owner, id, domain.TaskUpdate{Completed: &completed}); err != nil {
		g.error("Failed to update task")
		return fmt.Errorf("unable to toggle task: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionTasks)
	return nil
}

// DeleteTask removes a task after client confirmation.
func (g *Gateway) DeleteTask(ctx context.Context, owner, id string) error {
	ok, err := g.confirm(ctx, domain.ConfirmationRequest{
		Action:  "deleteTask",
		Subject: id,
		Message: "Are you sure you want to delete this task?",
	})
	if err != nil || !ok {
		return err
	}

	if err := g.store.DeleteTask(ctx, owner, id); err != nil {
		g.error("Failed to delete task")
		return fmt.Errorf("unable to delete task: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionTasks)
	g.success("Task deleted!")
	return nil
}

// AddCategory validates and stores a new category. Names are unique per
// user, compared case-insensitively.
func (g *Gateway) AddCategory(ctx context.Context, owner, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		g.error("Please enter a category name")
		return "", domain.ErrEmptyCategoryName
	}

	categories, err := g.store.FetchCategories(ctx, owner)
	if err != nil {
		g.error("Failed to add category")
		return "", fmt.Errorf("unable to list categories: %w", err)
	}
	if findCategoryByName(categories, name, "") != nil {
		g.error("Category already exists")
		return "", domain.ErrDuplicateCategory
	}

	id, err := g.store.InsertCategory(ctx, owner, name)
	if err != nil {
		g.error("Failed to add category")
		return "", fmt.Errorf("unable to add category: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionCategories)
	g.success("Category added successfully!")
	return id, nil
}

// RenameCategory renames a category and re-points the tasks that carry the
// old name. The category write and the task rewrite are separate calls, so
// tasks can briefly reference the old name until the second lands.
func (g *Gateway) RenameCategory(ctx context.Context, owner, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		g.error("Please enter a category name")
		return domain.ErrEmptyCategoryName
	}

	categories, err := g.store.FetchCategories(ctx, owner)
	if err != nil {
		g.error("Failed to update category")
		return fmt.Errorf("unable to list categories: %w", err)
	}
	current := findCategoryByID(categories, id)
	if current == nil {
		g.error("Failed to update category")
		return domain.ErrNotFound
	}
	if findCategoryByName(categories, name, id) != nil {
		g.error("Category already exists")
		return domain.ErrDuplicateCategory
	}

	if err := g.store.UpdateCategory(ctx, owner, id, name); err != nil {
		g.error("Failed to update category")
		return fmt.Errorf("unable to rename category: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionCategories)

	if err := g.retargetTasks(ctx, owner, current.Name, name); err != nil {
		g.error("Failed to update category")
		return err
	}
	g.success("Category updated successfully!")
	return nil
}

// DeleteCategory removes a category after confirmation and moves its tasks
// to the uncategorized state.
func (g *Gateway) DeleteCategory(ctx context.Context, owner, id string) error {
	categories, err := g.store.FetchCategories(ctx, owner)
	if err != nil {
		g.error("Failed to delete category")
		return fmt.Errorf("unable to list categories: %w", err)
	}
	current := findCategoryByID(categories, id)
	if current == nil {
		g.error("Failed to delete category")
		return domain.ErrNotFound
	}

	message := "Are you sure you want to delete this category? Tasks in this category will become uncategorized."
	if tasks, err := g.store.FetchTasks(ctx, owner); err == nil {
		var referencing int
		for _, t := range tasks {
			if t.Category == current.Name {
				referencing++
			}
		}
		if referencing > 0 {
			message = fmt.Sprintf("Are you sure you want to delete this category? %d task(s) in this category will become uncategorized.", referencing)
		}
	}

	ok, err := g.confirm(ctx, domain.ConfirmationRequest{
		Action:  "deleteCategory",
		Subject: current.Name,
		Message: message,
	})
	if err != nil || !ok {
		return err
	}

	if err := g.store.DeleteCategory(ctx, owner, id); err != nil {
		g.error("Failed to delete category")
		return fmt.Errorf("unable to delete category: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionCategories)

	if err := g.retargetTasks(ctx, owner, current.Name, ""); err != nil {
		g.error("Failed to delete category")
		return err
	}
	g.success("Category deleted successfully!")
	return nil
}

// retargetTasks rewrites the category field of every task carrying oldName.
func (g *Gateway) retargetTasks(ctx context.Context, owner, oldName, newName string) error {
	tasks, err := g.store.FetchTasks(ctx, owner)
	if err != nil {
		return fmt.Errorf("unable to list tasks: %w", err)
	}

	var patches []domain.TaskPatch
	for _, t := range tasks {
		if t.Category != oldName {
			continue
		}
		target := newName
		patches = append(patches, domain.TaskPatch{ID: t.ID, Category: &target})
	}
	if len(patches) == 0 {
		return nil
	}
	if err := g.store.PatchTasks(ctx, owner, patches); err != nil {
		return fmt.Errorf("unable to retarget tasks: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionTasks)
	return nil
}

// RenameLabel rewrites the label across every task that carries it.
func (g *Gateway) RenameLabel(ctx context.Context, owner, oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		g.error("Please enter a label name")
		return domain.ErrEmptyTitle
	}
	if newName == oldName {
		return nil
	}

	changed, err := g.rewriteLabels(ctx, owner, oldName, func(labels []string) []string {
		out := make([]string, 0, len(labels))
		for _, l := range labels {
			if l == oldName {
				l = newName
			}
			out = append(out, l)
		}
		return domain.NormalizeLabels(out)
	})
	if err != nil {
		g.error("Failed to update label")
		return err
	}
	if changed {
		g.success("Label updated successfully!")
	}
	return nil
}

// DeleteLabel removes the label from every task after confirmation.
func (g *Gateway) DeleteLabel(ctx context.Context, owner, name string) error {
	ok, err := g.confirm(ctx, domain.ConfirmationRequest{
		Action:  "deleteLabel",
		Subject: name,
		Message: "Are you sure you want to delete this label? It will be removed from all tasks.",
	})
	if err != nil || !ok {
		return err
	}

	changed, err := g.rewriteLabels(ctx, owner, name, func(labels []string) []string {
		out := make([]string, 0, len(labels))
		for _, l := range labels {
			if l == name {
				continue
			}
			out = append(out, l)
		}
		return out
	})
	if err != nil {
		g.error("Failed to delete label")
		return err
	}
	if changed {
		g.success("Label deleted successfully!")
	}
	return nil
}

func (g *Gateway) rewriteLabels(ctx context.Context, owner, label string, rewrite func([]string) []string) (bool, error) {
	tasks, err := g.store.FetchTasks(ctx, owner)
	if err != nil {
		return false, fmt.Errorf("unable to list tasks: %w", err)
	}

	var patches []domain.TaskPatch
	for _, t := range tasks {
		if !t.HasLabel(label) {
			continue
		}
		labels := rewrite(t.Labels)
		patches = append(patches, domain.TaskPatch{ID: t.ID, Labels: &labels})
	}
	if len(patches) == 0 {
		return false, nil
	}
	if err := g.store.PatchTasks(ctx, owner, patches); err != nil {
		return false, fmt.Errorf("unable to rewrite labels: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionTasks)
	return true, nil
}

// UpdateProfile changes the account display name.
func (g *Gateway) UpdateProfile(ctx context.Context, owner, displayName string) error {
	if err := g.store.UpdateProfileName(ctx, owner, strings.TrimSpace(displayName)); err != nil {
		g.error("Failed to update profile")
		return fmt.Errorf("unable to update profile: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionUsers)
	g.success("Profile updated successfully!")
	return nil
}

// UpdateSettings replaces the account preference toggles.
func (g *Gateway) UpdateSettings(ctx context.Context, owner string, settings domain.Settings) error {
	if err := g.store.UpdateProfileSettings(ctx, owner, settings); err != nil {
		g.error("Failed to save settings")
		return fmt.Errorf("unable to save settings: %w", err)
	}
	g.announce(ctx, owner, domain.CollectionUsers)
	g.success("Settings saved successfully!")
	return nil
}

// DeleteAccount removes everything the user owns: tasks, then categories,
// then the profile and identity. The phrase must match DeleteAccountPhrase
// exactly. There is no rollback; a failure partway leaves earlier
// deletions in place.
func (g *Gateway) DeleteAccount(ctx context.Context, owner, phrase string) error {
	if phrase != DeleteAccountPhrase {
		g.error(`Please type "DELETE" to confirm`)
		return domain.ErrConfirmationRequired
	}

	if err := g.store.DeleteAllTasks(ctx, owner); err != nil {
		g.error("Failed to delete account")
		return fmt.Errorf("unable to delete tasks: %w", err)
	}
	if err := g.store.DeleteAllCategories(ctx, owner); err != nil {
		g.error("Failed to delete account")
		return fmt.Errorf("unable to delete categories: %w", err)
	}
	if g.identities != nil {
		if err := g.identities.DeleteIdentity(ctx, owner); err != nil {
			g.error("Failed to delete account")
			return fmt.Errorf("unable to delete identity: %w", err)
		}
	}
	g.success("Account deleted successfully")
	return nil
}

func (g *Gateway) confirm(ctx context.Context, req domain.ConfirmationRequest) (bool, error) {
	if g.confirmer == nil {
		return true, nil
	}
	ok, err := g.confirmer.Confirm(ctx, req)
	if err != nil {
		return false, fmt.Errorf("unable to confirm %s: %w", req.Action, err)
	}
	return ok, nil
}

func (g *Gateway) announce(ctx context.Context, owner, collection string) {
	ev := domain.ChangeEvent{UserID: owner, Collection: collection}
	if err := g.store.EnqueueChange(ctx, ev); err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"user":       owner,
			"collection": collection,
		}).Warn("unable to enqueue change notification")
	}
}

func (g *Gateway) success(message string) {
	if g.notify != nil {
		g.notify(domain.Notification{Message: message, Severity: domain.SeveritySuccess})
	}
}

func (g *Gateway) error(message string) {
	if g.notify != nil {
		g.notify(domain.Notification{Message: message, Severity: domain.SeverityError})
	}
}

func findCategoryByID(categories []domain.Category, id string) *domain.Category {
	for i := range categories {
		if categories[i].ID == id {
			return &categories[i]
		}
	}
	return nil
}

func findCategoryByName(categories []domain.Category, name, excludeID string) *domain.Category {
	for i := range categories {
		if categories[i].ID == excludeID {
			continue
		}
		if strings.EqualFold(categories[i].Name, name) {
			return &categories[i]
		}
	}
	return nil
}

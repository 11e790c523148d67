package api

import (
	"context"

	"taskmaster/domain"
	"taskmaster/gateway"
	"taskmaster/identity"
	"taskmaster/session"
)

// Accounts is the identity surface handlers depend on.
type Accounts interface {
	SignUp(ctx context.Context, email, password, displayName string) (domain.Identity, string, error)
	SignIn(ctx context.Context, email, password string) (domain.Identity, string, error)
	Resolve(ctx context.Context, token string) (domain.Identity, error)
	DeleteIdentity(ctx context.Context, userID string) error
	Watch(id domain.Identity) *identity.Client
}

// Profiles loads the full user document for the profile endpoint.
type Profiles interface {
	GetProfile(ctx context.Context, id string) (*domain.UserProfile, error)
}

// Store is the persistence surface mutations run against. It is the
// gateway's store; handlers construct a per-request gateway around it so
// notifications and confirmations stay scoped to the request.
type Store = gateway.Store

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type authResponse struct {
	Token    string          `json:"token"`
	Identity domain.Identity `json:"identity"`
}

type connectedEvent struct {
	ConnectionID string `json:"connectionId"`
}

type selectionRequest struct {
	ConnectionID string           `json:"connectionId"`
	Selection    domain.Selection `json:"selection"`
}

type connectionRequest struct {
	ConnectionID string `json:"connectionId"`
}

// intentRequest is one mutation submitted by the client. Type selects the
// operation; the remaining fields carry its arguments. Confirmed marks a
// resubmission of an intent the server previously answered with a
// confirmation request.
type intentRequest struct {
	Type        string             `json:"type"`
	ID          string             `json:"id,omitempty"`
	Task        *domain.TaskDraft  `json:"task,omitempty"`
	Update      *domain.TaskUpdate `json:"update,omitempty"`
	Completed   *bool              `json:"completed,omitempty"`
	Name        string             `json:"name,omitempty"`
	Label       string             `json:"label,omitempty"`
	NewName     string             `json:"newName,omitempty"`
	DisplayName string             `json:"displayName,omitempty"`
	Settings    *domain.Settings   `json:"settings,omitempty"`
	Phrase      string             `json:"phrase,omitempty"`
	Confirmed   bool               `json:"confirmed,omitempty"`
}

type intentResponse struct {
	ID            string                      `json:"id,omitempty"`
	Notifications []domain.Notification       `json:"notifications,omitempty"`
	Confirmation  *domain.ConfirmationRequest `json:"confirmation,omitempty"`
}

// Snapshots feeds the per-connection sessions.
type Snapshots = session.Snapshots

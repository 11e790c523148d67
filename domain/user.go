package domain

import "strings"

// Identity is the authenticated principal handed to sessions and stamped
// as the owner of every record.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// Settings are the per-user preference toggles stored on the profile.
type Settings struct {
	Theme         string `json:"theme"`
	Notifications bool   `json:"notifications"`
	EmailUpdates  bool   `json:"emailUpdates"`
}

// DefaultSettings returns the settings written on signup.
func DefaultSettings() Settings {
	return Settings{Theme: "light", Notifications: true, EmailUpdates: false}
}

// UserProfile is the per-user document in the users collection.
type UserProfile struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	DisplayName  string   `json:"displayName,omitempty"`
	PasswordHash string   `json:"-"`
	Settings     Settings `json:"settings"`
	CreatedAt    int64    `json:"createdAt"`
	LastLogin    int64    `json:"lastLogin"`
	UpdatedAt    int64    `json:"updatedAt"`
}

// Identity returns the identity view of the profile.
func (p UserProfile) Identity() Identity {
	return Identity{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName}
}

// DisplayNameOrDefault falls back to the local part of the email when no
// display name was chosen.
func DisplayNameOrDefault(displayName, email string) string {
	displayName = strings.TrimSpace(displayName)
	if displayName != "" {
		return displayName
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

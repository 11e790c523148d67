package domain

import "time"

// Notification severities.
const (
	SeveritySuccess = "success"
	SeverityError   = "error"
)

// NotificationDismissAfter is how long the presentation layer shows a
// notification before auto-dismissing it.
const NotificationDismissAfter = 3 * time.Second

// Notification is the outcome message emitted by the mutation gateway and
// rendered by the presentation layer.
type Notification struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// ConfirmationRequest asks the presentation layer to confirm a destructive
// intent before the gateway executes it. The core never blocks on user
// input; the answer travels back with the retried intent.
type ConfirmationRequest struct {
	Action  string `json:"action"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("record not found")

	// ErrEmptyTitle rejects task creation without a title.
	ErrEmptyTitle = errors.New("task title is empty")

	// ErrEmptyCategoryName rejects category creation or rename without a name.
	ErrEmptyCategoryName = errors.New("category name is empty")

	// ErrDuplicateCategory rejects a category whose name already exists for
	// the owner (case-insensitive).
	ErrDuplicateCategory = errors.New("category already exists")

	// ErrInvalidCredentials is returned on a failed sign-in.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailInUse is returned when signing up with a taken email.
	ErrEmailInUse = errors.New("email already in use")

	// ErrWeakPassword is returned when a signup password is too short.
	ErrWeakPassword = errors.New("password too weak")

	// ErrConfirmationRequired is returned when a destructive operation was
	// requested without the required confirmation.
	ErrConfirmationRequired = errors.New("confirmation required")
)

package model

import "errors"

var (
	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when registering an email that is already in use.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUsernameTaken is returned when registering a username that is already in use.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidCredentials is returned when login fails.
	ErrInvalidCredentials = errors.New("incorrect email or password")

	// ErrInactiveUser is returned when a deactivated user logs in.
	ErrInactiveUser = errors.New("inactive user")

	// ErrCharacterNotFound is returned when a character is missing or owned by someone else.
	ErrCharacterNotFound = errors.New("character not found")

	// ErrImageNotFound is returned when a character image is missing.
	ErrImageNotFound = errors.New("image not found")

	// ErrTaskNotFound is returned when a video task is missing or owned by someone else.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNameRequired is returned when a character has no name.
	ErrNameRequired = errors.New("name is required")

	// ErrScriptRequired is returned when a video request has no script.
	ErrScriptRequired = errors.New("script is required")

	// ErrInvalidStyle is returned for an unknown video style.
	ErrInvalidStyle = errors.New("invalid style")

	// ErrInvalidQuality is returned for an unknown video quality.
	ErrInvalidQuality = errors.New("invalid quality")

	// ErrInvalidDuration is returned for a video duration out of range.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrConcurrencyLimit is returned when a user has too many active video tasks.
	ErrConcurrencyLimit = errors.New("active video task limit exceeded")

	// ErrQueueFull is returned when the generation queue cannot take more work.
	ErrQueueFull = errors.New("generation queue is full")
)

package domain

import "errors"

var (
	// ErrEmptyQuery is returned when the CLI receives no question.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrModelUnavailable means the model server could not be reached.
	ErrModelUnavailable = errors.New("model server unavailable")
	// ErrModelNotInstalled means the server is up but does not serve the requested model.
	ErrModelNotInstalled = errors.New("model not installed on server")
	// ErrModelNotFound means no model definition matches the requested name.
	ErrModelNotFound = errors.New("model not configured")
	// ErrShellUnavailable means the command interpreter could not be started.
	ErrShellUnavailable = errors.New("shell interpreter unavailable")
	// ErrRecordNotFound is returned by history lookups.
	ErrRecordNotFound = errors.New("history record not found")
)

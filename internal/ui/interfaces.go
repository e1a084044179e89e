package ui

import "context"

// InteractiveUI defines the interface for user interactions
type InteractiveUI interface {
	// ShowMessage displays a message to the user
	ShowMessage(message string)

	// ShowCode displays the session code a receiver needs
	ShowCode(code string)

	// InputCode prompts the user for a session code
	InputCode(ctx context.Context) (string, error)
}

var _ InteractiveUI = (*ConsoleUI)(nil)

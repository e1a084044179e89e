package ui

import (
	"context"

	"fileup/pkg/utils"
)

// InputCode prompts until a valid session code is entered
func (c *ConsoleUI) InputCode(ctx context.Context) (string, error) {
	return utils.AskForCode(ctx, c.in, c.out)
}

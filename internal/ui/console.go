package ui

import (
	"fmt"
	"io"
	"sync"

	"fileup/internal/transport/peer"
	"fileup/pkg/types"
	"fileup/pkg/utils"
)

// ConsoleUI implements console-based messages for the commands
type ConsoleUI struct {
	in  io.Reader
	out io.Writer
	mu  sync.Mutex
}

// NewConsoleUI creates a console UI reading answers from in and writing to out
func NewConsoleUI(in io.Reader, out io.Writer) *ConsoleUI {
	return &ConsoleUI{in: in, out: out}
}

// ShowMessage displays a message to the user
func (c *ConsoleUI) ShowMessage(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, message)
}

// ShowCode tells the sending user which code to hand to the receiver
func (c *ConsoleUI) ShowCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\nShare this code with the receiver: %s\n\n", code)
}

// ShowStoredFile reports one file persisted by the receiver
func (c *ConsoleUI) ShowStoredFile(f types.StoredFile) {
	c.ShowMessage(fmt.Sprintf("Stored %s (%s) as %s", f.Name, utils.FormatFileSize(f.Size), f.Key))
}

// ShowReceiveSummary displays the totals of a receiving session
func (c *ConsoleUI) ShowReceiveSummary(stats peer.ReceiverStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\n=============================================\n")
	fmt.Fprintf(c.out, "Receiving finished\n")
	fmt.Fprintf(c.out, "+ Batches: %d (%d failed)\n", stats.Batches, stats.FailedBatches)
	fmt.Fprintf(c.out, "+ Files stored: %d\n", stats.Files)
	fmt.Fprintf(c.out, "+ Total bytes: %s\n", utils.FormatFileSize(stats.Bytes))
	fmt.Fprintf(c.out, "=============================================\n")
}

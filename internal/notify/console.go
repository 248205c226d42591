package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ConsoleTransport prints messages to a terminal instead of sending them.
// Dry runs use it to show what would have gone out.
type ConsoleTransport struct {
	mu     sync.Mutex
	out    io.Writer
	header *color.Color
	now    func() time.Time
}

// NewConsoleTransport writes to out, colored when colorEnabled is set.
func NewConsoleTransport(out io.Writer, colorEnabled bool) *ConsoleTransport {
	header := color.New(color.FgCyan, color.Bold)
	if !colorEnabled {
		header.DisableColor()
	}
	return &ConsoleTransport{out: out, header: header, now: time.Now}
}

// Send prints the plain-text form of text under a timestamped header.
func (c *ConsoleTransport) Send(ctx context.Context, destination, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(c.header.Sprintf("[%s] → %s", c.now().Format("15:04:05"), destination))
	sb.WriteByte('\n')
	for _, line := range strings.Split(PlainText(text), "\n") {
		sb.WriteString("    ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	_, err := fmt.Fprint(c.out, sb.String())
	return err
}

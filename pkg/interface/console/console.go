package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const menu = "Commands: status, mute, unmute, clear, quit"

// Controls are the actions the console can trigger. Nil entries are unsupported.
type Controls struct {
	SetMuted func(muted bool)
	Clear    func()
	Status   func() Status
}

// Console reads commands line by line and prints results.
type Console struct {
	in    io.Reader
	out   io.Writer
	ctl   Controls
	muted bool
}

func New(in io.Reader, out io.Writer, ctl Controls) *Console {
	return &Console{in: in, out: out, ctl: ctl}
}

// Run processes commands until quit, end of input or ctx ends.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(c.out, MutedStyle.Render(menu))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.exec(line); quit {
				return nil
			}
		}
	}
}

func (c *Console) exec(cmd string) (quit bool) {
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "":
	case "status":
		if c.ctl.Status == nil {
			fmt.Fprintln(c.out, WarningStyle.Render("status unavailable"))
			return false
		}
		s := c.ctl.Status()
		s.Muted = c.muted
		fmt.Fprintln(c.out, RenderStatus(s))
	case "mute", "unmute":
		if c.ctl.SetMuted == nil {
			fmt.Fprintln(c.out, WarningStyle.Render("no microphone"))
			return false
		}
		c.muted = cmd == "mute"
		c.ctl.SetMuted(c.muted)
		if c.muted {
			fmt.Fprintln(c.out, WarningStyle.Render("Muted"))
		} else {
			fmt.Fprintln(c.out, SuccessStyle.Render("Unmuted"))
		}
	case "clear":
		if c.ctl.Clear != nil {
			c.ctl.Clear()
		}
		fmt.Fprintln(c.out, MutedStyle.Render("Error history cleared"))
	case "quit", "exit":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintln(c.out, ErrorStyle.Render("Unknown command: "+cmd))
		fmt.Fprintln(c.out, MutedStyle.Render(menu))
	}
	return false
}

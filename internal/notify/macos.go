package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Desktop shows notices as macOS notifications via osascript.
type Desktop struct {
	// Sound is the notification sound name; empty means silent.
	Sound string
	// run executes the script; tests replace it.
	run func(ctx context.Context, script string) error
}

func NewDesktop() *Desktop {
	return &Desktop{Sound: "default", run: runOsascript}
}

func (d *Desktop) Notify(ctx context.Context, n Notice) error {
	message := n.Message
	if message == "" && n.From != "" {
		message = fmt.Sprintf("%s → %s", n.From.Label(), n.To.Label())
	}
	return d.run(ctx, desktopScript(n.Title(), message, d.Sound))
}

func desktopScript(title, message, sound string) string {
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
	if sound != "" {
		script += fmt.Sprintf(` sound name "%s"`, escapeAppleScript(sound))
	}
	return script
}

func runOsascript(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

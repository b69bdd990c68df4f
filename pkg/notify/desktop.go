package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// DesktopAdapter shows notifications through the local desktop notifier
// (notify-send on Linux, osascript on macOS). Best-effort: it is only useful
// when the controller runs on the operator's own machine.
type DesktopAdapter struct {
	goos   string
	run    func(ctx context.Context, name string, args ...string) error
	logger *slog.Logger
}

// NewDesktopAdapter creates a desktop adapter for the current OS.
func NewDesktopAdapter() *DesktopAdapter {
	return &DesktopAdapter{
		goos: runtime.GOOS,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		logger: slog.Default().With("component", "notify.desktop"),
	}
}

func (a *DesktopAdapter) Name() string { return "desktop" }

// Init verifies the platform notifier binary is on PATH.
func (a *DesktopAdapter) Init(_ context.Context) error {
	name, _, err := desktopCommand(a.goos, Notification{})
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("desktop notifier %q not found: %w", name, err)
	}
	return nil
}

func (a *DesktopAdapter) Notify(ctx context.Context, n Notification) error {
	name, args, err := desktopCommand(a.goos, n)
	if err != nil {
		return err
	}
	if err := a.run(ctx, name, args...); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func (a *DesktopAdapter) Close(_ context.Context) error { return nil }

// desktopCommand builds the notifier invocation for one notification.
func desktopCommand(goos string, n Notification) (string, []string, error) {
	switch goos {
	case "linux":
		urgency := "normal"
		if n.Severity == SeverityCritical {
			urgency = "critical"
		}
		return "notify-send", []string{
			"--urgency", urgency,
			"--app-name", "gsd-autopilot",
			n.Title,
			n.Body,
		}, nil
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			sanitizeOsascript(n.Body), sanitizeOsascript(n.Title))
		return "osascript", []string{"-e", script}, nil
	default:
		return "", nil, fmt.Errorf("desktop notifications unsupported on %s", goos)
	}
}

// sanitizeOsascript strips characters that would escape the AppleScript
// string literal.
func sanitizeOsascript(s string) string {
	s = strings.ReplaceAll(s, `\`, ``)
	return strings.ReplaceAll(s, `"`, `'`)
}

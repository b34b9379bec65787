package watch

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dyluth/lodge/pkg/board"
)

// Alerter tells the human (or agent) at the terminal that a message arrived.
// Failures are logged by the monitor and never stop delivery.
type Alerter interface {
	Name() string
	Alert(msg board.Message) error
}

var bannerColors = map[board.Priority]lipgloss.Color{
	board.PriorityLow:    lipgloss.Color("#888888"),
	board.PriorityNormal: lipgloss.Color("#5B8DEF"),
	board.PriorityHigh:   lipgloss.Color("#FF6B6B"),
}

// VisualAlerter prints a bordered banner.
type VisualAlerter struct {
	Out io.Writer
}

func (a *VisualAlerter) Name() string { return "visual" }

func (a *VisualAlerter) Alert(msg board.Message) error {
	color, ok := bannerColors[msg.Priority]
	if !ok {
		color = bannerColors[board.PriorityNormal]
	}
	title := fmt.Sprintf("📬 %s → %s  #%d", msg.From, msg.To, msg.Seq)
	if msg.Priority == board.PriorityHigh {
		title += "  [HIGH]"
	}
	if msg.Context != "" {
		title += "  (" + msg.Context + ")"
	}
	head := lipgloss.NewStyle().Bold(true).Foreground(color).Render(title)
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1).
		Render(head + "\n" + strings.TrimRight(msg.Body, "\n"))
	_, err := fmt.Fprintln(a.Out, box)
	return err
}

// BellAlerter rings the terminal bell.
type BellAlerter struct {
	Out io.Writer
}

func (a *BellAlerter) Name() string { return "sound" }

func (a *BellAlerter) Alert(board.Message) error {
	_, err := fmt.Fprint(a.Out, "\a")
	return err
}

// DesktopAlerter raises an OS notification with notify-send (Linux) or
// osascript (macOS).
type DesktopAlerter struct {
	// GOOS defaults to runtime.GOOS.
	GOOS string
	// Run executes the notifier command. Defaults to exec.Command(...).Run.
	Run func(name string, args ...string) error
}

func (a *DesktopAlerter) Name() string { return "desktop" }

func (a *DesktopAlerter) Alert(msg board.Message) error {
	run := a.Run
	if run == nil {
		run = func(name string, args ...string) error { return exec.Command(name, args...).Run() }
	}
	goos := a.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	title := "lodge: message from " + msg.From
	body := firstLine(msg.Body, 200)
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		urgency := "normal"
		if msg.Priority == board.PriorityHigh {
			urgency = "critical"
		}
		return run("notify-send", "-u", urgency, title, body)
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleQuote(body), appleQuote(title))
		return run("osascript", "-e", script)
	}
	return fmt.Errorf("desktop notifications are not supported on %s", goos)
}

func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return s
}

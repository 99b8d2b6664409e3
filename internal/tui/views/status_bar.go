package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the daemon and connection state.
type StatusBar struct {
	*tview.TextView
	instance string
	status   string
	online   int
	hints    string
	flash    string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetInstance updates the instance name display.
func (sb *StatusBar) SetInstance(name string) {
	sb.instance = name
	sb.render()
}

// SetStatus updates the daemon status and online count.
func (sb *StatusBar) SetStatus(status string, online int) {
	sb.status = status
	sb.online = online
	sb.render()
}

// SetHints shows key hints after the status.
func (sb *StatusBar) SetHints(hints string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.SetText(sb.line(time.Now()))
}

func (sb *StatusBar) line(now time.Time) string {
	status := sb.status
	switch status {
	case "SERVING":
		status = "[green]" + status + "[-]"
	case "DEGRADED", "DRAINING":
		status = "[yellow]" + status + "[-]"
	case "":
		status = "?"
	default:
		status = "[red]" + status + "[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %d online | %s", sb.instance, status, sb.online, now.Format("15:04"))
	if sb.hints != "" {
		line += " | [::d]" + sb.hints + "[-:-:-]"
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}
	return line
}

package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages and commands.
type Composer struct {
	*tview.InputField
	onSend func(text string)
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c.onSend == nil {
			return
		}
		if text := strings.TrimSpace(c.GetText()); text != "" {
			c.onSend(text)
			c.SetText("")
		}
	})

	return c
}

// SetPeer labels the input with the conversation it sends to.
func (c *Composer) SetPeer(name string) {
	if name == "" {
		c.SetLabel(" > ")
		return
	}
	c.SetLabel(fmt.Sprintf(" %s > ", sanitizeForTerminal(name)))
}

// SetOnSend sets the callback for a submitted line.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/relay/internal/tui/model"
)

// MessageView displays the conversation with one peer.
type MessageView struct {
	*tview.TextView
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// SetPeer updates the title with the peer's name.
func (mv *MessageView) SetPeer(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(name)))
}

// Update redraws lines, oldest first.
func (mv *MessageView) Update(lines []model.Line, peerName string) {
	mv.Clear()
	for _, l := range lines {
		sender := peerName
		if l.Mine {
			sender = "You"
		}
		text := tview.Escape(sanitizeForTerminal(l.Text))
		_, _ = fmt.Fprintf(mv, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n", tview.Escape(sanitizeForTerminal(sender)), formatTimestamp(l.At), text)
	}
	mv.ScrollToEnd()
}

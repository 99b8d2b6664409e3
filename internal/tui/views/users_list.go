package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/relay/internal/api"
)

// UnreadFunc reports how many unread messages came from a user.
type UnreadFunc func(userID int64) int

// UserList is the table of online users a conversation can be opened with.
type UserList struct {
	*tview.Table
	users []api.User
}

// NewUserList creates the online users table.
func NewUserList() *UserList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Online ")
	return &UserList{Table: table}
}

// Update redraws the table, keeping the selected user when it is still online.
func (ul *UserList) Update(users []api.User, unread UnreadFunc) {
	selected := ul.SelectedUser()
	ul.users = users
	ul.Clear()

	ul.SetCell(0, 0, tview.NewTableCell(" ID").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	ul.SetCell(0, 1, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	ul.SetCell(0, 2, tview.NewTableCell(" Last Seen").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, u := range users {
		row := i + 1
		name := sanitizeForTerminal(u.Name)
		if n := unread(u.ID); n > 0 {
			name = fmt.Sprintf("* %s (%d)", name, n)
		}
		ul.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf(" %d", u.ID)).SetMaxWidth(8))
		ul.SetCell(row, 1, tview.NewTableCell(" "+name).SetMaxWidth(40).SetExpansion(1))
		ul.SetCell(row, 2, tview.NewTableCell(" "+lastSeen(u.LastSeenMs)).SetMaxWidth(12))
		if u.ID == selected {
			ul.Select(row, 0)
		}
	}
}

// SelectedUser returns the ID of the highlighted user, 0 if none.
func (ul *UserList) SelectedUser() int64 {
	row, _ := ul.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(ul.users) {
		return ul.users[idx].ID
	}
	return 0
}

func lastSeen(ms *int64) string {
	if ms == nil {
		return "now"
	}
	return formatTimestamp(time.UnixMilli(*ms))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

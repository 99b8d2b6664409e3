package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/relay/internal/tui/client"
	"github.com/matheus3301/relay/internal/tui/keys"
	"github.com/matheus3301/relay/internal/tui/model"
	"github.com/matheus3301/relay/internal/tui/views"
)

const (
	pageUsers = "users"
	pageChat  = "chat"

	historyLimit = 50
	flashTTL     = 5 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	chat      *client.Chat
	registry  *keys.Registry
	statusBar *views.StatusBar
	userList  *views.UserList
	msgView   *views.MessageView
	composer  *views.Composer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI over the daemon control client c and the chat
// connection of the signed-in user.
func NewApp(c *client.Client, chat *client.Chat, instanceName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c.Control),
		chat:      chat,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		userList:  views.NewUserList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetInstance(instanceName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Name: "quit", Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddGlobal(&keys.Action{
		Name: "refresh", Key: tcell.KeyCtrlR,
		Description: "^R:refresh", Visible: true,
		Handler: func() { go a.reload() },
	})
	a.registry.AddView(pageChat, &keys.Action{
		Name: "compose", Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer) },
	})
	a.registry.AddView(pageChat, &keys.Action{
		Name: "ping", Rune: 'p', Key: tcell.KeyRune,
		Description: "p:ping", Visible: true,
		Handler: func() {
			if err := a.chat.Ping(a.ctx); err != nil {
				a.vm.Flash("Ping failed: "+err.Error(), flashTTL)
			}
		},
	})
	a.registry.AddView(pageUsers, &keys.Action{
		Name: "compose", Rune: '/', Key: tcell.KeyRune,
		Description: "/:command", Visible: true,
		Handler: func() {
			a.pages.SwitchToPage(pageChat)
			a.composer.SetText("/")
			a.app.SetFocus(a.composer)
		},
	})
}

func (a *App) setupCallbacks() {
	a.userList.SetSelectedFunc(func(row, col int) {
		if id := a.userList.SelectedUser(); id != 0 {
			a.openPeer(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		cmd, err := ParseCommand(text)
		if err != nil {
			a.vm.Flash(err.Error(), flashTTL)
			return
		}
		a.run(cmd)
	})
}

func (a *App) run(cmd Command) {
	switch cmd.Name {
	case CmdSay:
		peer := a.vm.Active()
		if peer == 0 {
			a.vm.Flash("No conversation open: use /to <id>", flashTTL)
			return
		}
		a.send(peer, cmd.Args)
	case CmdTo:
		a.openPeer(cmd.ID)
		if cmd.Args != "" {
			a.send(cmd.ID, cmd.Args)
		}
	case CmdRoom:
		if cmd.Args == "" {
			a.vm.Flash("usage: /room <id> <message>", flashTTL)
			return
		}
		room := cmd.ID
		a.vm.Sending(0)
		go func() {
			if err := a.chat.Send(a.ctx, nil, &room, cmd.Args); err != nil {
				a.vm.Flash("Send failed: "+err.Error(), flashTTL)
				return
			}
			a.vm.Flash(fmt.Sprintf("Posted to room %d", room), flashTTL)
		}()
	case CmdHistory:
		if peer := a.vm.Active(); peer != 0 {
			go a.loadHistory(peer)
		}
	case CmdQuit:
		a.Stop()
	}
}

func (a *App) send(peer int64, text string) {
	a.vm.Sending(peer)
	go func() {
		if err := a.chat.Send(a.ctx, &peer, nil, text); err != nil {
			a.vm.Flash("Send failed: "+err.Error(), flashTTL)
		}
	}()
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageUsers, a.userList, true, true)
	a.pages.AddPage(pageChat, chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == pageChat {
			a.pages.SwitchToPage(pageUsers)
			a.app.SetFocus(a.userList)
			a.statusBar.SetHints(a.registry.HintLine(pageUsers))
			return nil
		}

		// Text input keeps every other key.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

func (a *App) openPeer(peer int64) {
	a.vm.Open(peer)
	name := a.peerName(peer)
	a.msgView.SetPeer(name)
	a.composer.SetPeer(name)
	a.pages.SwitchToPage(pageChat)
	a.app.SetFocus(a.composer)
	go a.loadHistory(peer)
}

func (a *App) loadHistory(peer int64) {
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	msgs, err := a.chat.History(ctx, peer, historyLimit)
	if err != nil {
		a.vm.Flash("History failed: "+err.Error(), flashTTL)
		return
	}
	a.vm.SetHistory(peer, msgs)
}

func (a *App) peerName(peer int64) string {
	for _, u := range a.vm.OnlineUsers() {
		if u.ID == peer && u.Name != "" {
			return u.Name
		}
	}
	return fmt.Sprintf("user %d", peer)
}

// Run starts the TUI application.
func (a *App) Run() error {
	go a.pumpFrames()
	go a.reload()
	go a.refreshLoop()
	return a.app.Run()
}

func (a *App) reload() {
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := a.vm.LoadStatus(ctx); err != nil {
		a.vm.Flash("Daemon unreachable: "+err.Error(), flashTTL)
		return
	}
	_ = a.vm.LoadOnlineUsers(ctx)
}

func (a *App) pumpFrames() {
	for out := range a.chat.Frames() {
		a.vm.Apply(out)
	}
	if a.ctx.Err() == nil {
		a.vm.Flash(fmt.Sprintf("Disconnected: %v", a.chat.Err()), time.Hour)
	}
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(a.redraw)
		case <-ticker.C:
			a.reload()
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) redraw() {
	page, _ := a.pages.GetFrontPage()
	online := a.vm.OnlineUsers()
	a.userList.Update(online, a.vm.Unread)
	if peer := a.vm.Active(); peer != 0 {
		a.msgView.Update(a.vm.Lines(peer), a.peerName(peer))
	}
	status := ""
	if s := a.vm.Status(); s != nil {
		status = s.Status
	}
	a.statusBar.SetStatus(status, len(online))
	a.statusBar.SetHints(a.registry.HintLine(page))
	a.statusBar.SetFlash(a.vm.FlashMessage())
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	_ = a.chat.Close()
	a.app.Stop()
}

package model

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/frame"
	"github.com/matheus3301/relay/internal/tui/client"
)

// Control is the part of the daemon control API the view model reads.
type Control interface {
	GetStatus(ctx context.Context, in *api.GetStatusRequest, opts ...grpc.CallOption) (*api.GetStatusResponse, error)
	ListOnlineUsers(ctx context.Context, in *api.ListOnlineUsersRequest, opts ...grpc.CallOption) (*api.ListOnlineUsersResponse, error)
}

// Line is one rendered chat message.
type Line struct {
	ChatID   int64
	SenderID int64
	Text     string
	At       time.Time
	Mine     bool
}

// ViewModel caches daemon state and live frames and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	control Control
	status  *api.GetStatusResponse
	me      int64
	online  []api.User
	convs   map[int64][]Line
	unread  map[int64]int
	active  int64
	pending []int64
	flash   string
	expires time.Time

	refreshCh chan struct{}
}

// NewViewModel creates a view model reading from control.
func NewViewModel(control Control) *ViewModel {
	return &ViewModel{
		control:   control,
		convs:     make(map[int64][]Line),
		unread:    make(map[int64]int),
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.control.GetStatus(ctx, &api.GetStatusRequest{})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadOnlineUsers replaces the online list from the daemon.
func (vm *ViewModel) LoadOnlineUsers(ctx context.Context) error {
	resp, err := vm.control.ListOnlineUsers(ctx, &api.ListOnlineUsersRequest{})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.online = resp.Users
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// SetHistory replaces the conversation with peer by server history.
func (vm *ViewModel) SetHistory(peer int64, msgs []client.Message) {
	lines := make([]Line, 0, len(msgs))
	vm.mu.Lock()
	for _, m := range msgs {
		at, _ := time.Parse(time.RFC3339Nano, m.CreatedAt)
		lines = append(lines, Line{ChatID: m.ID, SenderID: m.SenderID, Text: m.Message, At: at, Mine: m.SenderID == vm.me})
	}
	vm.convs[peer] = lines
	vm.mu.Unlock()
	vm.signalRefresh()
}

// Open makes peer the active conversation and clears its unread count.
func (vm *ViewModel) Open(peer int64) {
	vm.mu.Lock()
	vm.active = peer
	delete(vm.unread, peer)
	vm.mu.Unlock()
	vm.signalRefresh()
}

// Sending records that the next message_sent echo belongs to peer.
func (vm *ViewModel) Sending(peer int64) {
	vm.mu.Lock()
	vm.pending = append(vm.pending, peer)
	vm.mu.Unlock()
}

// Apply folds one server frame into the cached state.
func (vm *ViewModel) Apply(out frame.Outbound) {
	vm.mu.Lock()
	switch out.Type {
	case frame.TypeConnected:
		vm.me = out.UserID
	case frame.TypeUserStatusUpdate:
		vm.setOnline(out.UserID, out.IsOnline)
	case frame.TypeNotification:
		if out.Data != nil {
			peer := out.Data.SenderID
			vm.convs[peer] = append(vm.convs[peer], lineFrom(out.Data, false))
			if peer != vm.active {
				vm.unread[peer]++
			}
		}
	case frame.TypeMessageSent:
		if out.Data != nil && len(vm.pending) > 0 {
			peer := vm.pending[0]
			vm.pending = vm.pending[1:]
			vm.convs[peer] = append(vm.convs[peer], lineFrom(out.Data, true))
		}
	case frame.TypeError:
		vm.setFlash(out.Message, 5*time.Second)
	}
	vm.mu.Unlock()
	vm.signalRefresh()
}

func lineFrom(d *frame.ChatData, mine bool) Line {
	l := Line{ChatID: d.ChatID, SenderID: d.SenderID, Text: d.Message, Mine: mine}
	if d.CreatedAt != nil {
		l.At, _ = time.Parse(time.RFC3339Nano, *d.CreatedAt)
	}
	return l
}

func (vm *ViewModel) setOnline(user int64, online bool) {
	i := slices.IndexFunc(vm.online, func(u api.User) bool { return u.ID == user })
	switch {
	case online && i < 0:
		vm.online = append(vm.online, api.User{ID: user, Name: fmt.Sprintf("user %d", user), IsOnline: true})
		slices.SortFunc(vm.online, func(a, b api.User) int { return cmp.Compare(a.ID, b.ID) })
	case !online && i >= 0:
		vm.online = slices.Delete(vm.online, i, i+1)
	}
}

// Flash stores a transient message that expires after d.
func (vm *ViewModel) Flash(msg string, d time.Duration) {
	vm.mu.Lock()
	vm.setFlash(msg, d)
	vm.mu.Unlock()
	vm.signalRefresh()
}

func (vm *ViewModel) setFlash(msg string, d time.Duration) {
	vm.flash = msg
	vm.expires = time.Now().Add(d)
}

// FlashMessage returns the current flash message, or empty if expired.
func (vm *ViewModel) FlashMessage() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if time.Now().After(vm.expires) {
		return ""
	}
	return vm.flash
}

// Me returns the connected user's ID, 0 before the handshake.
func (vm *ViewModel) Me() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.me
}

// Active returns the open conversation's peer, 0 if none.
func (vm *ViewModel) Active() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// Status returns a snapshot of daemon status.
func (vm *ViewModel) Status() *api.GetStatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// OnlineUsers returns a snapshot of the online list, excluding the user itself.
func (vm *ViewModel) OnlineUsers() []api.User {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]api.User, 0, len(vm.online))
	for _, u := range vm.online {
		if u.ID != vm.me {
			out = append(out, u)
		}
	}
	return out
}

// Lines returns a snapshot of the conversation with peer.
func (vm *ViewModel) Lines(peer int64) []Line {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.convs[peer])
}

// Unread returns the number of messages from peer received while it was not open.
func (vm *ViewModel) Unread(peer int64) int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.unread[peer]
}

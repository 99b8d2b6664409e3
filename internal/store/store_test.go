package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustUser(t *testing.T, db *DB, name string) *User {
	t.Helper()
	u, err := db.CreateUser(context.Background(), name, name+"@example.com")
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", name, err)
	}
	return u
}

func ptr[T any](v T) *T { return &v }

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != 1 {
		t.Errorf("SchemaVersion() = %d, want 1", v)
	}
}

func TestUserLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	u := mustUser(t, db, "alice")
	if !u.IsActive || u.IsOnline || u.LastSeen != nil {
		t.Errorf("new user = %+v, want active, offline, no last_seen", u)
	}

	byEmail, err := db.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if byEmail.ID != u.ID {
		t.Errorf("GetUserByEmail ID = %d, want %d", byEmail.ID, u.ID)
	}

	at := time.UnixMilli(time.Now().UnixMilli())
	if err := db.SetUserOnlineState(ctx, u.ID, true, at); err != nil {
		t.Fatalf("SetUserOnlineState() error = %v", err)
	}
	got, _ := db.GetUser(ctx, u.ID)
	if !got.IsOnline || got.LastSeen == nil || !got.LastSeen.Equal(at) {
		t.Errorf("after online: is_online=%v last_seen=%v, want true %v", got.IsOnline, got.LastSeen, at)
	}

	if err := db.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetUserActive() error = %v", err)
	}
	got, _ = db.GetUser(ctx, u.ID)
	if got.IsActive {
		t.Error("user still active")
	}
}

func TestUserErrors(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustUser(t, db, "alice")

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"get missing", func() error { _, err := db.GetUser(ctx, 999); return err }, ErrNotFound},
		{"email missing", func() error { _, err := db.GetUserByEmail(ctx, "nobody@example.com"); return err }, ErrNotFound},
		{"online missing", func() error { return db.SetUserOnlineState(ctx, 999, false, time.Now()) }, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := db.CreateUser(ctx, "dup", "alice@example.com"); !errors.Is(err, ErrConflict) {
		t.Errorf("CreateUser() duplicate email error = %v, want ErrConflict", err)
	}
}

func TestGetUsers(t *testing.T) {
	db := testDB(t)
	a := mustUser(t, db, "alice")
	b := mustUser(t, db, "bob")

	users, err := db.GetUsers(context.Background(), []int64{b.ID, 999, a.ID})
	if err != nil {
		t.Fatalf("GetUsers() error = %v", err)
	}
	if len(users) != 2 || users[0].ID != a.ID || users[1].ID != b.ID {
		t.Errorf("GetUsers() = %+v, want alice then bob", users)
	}

	none, err := db.GetUsers(context.Background(), nil)
	if err != nil || none != nil {
		t.Errorf("GetUsers(nil) = %v, %v", none, err)
	}
}

func TestSaveAndGetMessage(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustUser(t, db, "alice")
	b := mustUser(t, db, "bob")

	delivered := time.UnixMilli(time.Now().UnixMilli())
	m := &ChatMessage{SenderID: a.ID, ReceiverID: ptr(b.ID), Body: "hi", Type: MessagePrivate, DeliveredAt: &delivered}
	if err := db.SaveMessage(ctx, m); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	if m.ID == 0 {
		t.Fatal("SaveMessage() did not set ID")
	}

	got, err := db.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if got.Body != "hi" || got.Type != MessagePrivate || got.IsRead {
		t.Errorf("GetMessage() = %+v", got)
	}
	if got.ReceiverID == nil || *got.ReceiverID != b.ID {
		t.Errorf("ReceiverID = %v, want %d", got.ReceiverID, b.ID)
	}
	if got.RoomID != nil || got.ParentMessageID != nil {
		t.Errorf("unexpected room/parent: %v %v", got.RoomID, got.ParentMessageID)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(delivered) {
		t.Errorf("DeliveredAt = %v, want %v", got.DeliveredAt, delivered)
	}

	if _, err := db.GetMessage(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMessage(999) error = %v, want ErrNotFound", err)
	}
}

func TestSaveMessageUnknownReceiver(t *testing.T) {
	db := testDB(t)
	a := mustUser(t, db, "alice")

	err := db.SaveMessage(context.Background(), &ChatMessage{SenderID: a.ID, ReceiverID: ptr(int64(999)), Body: "x"})
	if !errors.Is(err, ErrUnknownReference) {
		t.Fatalf("SaveMessage() error = %v, want ErrUnknownReference", err)
	}
	if strings.Contains(err.Error(), "FOREIGN KEY") {
		t.Errorf("error %q leaks the SQL constraint", err)
	}
}

func TestListMessages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustUser(t, db, "alice")
	b := mustUser(t, db, "bob")
	c := mustUser(t, db, "carol")
	room, err := db.CreateRoom(ctx, "general", "", false, a.ID)
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Hour)
	save := func(i int, m ChatMessage) {
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := db.SaveMessage(ctx, &m); err != nil {
			t.Fatal(err)
		}
	}
	save(0, ChatMessage{SenderID: a.ID, ReceiverID: ptr(b.ID), Body: "a->b 1"})
	save(1, ChatMessage{SenderID: b.ID, ReceiverID: ptr(a.ID), Body: "b->a"})
	save(2, ChatMessage{SenderID: a.ID, ReceiverID: ptr(c.ID), Body: "a->c"})
	save(3, ChatMessage{SenderID: a.ID, ReceiverID: ptr(b.ID), Body: "a->b 2"})
	save(4, ChatMessage{SenderID: a.ID, RoomID: ptr(room.ID), Body: "room", Type: MessageGroup})
	save(5, ChatMessage{SenderID: c.ID, ReceiverID: ptr(b.ID), Body: "c->b"})

	bodies := func(msgs []ChatMessage) []string {
		out := make([]string, len(msgs))
		for i, m := range msgs {
			out[i] = m.Body
		}
		return out
	}

	tests := []struct {
		name string
		f    MessageFilter
		want []string
	}{
		{"all for alice", MessageFilter{UserID: a.ID}, []string{"a->b 1", "b->a", "a->c", "a->b 2", "room"}},
		{"alice with bob", MessageFilter{UserID: a.ID, PeerID: ptr(b.ID)}, []string{"a->b 1", "b->a", "a->b 2"}},
		{"bob with alice", MessageFilter{UserID: b.ID, PeerID: ptr(a.ID)}, []string{"a->b 1", "b->a", "a->b 2"}},
		{"limit keeps newest", MessageFilter{UserID: a.ID, PeerID: ptr(b.ID), Limit: 2}, []string{"b->a", "a->b 2"}},
		{"offset", MessageFilter{UserID: a.ID, PeerID: ptr(b.ID), Limit: 2, Offset: 2}, []string{"a->b 1"}},
		{"room for owner", MessageFilter{UserID: a.ID, RoomID: ptr(room.ID)}, []string{"room"}},
		{"room for outsider", MessageFilter{UserID: b.ID, RoomID: ptr(room.ID)}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := db.ListMessages(ctx, tt.f)
			if err != nil {
				t.Fatalf("ListMessages() error = %v", err)
			}
			got := bodies(msgs)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestNotifications(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustUser(t, db, "alice")
	b := mustUser(t, db, "bob")

	m := &ChatMessage{SenderID: a.ID, ReceiverID: ptr(b.ID), Body: "hi"}
	if err := db.SaveMessage(ctx, m); err != nil {
		t.Fatal(err)
	}
	base := time.Now().Add(-time.Minute)
	n1 := &Notification{UserID: b.ID, Title: "New Message", Body: "hi", Type: NotificationChat, RelatedChatID: &m.ID, CreatedAt: base}
	n2 := &Notification{UserID: b.ID, Title: "System", Body: "welcome", Type: "system", CreatedAt: base.Add(time.Second)}
	for _, n := range []*Notification{n1, n2} {
		if err := db.SaveNotification(ctx, n); err != nil {
			t.Fatalf("SaveNotification() error = %v", err)
		}
	}

	list, err := db.ListNotifications(ctx, b.ID, false, 0, 0)
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != n2.ID || list[1].ID != n1.ID {
		t.Fatalf("ListNotifications() order = %+v, want newest first", list)
	}
	if list[1].SenderID == nil || *list[1].SenderID != a.ID {
		t.Errorf("SenderID = %v, want %d", list[1].SenderID, a.ID)
	}
	if list[0].SenderID != nil {
		t.Errorf("SenderID for unrelated notification = %v, want nil", *list[0].SenderID)
	}

	if count, _ := db.UnreadCount(ctx, b.ID); count != 2 {
		t.Errorf("UnreadCount() = %d, want 2", count)
	}

	read, err := db.MarkNotificationRead(ctx, n1.ID, time.Now())
	if err != nil {
		t.Fatalf("MarkNotificationRead() error = %v", err)
	}
	if !read.IsRead || read.ReadAt == nil {
		t.Errorf("MarkNotificationRead() = %+v", read)
	}
	if _, err := db.MarkNotificationRead(ctx, 999, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkNotificationRead(999) error = %v, want ErrNotFound", err)
	}

	unread, _ := db.ListNotifications(ctx, b.ID, true, 0, 0)
	if len(unread) != 1 || unread[0].ID != n2.ID {
		t.Errorf("unread = %+v, want only n2", unread)
	}

	changed, err := db.MarkAllNotificationsRead(ctx, b.ID, time.Now())
	if err != nil || changed != 1 {
		t.Errorf("MarkAllNotificationsRead() = %d, %v, want 1", changed, err)
	}
	if count, _ := db.UnreadCount(ctx, b.ID); count != 0 {
		t.Errorf("UnreadCount() after read-all = %d, want 0", count)
	}
	if count, _ := db.UnreadCount(ctx, a.ID); count != 0 {
		t.Errorf("UnreadCount(alice) = %d, want 0", count)
	}
}

func TestRooms(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustUser(t, db, "alice")
	b := mustUser(t, db, "bob")

	room, err := db.CreateRoom(ctx, "general", "everyone", true, a.ID)
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	if room.Name != "general" || !room.IsPrivate || room.CreatedByID != a.ID {
		t.Errorf("CreateRoom() = %+v", room)
	}

	if err := db.AddParticipant(ctx, room.ID, b.ID, ""); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	if err := db.AddParticipant(ctx, room.ID, b.ID, RoleOwner); err != nil {
		t.Fatalf("second AddParticipant() error = %v", err)
	}

	parts, err := db.ListParticipants(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListParticipants() error = %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("participants = %+v, want 2", parts)
	}
	if parts[0].UserID != a.ID || parts[0].Role != RoleOwner {
		t.Errorf("first participant = %+v, want owner alice", parts[0])
	}
	if parts[1].UserID != b.ID || parts[1].Role != RoleMember {
		t.Errorf("second participant = %+v, want member bob", parts[1])
	}

	if _, err := db.GetRoom(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRoom(999) error = %v, want ErrNotFound", err)
	}
}
